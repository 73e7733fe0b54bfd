package chat

import "sync"

// Registry keeps at most one live Session per process. It is built at the composition point
// and handed to the layers that need a session.
type Registry struct {
	factory func() *Session

	mu      sync.Mutex
	session *Session
}

// NewRegistry creates a registry that builds sessions with factory. A nil factory builds
// sessions from a zero Config, which have no credential provider and fail to connect with
// ErrAuthenticationUnavailable.
func NewRegistry(factory func() *Session) *Registry {
	if factory == nil {
		factory = func() *Session { return NewSession(Config{}) }
	}
	return &Registry{factory: factory}
}

// Get returns the live session, building a new one if none exists or the stored one was torn
// down. It never connects the session.
func (r *Registry) Get() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Closed() {
		r.session = r.factory()
	}
	return r.session
}

// Release disconnects the stored session, if any, and forgets it.
func (r *Registry) Release() {
	r.mu.Lock()
	session := r.session
	r.session = nil
	r.mu.Unlock()

	if session != nil {
		session.Disconnect()
	}
}
