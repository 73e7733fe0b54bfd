package chat

import "context"

// Transport is a live full-duplex channel produced by a Dialer.
type Transport interface {
	// Connected reports the transport's own view of the link, independent of session state.
	Connected() bool
	// Emit writes one event without waiting for acknowledgment.
	Emit(event string, payload interface{}) error
	// Close tears the channel down. The transport fires OnClose at most once.
	Close() error
}

// Observers are the callbacks a Session registers on a transport when dialing.
// A transport may invoke them from any goroutine, including synchronously inside Dial.
type Observers struct {
	OnOpen        func()
	OnOpenFailure func(err error)
	OnClose       func(reason string)
	OnMessage     func(msg InboundMessage)
	OnError       func(err error)
}

// DialOptions carry the namespace and credential parameters for a connection.
// The credential is placed in both Auth and Query; transports differ in which one they honor.
type DialOptions struct {
	Namespace string
	Auth      map[string]string
	Query     map[string]string
}

// Dialer opens transports. Dial must return once the transport object exists and report the
// handshake outcome through the observers.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions, obs Observers) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, opts DialOptions, obs Observers) (Transport, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts DialOptions, obs Observers) (Transport, error) {
	return f(ctx, opts, obs)
}

// CredentialProvider returns a bearer token, or an empty string when none is available.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to the CredentialProvider interface.
type CredentialFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f CredentialFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Recorder receives session telemetry. Implementations must be safe for concurrent use.
type Recorder interface {
	ConnectAttempt(result string)
	PhaseChanged(phase Phase)
	MessageSent()
	MessageReceived()
	TransportError()
	Closed()
}

type nopRecorder struct{}

func (nopRecorder) ConnectAttempt(string) {}
func (nopRecorder) PhaseChanged(Phase)    {}
func (nopRecorder) MessageSent()          {}
func (nopRecorder) MessageReceived()      {}
func (nopRecorder) TransportError()       {}
func (nopRecorder) Closed()               {}
