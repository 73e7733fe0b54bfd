package chat

import (
	"context"
	"sync"
)

type emittedEvent struct {
	event   string
	payload interface{}
}

// fakeTransport records emits and lets tests drive observer callbacks by hand.
type fakeTransport struct {
	obs  Observers
	echo func(OutboundMessage) (InboundMessage, bool)

	mu        sync.Mutex
	connected bool
	emitted   []emittedEvent
	closes    int
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Emit(event string, payload interface{}) error {
	t.mu.Lock()
	t.emitted = append(t.emitted, emittedEvent{event: event, payload: payload})
	echo := t.echo
	t.mu.Unlock()

	if msg, ok := payload.(OutboundMessage); ok && echo != nil {
		if reply, ok := echo(msg); ok {
			t.obs.OnMessage(reply)
		}
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.connected = false
	t.mu.Unlock()

	t.obs.OnClose("client disconnect")
	return nil
}

func (t *fakeTransport) open() {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.obs.OnOpen()
}

func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *fakeTransport) remoteClose(reason string) {
	t.drop()
	t.obs.OnClose(reason)
}

func (t *fakeTransport) emitCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.emitted)
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

type fakeDialer struct {
	openOnDial bool
	echo       func(OutboundMessage) (InboundMessage, bool)
	err        error

	mu         sync.Mutex
	options    []DialOptions
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, opts DialOptions, obs Observers) (Transport, error) {
	if d.err != nil {
		return nil, d.err
	}

	t := &fakeTransport{obs: obs, echo: d.echo}

	d.mu.Lock()
	d.options = append(d.options, opts)
	d.transports = append(d.transports, t)
	d.mu.Unlock()

	if d.openOnDial {
		t.open()
	}
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func staticToken(token string) CredentialFunc {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

func newTestSession(dialer Dialer) *Session {
	return NewSession(Config{
		Credentials: staticToken("test-token"),
		Dialer:      dialer,
	})
}
