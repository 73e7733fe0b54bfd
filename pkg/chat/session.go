package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config holds session configuration
type Config struct {
	Namespace   string
	Credentials CredentialProvider
	Dialer      Dialer
	Recorder    Recorder
	Logger      zerolog.Logger
}

// Session owns one transport connection and fans its events out to handlers.
type Session struct {
	namespace   string
	credentials CredentialProvider
	dialer      Dialer
	recorder    Recorder
	logger      zerolog.Logger

	mu         sync.Mutex
	phase      Phase
	transport  Transport
	connecting bool
	attempt    uint64
	spent      bool

	// generation identifies the attached transport; observers from older generations are ignored.
	generation atomic.Uint64

	messageHandlers handlerSet[MessageHandler]
	errorHandlers   handlerSet[ErrorHandler]
	closeHandlers   handlerSet[CloseHandler]
}

// NewSession creates an idle session. It never connects on its own.
func NewSession(cfg Config) *Session {
	namespace := strings.TrimSpace(cfg.Namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Session{
		namespace:   namespace,
		credentials: cfg.Credentials,
		dialer:      cfg.Dialer,
		recorder:    recorder,
		logger:      cfg.Logger.With().Str("component", "chat-session").Logger(),
		phase:       PhaseIdle,
	}
}

// Connect fetches a credential and opens the transport. It returns once the transport exists;
// the open, error and close handlers report how the handshake turns out.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.spent {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.phase != PhaseIdle || s.connecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.connecting = true
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	token, err := s.fetchCredential(ctx)
	if err != nil {
		s.mu.Lock()
		if s.attempt == attempt {
			s.connecting = false
		}
		s.mu.Unlock()
		s.recorder.ConnectAttempt("auth_unavailable")
		s.logger.Warn().Err(err).Msg("No credential available for chat session")
		return err
	}

	s.mu.Lock()
	if !s.connecting || s.attempt != attempt {
		s.mu.Unlock()
		s.recorder.ConnectAttempt("canceled")
		return ErrConnectCanceled
	}
	s.connecting = false
	gen := s.generation.Add(1)
	s.phase = PhaseConnecting
	s.mu.Unlock()
	s.recorder.PhaseChanged(PhaseConnecting)

	if s.dialer == nil {
		s.resetAfterDialFailure(gen)
		return fmt.Errorf("failed to open transport: dialer is required")
	}

	opts := DialOptions{
		Namespace: s.namespace,
		Auth:      map[string]string{"token": token},
		Query:     map[string]string{"token": token},
	}

	s.logger.Info().Str("namespace", s.namespace).Msg("Connecting chat session")

	transport, err := s.dialer.Dial(ctx, opts, s.observers(gen))
	if err != nil {
		s.resetAfterDialFailure(gen)
		s.recorder.ConnectAttempt("dial_error")
		return fmt.Errorf("failed to open transport: %w", err)
	}

	s.mu.Lock()
	if !s.current(gen) {
		// Disconnect or a terminal close ran while Dial was in progress.
		s.mu.Unlock()
		if cerr := transport.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("Failed to close detached transport")
		}
		s.recorder.ConnectAttempt("canceled")
		return ErrConnectCanceled
	}
	s.transport = transport
	s.mu.Unlock()

	s.recorder.ConnectAttempt("dialed")
	return nil
}

func (s *Session) fetchCredential(ctx context.Context) (string, error) {
	if s.credentials == nil {
		return "", fmt.Errorf("%w: no credential provider configured", ErrAuthenticationUnavailable)
	}

	token, err := s.credentials.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthenticationUnavailable, err)
	}
	if strings.TrimSpace(token) == "" {
		return "", ErrAuthenticationUnavailable
	}
	return token, nil
}

func (s *Session) resetAfterDialFailure(gen uint64) {
	s.mu.Lock()
	reset := s.current(gen) && s.phase == PhaseConnecting
	if reset {
		s.phase = PhaseIdle
	}
	s.mu.Unlock()

	if reset {
		s.recorder.PhaseChanged(PhaseIdle)
	}
}

// SendMessage writes msg to the transport without waiting for a reply.
// Replies arrive through message handlers.
func (s *Session) SendMessage(msg OutboundMessage) error {
	s.mu.Lock()
	transport := s.transport
	open := s.phase == PhaseOpen
	s.mu.Unlock()

	if !open || transport == nil || !transport.Connected() {
		return ErrNotConnected
	}

	if err := transport.Emit(EventMessage, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	s.recorder.MessageSent()
	return nil
}

// SubscribeMessage registers a handler for inbound messages.
func (s *Session) SubscribeMessage(handler MessageHandler) Unsubscribe {
	return s.messageHandlers.add(handler)
}

// SubscribeError registers a handler for transport failures.
func (s *Session) SubscribeError(handler ErrorHandler) Unsubscribe {
	return s.errorHandlers.add(handler)
}

// SubscribeClose registers a handler notified when the channel closes.
func (s *Session) SubscribeClose(handler CloseHandler) Unsubscribe {
	return s.closeHandlers.add(handler)
}

// IsConnected reports whether a transport is attached and the transport itself reports a live link.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	return transport != nil && transport.Connected()
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Closed reports whether the session has been torn down and cannot connect again.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent
}

// Disconnect detaches and closes the transport and clears every handler set.
// Close handlers registered at the time fire once if a connection was active.
// Safe to call in any phase.
func (s *Session) Disconnect() {
	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	active := s.phase != PhaseIdle
	s.connecting = false
	s.attempt++
	// Also stops a close dispatch already running from handleClose.
	s.generation.Add(1)

	var closeFns []CloseHandler
	if active {
		closeFns = s.closeHandlers.snapshot()
		s.spent = true
	}
	s.messageHandlers.clear()
	s.errorHandlers.clear()
	s.closeHandlers.clear()
	s.phase = PhaseIdle
	s.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing chat transport")
		}
	}

	if !active {
		return
	}

	s.recorder.PhaseChanged(PhaseIdle)
	s.recorder.Closed()
	s.logger.Info().Msg("Chat session disconnected")

	for _, fn := range closeFns {
		fn()
	}
}

func (s *Session) observers(gen uint64) Observers {
	return Observers{
		OnOpen:        func() { s.handleOpen(gen) },
		OnOpenFailure: func(err error) { s.handleOpenFailure(gen, err) },
		OnClose:       func(reason string) { s.handleClose(gen, reason) },
		OnMessage:     func(msg InboundMessage) { s.handleMessage(gen, msg) },
		OnError:       func(err error) { s.handleError(gen, err) },
	}
}

func (s *Session) current(gen uint64) bool {
	return s.generation.Load() == gen
}

func (s *Session) handleOpen(gen uint64) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseOpen
	s.mu.Unlock()

	s.recorder.PhaseChanged(PhaseOpen)
	s.logger.Info().Str("namespace", s.namespace).Msg("Chat session open")
}

func (s *Session) handleOpenFailure(gen uint64, err error) {
	if !s.current(gen) {
		return
	}

	var openErr *TransportOpenError
	if !errors.As(err, &openErr) {
		err = &TransportOpenError{Err: err}
	}

	s.recorder.TransportError()
	s.logger.Warn().Err(err).Msg("Chat transport failed to open")
	dispatch(s, gen, s.errorHandlers.snapshot(), func(fn ErrorHandler) { fn(err) })
}

func (s *Session) handleError(gen uint64, err error) {
	if !s.current(gen) {
		return
	}

	s.recorder.TransportError()
	s.logger.Warn().Err(err).Msg("Chat transport error")
	dispatch(s, gen, s.errorHandlers.snapshot(), func(fn ErrorHandler) { fn(err) })
}

func (s *Session) handleMessage(gen uint64, msg InboundMessage) {
	if !s.current(gen) {
		return
	}

	s.recorder.MessageReceived()
	s.logger.Debug().
		Str("conversationId", msg.ConversationID).
		Str("agentId", msg.AgentID).
		Msg("Chat message received")
	dispatch(s, gen, s.messageHandlers.snapshot(), func(fn MessageHandler) { fn(msg) })
}

func (s *Session) handleClose(gen uint64, reason string) {
	s.mu.Lock()
	if !s.current(gen) {
		s.mu.Unlock()
		return
	}
	closeGen := s.generation.Add(1)
	s.transport = nil
	s.phase = PhaseIdle
	s.spent = true
	closeFns := s.closeHandlers.snapshot()
	s.mu.Unlock()

	s.recorder.PhaseChanged(PhaseIdle)
	s.recorder.Closed()
	s.logger.Info().Str("reason", reason).Msg("Chat session closed by transport")
	dispatch(s, closeGen, closeFns, func(fn CloseHandler) { fn() })
}

// dispatch invokes fns in order, stopping as soon as the session moves to another generation.
func dispatch[T any](s *Session, gen uint64, fns []T, call func(T)) {
	for _, fn := range fns {
		if !s.current(gen) {
			return
		}
		call(fn)
	}
}
