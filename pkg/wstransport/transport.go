package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/agencychat/pkg/chat"
)

// ErrNotOpen is returned by Emit before the handshake completes or after the link drops.
var ErrNotOpen = errors.New("websocket transport not open")

// Transport is one websocket connection to a chat namespace. It retries failed connection
// attempts per the dialer's policy; once open, a lost link is terminal.
type Transport struct {
	dialer    *Dialer
	endpoint  string
	authToken string
	obs       chat.Observers
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn

	// gorilla/websocket supports a single concurrent writer.
	writeMu sync.Mutex

	connected atomic.Bool
	closeOnce sync.Once
}

var _ chat.Transport = (*Transport)(nil)

// Connected reports whether the handshake completed and the link is still up.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Emit writes an event frame. It does not wait for any acknowledgment.
func (t *Transport) Emit(event string, payload interface{}) error {
	if !t.connected.Load() {
		return ErrNotOpen
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	data, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	return t.write(conn, data)
}

// Close stops reconnection, sends a normal close frame and drops the connection.
// OnClose fires once, from the transport's goroutine.
func (t *Transport) Close() error {
	t.cancel()
	t.connected.Store(false)

	conn := t.detach()
	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"), deadline)
	t.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

// detach clears the current connection and returns it. Only the caller that gets a non-nil
// conn closes it.
func (t *Transport) detach() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn := t.conn
	t.conn = nil
	return conn
}

// Done is closed once the transport goroutine has exited.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) write(conn *websocket.Conn, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.dialer.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (t *Transport) run() {
	defer close(t.done)

	conn, ok := t.connectWithRetry()
	if !ok {
		return
	}
	if t.ctx.Err() != nil {
		if c := t.detach(); c != nil {
			c.Close()
		}
		t.fireClose("client disconnect")
		return
	}

	t.connected.Store(true)
	t.logger.Info().Str("endpoint", stripQuery(t.endpoint)).Msg("Websocket transport open")
	t.obs.OnOpen()

	t.readLoop(conn)
}

// connectWithRetry performs the initial attempt plus up to reconnectAttempts retries.
func (t *Transport) connectWithRetry() (*websocket.Conn, bool) {
	maxAttempts := t.dialer.reconnectAttempts + 1

	for attempt := 1; ; attempt++ {
		conn, err := t.handshake()
		if err == nil {
			return conn, true
		}

		if t.ctx.Err() != nil {
			t.fireClose("client disconnect")
			return nil, false
		}

		t.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Websocket connection attempt failed")
		t.obs.OnOpenFailure(&chat.TransportOpenError{Attempt: attempt, Err: err})

		if attempt >= maxAttempts {
			t.fireClose("reconnect attempts exhausted")
			return nil, false
		}

		timer := time.NewTimer(t.dialer.reconnectDelay)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			t.fireClose("client disconnect")
			return nil, false
		case <-timer.C:
		}
	}
}

// handshake dials the endpoint, sends the connect frame and waits for connect_ack.
func (t *Transport) handshake() (*websocket.Conn, error) {
	conn, resp, err := t.dialer.websocketDialer().DialContext(t.ctx, t.endpoint, t.dialer.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	fail := func(err error) (*websocket.Conn, error) {
		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		conn.Close()
		return nil, err
	}

	if t.ctx.Err() != nil {
		return fail(t.ctx.Err())
	}

	hello, err := EncodeFrame(EventConnect, ConnectData{Token: t.authToken})
	if err != nil {
		return fail(err)
	}
	if err := t.write(conn, hello); err != nil {
		return fail(fmt.Errorf("failed to send connect frame: %w", err))
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.dialer.handshakeTimeout)); err != nil {
		return fail(err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fail(fmt.Errorf("failed to read handshake response: %w", err))
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			t.logger.Debug().Err(err).Msg("Ignoring malformed frame during handshake")
			continue
		}

		switch frame.Event {
		case EventConnectAck:
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				return fail(err)
			}
			return conn, nil
		case EventConnectError:
			return fail(fmt.Errorf("handshake rejected: %w", decodeServerError(frame)))
		default:
			t.logger.Debug().Str("event", frame.Event).Msg("Ignoring frame during handshake")
		}
	}
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connected.Store(false)
			if c := t.detach(); c != nil {
				c.Close()
			}
			t.fireClose(t.closeReason(err))
			return
		}

		t.handleFrame(data)
	}
}

func (t *Transport) closeReason(err error) string {
	if t.ctx.Err() != nil {
		return "client disconnect"
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		return fmt.Sprintf("close code %d", closeErr.Code)
	}

	return err.Error()
}

func (t *Transport) handleFrame(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		t.obs.OnError(err)
		return
	}

	switch frame.Event {
	case chat.EventMessage:
		if err := validatePayload(t.dialer.schema, frame.Data); err != nil {
			t.obs.OnError(err)
			return
		}

		var msg chat.InboundMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			t.obs.OnError(fmt.Errorf("failed to decode message: %w", err))
			return
		}
		t.obs.OnMessage(msg)

	case EventError, EventConnectError:
		t.obs.OnError(decodeServerError(frame))

	default:
		t.logger.Debug().Str("event", frame.Event).Msg("Ignoring unknown event")
	}
}

func stripQuery(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}

func (t *Transport) fireClose(reason string) {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.cancel()
		t.logger.Info().Str("reason", reason).Msg("Websocket transport closed")
		t.obs.OnClose(reason)
	})
}
