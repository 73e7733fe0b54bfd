package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agencychat/internal/tracing"
	"github.com/harun/agencychat/pkg/chat"
	"github.com/harun/agencychat/pkg/credentials"
	"github.com/harun/agencychat/pkg/wstransport"
)

const waitTimeout = 2 * time.Second

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = zerolog.Nop()
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func dialRaw(t *testing.T, srv *Server, queryToken string) *websocket.Conn {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: srv.Addr(), Path: chat.DefaultNamespace}
	if queryToken != "" {
		u.RawQuery = url.Values{"token": {queryToken}}.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := wstransport.EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func read(t *testing.T, conn *websocket.Conn) wstransport.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wstransport.DecodeFrame(data)
	require.NoError(t, err)
	return frame
}

func readError(t *testing.T, conn *websocket.Conn, event string) string {
	t.Helper()
	frame := read(t, conn)
	require.Equal(t, event, frame.Event)
	var data wstransport.ErrorData
	require.NoError(t, json.Unmarshal(frame.Data, &data))
	return data.Message
}

func readReply(t *testing.T, conn *websocket.Conn) chat.InboundMessage {
	t.Helper()
	frame := read(t, conn)
	require.Equal(t, chat.EventMessage, frame.Event)
	var msg chat.InboundMessage
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	return msg
}

func connect(t *testing.T, srv *Server, token string) *websocket.Conn {
	t.Helper()
	conn := dialRaw(t, srv, "")
	send(t, conn, wstransport.EventConnect, wstransport.ConnectData{Token: token})
	frame := read(t, conn)
	require.Equal(t, wstransport.EventConnectAck, frame.Event)
	return conn
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNewServer(t *testing.T) {
	t.Run("requires address", func(t *testing.T) {
		_, err := NewServer(Config{})
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		srv, err := NewServer(Config{Addr: ":0", Namespace: "support"})
		require.NoError(t, err)
		assert.Equal(t, "/support", srv.namespace)
		assert.Equal(t, DefaultAgentID, srv.agentID)
		assert.Equal(t, DefaultMessagesPerMinute, srv.messagesPerMinute)
		assert.NotNil(t, srv.responder)
	})
}

func TestServer_Handshake(t *testing.T) {
	t.Run("token in connect frame", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := dialRaw(t, srv, "")

		send(t, conn, wstransport.EventConnect, wstransport.ConnectData{Token: "abc"})
		frame := read(t, conn)
		assert.Equal(t, wstransport.EventConnectAck, frame.Event)

		var ack wstransport.ConnectAckData
		require.NoError(t, json.Unmarshal(frame.Data, &ack))
		assert.NotEmpty(t, ack.ClientID)

		require.Eventually(t, func() bool { return len(srv.Clients()) == 1 }, waitTimeout, 10*time.Millisecond)
		info := srv.Clients()[0]
		assert.Equal(t, ack.ClientID, info.ID)
		assert.Equal(t, "authenticated", info.State)
	})

	t.Run("falls back to query token", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := dialRaw(t, srv, "abc")

		send(t, conn, wstransport.EventConnect, wstransport.ConnectData{})
		assert.Equal(t, wstransport.EventConnectAck, read(t, conn).Event)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := dialRaw(t, srv, "")

		send(t, conn, wstransport.EventConnect, wstransport.ConnectData{})
		assert.Equal(t, ErrMissingToken.Error(), readError(t, conn, wstransport.EventConnectError))
	})

	t.Run("first frame must be connect", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := dialRaw(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "hello"})
		assert.Equal(t, "expected connect frame", readError(t, conn, wstransport.EventConnectError))
	})

	t.Run("jwt verified with secret", func(t *testing.T) {
		srv := startServer(t, Config{Secret: "server-secret"})

		connect(t, srv, signToken(t, "server-secret", "user-1"))
		require.Eventually(t, func() bool { return len(srv.Clients()) == 1 }, waitTimeout, 10*time.Millisecond)
		assert.Equal(t, "user-1", srv.Clients()[0].Subject)
	})

	t.Run("jwt with wrong secret rejected", func(t *testing.T) {
		srv := startServer(t, Config{Secret: "server-secret"})
		conn := dialRaw(t, srv, "")

		send(t, conn, wstransport.EventConnect, wstransport.ConnectData{Token: signToken(t, "other-secret", "user-1")})
		assert.Contains(t, readError(t, conn, wstransport.EventConnectError), ErrInvalidToken.Error())
	})
}

func TestServer_Messages(t *testing.T) {
	t.Run("mints conversation id and replies", func(t *testing.T) {
		requests := make(chan Request, 1)
		srv := startServer(t, Config{
			AgentID:           "a1",
			NewConversationID: func() string { return "c1" },
			Responder: func(_ context.Context, req Request) (string, error) {
				requests <- req
				return "hi back", nil
			},
		})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "hello"})
		assert.Equal(t, chat.InboundMessage{ConversationID: "c1", Message: "hi back", AgentID: "a1"}, readReply(t, conn))
		got := <-requests
		assert.Equal(t, "hello", got.Text)
		assert.Equal(t, "c1", got.ConversationID)
		assert.NotEmpty(t, got.ClientID)
	})

	t.Run("responder context carries trace fields", func(t *testing.T) {
		traces := make(chan *tracing.TraceContext, 1)
		srv := startServer(t, Config{
			AgentID: "a1",
			Responder: func(ctx context.Context, req Request) (string, error) {
				traces <- tracing.FromContext(ctx)
				return "ok", nil
			},
		})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{ConversationID: "conv-9", Text: "hello"})
		readReply(t, conn)

		tc := <-traces
		assert.NotEmpty(t, tc.TraceID)
		assert.NotEmpty(t, tc.ClientID)
		assert.Equal(t, "conv-9", tc.ConversationID)
		assert.Equal(t, "a1", tc.AgentID)
	})

	t.Run("keeps caller conversation id", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{ConversationID: "existing", Text: "ping"})
		reply := readReply(t, conn)
		assert.Equal(t, "existing", reply.ConversationID)
		assert.Equal(t, "ping", reply.Message)
		assert.Equal(t, DefaultAgentID, reply.AgentID)
	})

	t.Run("default conversation ids are uuids", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "ping"})
		assert.Len(t, readReply(t, conn).ConversationID, 36)
	})

	t.Run("empty text", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "  "})
		assert.Equal(t, "message text is required", readError(t, conn, wstransport.EventError))
	})

	t.Run("unknown event", func(t *testing.T) {
		srv := startServer(t, Config{})
		conn := connect(t, srv, "abc")

		send(t, conn, "typing", nil)
		assert.Equal(t, `unknown event "typing"`, readError(t, conn, wstransport.EventError))
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := startServer(t, Config{MessagesPerMinute: 1})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "one"})
		readReply(t, conn)

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "two"})
		assert.Equal(t, "rate limit exceeded", readError(t, conn, wstransport.EventError))
	})

	t.Run("responder failure", func(t *testing.T) {
		srv := startServer(t, Config{
			Responder: func(context.Context, Request) (string, error) {
				return "", errors.New("model offline")
			},
		})
		conn := connect(t, srv, "abc")

		send(t, conn, chat.EventMessage, chat.OutboundMessage{Text: "hello"})
		assert.Equal(t, "failed to produce a reply", readError(t, conn, wstransport.EventError))
	})
}

func TestServer_Healthz(t *testing.T) {
	srv := startServer(t, Config{})

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Clients)
	assert.GreaterOrEqual(t, health.UptimeSeconds, int64(0))
}

func TestServer_StopClosesClients(t *testing.T) {
	srv := startServer(t, Config{})
	conn := connect(t, srv, "abc")

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, srv.Stop(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func newSession(t *testing.T, srv *Server, token string) *chat.Session {
	t.Helper()

	dialer, err := wstransport.NewDialer(wstransport.Config{
		BaseURL:           "http://" + srv.Addr(),
		ReconnectAttempts: -1,
		Logger:            zerolog.Nop(),
	})
	require.NoError(t, err)

	return chat.NewSession(chat.Config{
		Credentials: credentials.Static(token),
		Dialer:      dialer,
		Logger:      zerolog.Nop(),
	})
}

func TestSessionEndToEnd(t *testing.T) {
	srv := startServer(t, Config{
		AgentID:           "a1",
		NewConversationID: func() string { return "c1" },
		Responder: func(context.Context, Request) (string, error) {
			return "hi back", nil
		},
	})

	session := newSession(t, srv, "abc")
	defer session.Disconnect()

	messages := make(chan chat.InboundMessage, 4)
	closed := make(chan struct{}, 1)
	session.SubscribeMessage(func(msg chat.InboundMessage) { messages <- msg })
	session.SubscribeClose(func() { closed <- struct{}{} })

	require.NoError(t, session.Connect(context.Background()))
	require.Eventually(t, session.IsConnected, waitTimeout, 10*time.Millisecond)

	require.NoError(t, session.SendMessage(chat.OutboundMessage{Text: "hello"}))

	select {
	case msg := <-messages:
		assert.Equal(t, chat.InboundMessage{ConversationID: "c1", Message: "hi back", AgentID: "a1"}, msg)
		assert.True(t, session.IsConnected())
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for reply")
	}

	select {
	case msg := <-messages:
		t.Fatalf("unexpected second message %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	// Server shutdown is a terminal close for the session.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close")
	}
	assert.ErrorIs(t, session.SendMessage(chat.OutboundMessage{Text: "again"}), chat.ErrNotConnected)
	assert.True(t, session.Closed())
}

func TestSessionEndToEnd_RejectedCredential(t *testing.T) {
	srv := startServer(t, Config{Secret: "server-secret"})

	session := newSession(t, srv, "not-a-jwt")
	defer session.Disconnect()

	errs := make(chan error, 4)
	closed := make(chan struct{}, 1)
	session.SubscribeError(func(err error) { errs <- err })
	session.SubscribeClose(func() { closed <- struct{}{} })

	require.NoError(t, session.Connect(context.Background()))

	select {
	case err := <-errs:
		var openErr *chat.TransportOpenError
		require.ErrorAs(t, err, &openErr)
		assert.Equal(t, 1, openErr.Attempt)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for open failure")
	}

	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for close after exhausted attempts")
	}
	assert.False(t, session.IsConnected())
}
