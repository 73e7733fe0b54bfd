// Package chatserver is a reference endpoint for the chat protocol spoken by pkg/wstransport.
// It authenticates the connect frame (or the token query parameter), acknowledges the
// handshake and answers every message frame through a Responder.
package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/agencychat/internal/tracing"
	"github.com/harun/agencychat/pkg/chat"
	"github.com/harun/agencychat/pkg/wstransport"
)

// Default server settings.
const (
	DefaultAgentID          = "assistant"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

// Config holds server configuration
type Config struct {
	// Addr is the listen address, e.g. ":8080" or "127.0.0.1:0".
	Addr      string
	Namespace string

	// Secret enables HS256 JWT verification of client tokens.
	Secret string

	AgentID           string
	Responder         Responder
	MessagesPerMinute int

	// NewConversationID mints ids for messages that arrive without one.
	NewConversationID func() string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	Logger zerolog.Logger
}

// Server accepts chat clients over websocket.
type Server struct {
	addr              string
	namespace         string
	agentID           string
	responder         Responder
	messagesPerMinute int
	newConversationID func() string
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	metricsHandler    http.Handler

	auth     *Authenticator
	clients  *ClientRegistry
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	server    *http.Server
	listener  net.Listener
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	clientWG       sync.WaitGroup
}

// NewServer validates cfg and creates a server.
func NewServer(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = chat.DefaultNamespace
	}
	if !strings.HasPrefix(cfg.Namespace, "/") {
		cfg.Namespace = "/" + cfg.Namespace
	}
	if cfg.AgentID == "" {
		cfg.AgentID = DefaultAgentID
	}
	if cfg.Responder == nil {
		cfg.Responder = EchoResponder
	}
	if cfg.MessagesPerMinute == 0 {
		cfg.MessagesPerMinute = DefaultMessagesPerMinute
	}
	if cfg.NewConversationID == nil {
		cfg.NewConversationID = uuid.NewString
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:              cfg.Addr,
		namespace:         cfg.Namespace,
		agentID:           cfg.AgentID,
		responder:         cfg.Responder,
		messagesPerMinute: cfg.MessagesPerMinute,
		newConversationID: cfg.NewConversationID,
		handshakeTimeout:  cfg.HandshakeTimeout,
		writeTimeout:      cfg.WriteTimeout,
		metricsHandler:    cfg.MetricsHandler,
		auth:              NewAuthenticator(cfg.Secret),
		clients:           NewClientRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:    cfg.Logger.With().Str("component", "chat-server").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}, nil
}

// Handler returns the HTTP routes: the chat namespace, /healthz and optionally /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.namespace, s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Health{
			Status:        "ok",
			Clients:       s.clients.Count(),
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		})
	})
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("namespace", s.namespace).
		Bool("jwt", s.auth.Verifying()).
		Msg("Starting chat server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Chat server error")
		}
	}()

	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop closes every client with a going-away frame and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Int("clients", s.clients.Count()).Msg("Shutting down chat server")
	s.cancel()

	for _, client := range s.clients.All() {
		client.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.clientWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Chat server stopped")
	return nil
}

// Clients returns information about every connected client.
func (s *Server) Clients() []ClientInfo {
	return s.clients.Infos()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.clientWG.Add(1)
	s.shutdownMu.RUnlock()

	queryToken := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.clientWG.Done()
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		s.clientWG.Done()
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	client := newClient(clientID, conn, r.RemoteAddr, NewMessageRateLimiter(s.messagesPerMinute))
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client, queryToken)
}

func (s *Server) handleClient(client *Client, queryToken string) {
	defer s.clientWG.Done()
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	if !s.handshake(client, queryToken) {
		return
	}

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.handleFrame(client, data)
	}
}

// handshake waits for the connect frame and answers connect_ack or connect_error.
func (s *Server) handshake(client *Client, queryToken string) bool {
	if err := client.Conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout)); err != nil {
		return false
	}

	_, data, err := client.Conn.ReadMessage()
	if err != nil {
		s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("Client left before handshake")
		return false
	}

	frame, err := wstransport.DecodeFrame(data)
	if err != nil || frame.Event != wstransport.EventConnect {
		s.reject(client, "expected connect frame")
		return false
	}

	var hello wstransport.ConnectData
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &hello); err != nil {
			s.reject(client, "malformed connect frame")
			return false
		}
	}

	subject, err := s.auth.Authenticate(selectToken(hello.Token, queryToken))
	if err != nil {
		s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("Authentication failed")
		s.reject(client, err.Error())
		return false
	}

	if err := client.Conn.SetReadDeadline(time.Time{}); err != nil {
		return false
	}

	client.setAuthenticated(subject)
	if err := client.WriteFrame(wstransport.EventConnectAck, wstransport.ConnectAckData{ClientID: client.ID}, s.writeTimeout); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send connect ack")
		return false
	}

	s.logger.Info().Str("clientId", client.ID).Str("subject", subject).Msg("Client authenticated")
	return true
}

func (s *Server) reject(client *Client, message string) {
	if err := client.WriteFrame(wstransport.EventConnectError, wstransport.ErrorData{Message: message}, s.writeTimeout); err != nil {
		s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("Failed to send connect error")
	}
	client.CloseWith(websocket.ClosePolicyViolation, message)
}

func (s *Server) handleFrame(client *Client, data []byte) {
	frame, err := wstransport.DecodeFrame(data)
	if err != nil {
		s.sendError(client, err.Error())
		return
	}

	if frame.Event != chat.EventMessage {
		s.sendError(client, fmt.Sprintf("unknown event %q", frame.Event))
		return
	}

	var msg chat.OutboundMessage
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		s.sendError(client, "malformed message payload")
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		s.sendError(client, "message text is required")
		return
	}
	if !client.RateLimiter.Allow() {
		s.sendError(client, "rate limit exceeded")
		return
	}

	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = s.newConversationID()
	}
	client.touch(conversationID)

	ctx := tracing.NewReplyContext(s.ctx, client.ID, conversationID, s.agentID)
	log := tracing.LoggerFromContext(ctx, s.logger)

	reply, err := s.responder(ctx, Request{
		ClientID:       client.ID,
		Subject:        client.info().Subject,
		ConversationID: conversationID,
		Text:           msg.Text,
	})
	if err != nil {
		log.Error().Err(err).Msg("Responder failed")
		s.sendError(client, "failed to produce a reply")
		return
	}

	out := chat.InboundMessage{
		ConversationID: conversationID,
		Message:        reply,
		AgentID:        s.agentID,
	}
	if err := client.WriteFrame(chat.EventMessage, out, s.writeTimeout); err != nil {
		log.Error().Err(err).Msg("Failed to send reply")
		return
	}
	log.Debug().Msg("Reply sent")
}

func (s *Server) sendError(client *Client, message string) {
	if err := client.WriteFrame(wstransport.EventError, wstransport.ErrorData{Message: message}, s.writeTimeout); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error frame")
	}
}
