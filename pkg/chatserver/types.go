package chatserver

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/agencychat/pkg/wstransport"
)

// Request is one inbound chat message handed to a Responder.
type Request struct {
	ClientID       string
	Subject        string
	ConversationID string
	Text           string
}

// Responder produces the agent reply for a request.
type Responder func(ctx context.Context, req Request) (string, error)

// EchoResponder replies with the request text.
func EchoResponder(_ context.Context, req Request) (string, error) {
	return req.Text, nil
}

// ClientState represents the state of a client connection
type ClientState int

const (
	StateConnecting ClientState = iota
	StateAuthenticated
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Health is the /healthz response body.
type Health struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject,omitempty"`
	State         string    `json:"state"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	IPAddress     string    `json:"ipAddress"`
	Conversations int       `json:"conversations"`
}

// Client represents a connected websocket client
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time
	IPAddress   string
	RateLimiter *MessageRateLimiter

	mu            sync.Mutex
	state         ClientState
	subject       string
	lastActivity  time.Time
	conversations map[string]struct{}

	writeMu sync.Mutex
}

func newClient(id string, conn *websocket.Conn, ip string, limiter *MessageRateLimiter) *Client {
	now := time.Now()
	return &Client{
		ID:            id,
		Conn:          conn,
		ConnectedAt:   now,
		IPAddress:     ip,
		RateLimiter:   limiter,
		state:         StateConnecting,
		lastActivity:  now,
		conversations: make(map[string]struct{}),
	}
}

// WriteFrame sends one event frame. Safe for concurrent use.
func (c *Client) WriteFrame(event string, data interface{}, timeout time.Duration) error {
	payload, err := wstransport.EncodeFrame(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.Conn.WriteMessage(websocket.TextMessage, payload)
}

// CloseWith sends a close frame with code and reason, then drops the connection.
func (c *Client) CloseWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.Conn.Close()
}

func (c *Client) setAuthenticated(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAuthenticated
	c.subject = subject
}

func (c *Client) touch(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	if conversationID != "" {
		c.conversations[conversationID] = struct{}{}
	}
}

func (c *Client) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:            c.ID,
		Subject:       c.subject,
		State:         c.state.String(),
		ConnectedAt:   c.ConnectedAt,
		LastActivity:  c.lastActivity,
		IPAddress:     c.IPAddress,
		Conversations: len(c.conversations),
	}
}
