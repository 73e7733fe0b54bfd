package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/agencychat/pkg/chat"
)

// Defaults for the reconnection policy and timeouts.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 1 * time.Second
)

// Config holds websocket transport configuration
type Config struct {
	// BaseURL is the endpoint root, e.g. "https://api.example.com". The namespace is appended.
	BaseURL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// ReconnectAttempts bounds the retries after a failed connection attempt; a negative value
	// disables retries. Retries are spaced by the fixed ReconnectDelay.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Header is sent with the upgrade request.
	Header http.Header

	Logger zerolog.Logger
}

// Dialer opens websocket transports for chat sessions.
type Dialer struct {
	base              *url.URL
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	reconnectAttempts int
	reconnectDelay    time.Duration
	header            http.Header
	schema            *gojsonschema.Schema
	logger            zerolog.Logger
}

var _ chat.Dialer = (*Dialer)(nil)

// NewDialer validates cfg and creates a Dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported base URL scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL has no host")
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	schema, err := compileInboundSchema()
	if err != nil {
		return nil, err
	}

	return &Dialer{
		base:              base,
		handshakeTimeout:  cfg.HandshakeTimeout,
		writeTimeout:      cfg.WriteTimeout,
		reconnectAttempts: cfg.ReconnectAttempts,
		reconnectDelay:    cfg.ReconnectDelay,
		header:            cfg.Header.Clone(),
		schema:            schema,
		logger:            cfg.Logger.With().Str("component", "ws-transport").Logger(),
	}, nil
}

// Dial starts connecting in the background and returns the transport immediately.
// The handshake outcome is reported through obs.
func (d *Dialer) Dial(ctx context.Context, opts chat.DialOptions, obs chat.Observers) (chat.Transport, error) {
	endpoint := d.Endpoint(opts)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Transport{
		dialer:    d,
		endpoint:  endpoint,
		authToken: opts.Auth["token"],
		obs:       fillObservers(obs),
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    d.logger.With().Str("namespace", opts.Namespace).Logger(),
	}

	go t.run()

	return t, nil
}

// Endpoint returns the websocket URL for opts: the base URL, the namespace path and the
// query parameters.
func (d *Dialer) Endpoint(opts chat.DialOptions) string {
	u := *d.base
	namespace := strings.Trim(opts.Namespace, "/")
	if namespace != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + namespace
	}

	query := u.Query()
	for key, value := range opts.Query {
		if value != "" {
			query.Set(key, value)
		}
	}
	u.RawQuery = query.Encode()

	return u.String()
}

func (d *Dialer) websocketDialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}
}

func fillObservers(obs chat.Observers) chat.Observers {
	if obs.OnOpen == nil {
		obs.OnOpen = func() {}
	}
	if obs.OnOpenFailure == nil {
		obs.OnOpenFailure = func(error) {}
	}
	if obs.OnClose == nil {
		obs.OnClose = func(string) {}
	}
	if obs.OnMessage == nil {
		obs.OnMessage = func(chat.InboundMessage) {}
	}
	if obs.OnError == nil {
		obs.OnError = func(error) {}
	}
	return obs
}
