package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agencychat/internal/metrics"
	"github.com/harun/agencychat/pkg/chat"
	"github.com/harun/agencychat/pkg/credentials"
)

var (
	chatBaseURL   string
	chatNamespace string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	Long: `Open an interactive chat session with the agency assistant.
Type a message and press Enter to send it. Commands:
  /status     show the connection state
  /new        start a new conversation
  /reconnect  drop the session and connect again
  /quit       leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatBaseURL, "base-url", "", "chat endpoint base URL (overrides config)")
	chatCmd.Flags().StringVar(&chatNamespace, "namespace", "", "chat namespace (overrides config)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if chatBaseURL != "" {
		cfg.Chat.BaseURL = chatBaseURL
	}
	if chatNamespace != "" {
		cfg.Chat.Namespace = chatNamespace
	}

	logs, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logs.Close()
	log := logs.Zerolog()

	provider, watchPath, err := newCredentials(cfg.Credentials)
	if err != nil {
		return err
	}

	dialer, err := newDialer(cfg.Chat, log)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	if cfg.Metrics.Enabled {
		stop := serveMetrics(cfg.Metrics.Addr, m, log)
		defer stop()
	}

	registry := chat.NewRegistry(func() *chat.Session {
		return chat.NewSession(chat.Config{
			Namespace:   cfg.Chat.Namespace,
			Credentials: provider,
			Dialer:      dialer,
			Recorder:    m,
			Logger:      log,
		})
	})
	defer registry.Release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newChatClient(registry, cmd.OutOrStdout(), log)

	if watchPath != "" {
		watcher, err := credentials.NewRotationWatcher(credentials.RotationWatcherConfig{
			Path: watchPath,
			OnRotate: func(string) {
				m.CredentialRotationTotal.Inc()
				client.credentialRotated(ctx)
			},
			Logger: log,
		})
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	if err := client.connect(ctx); err != nil {
		client.printf("* %v\n", err)
	}

	return client.run(ctx, cmd.InOrStdin())
}

// chatClient drives a line-oriented chat over the registry's session.
type chatClient struct {
	registry *chat.Registry
	logger   zerolog.Logger

	outMu sync.Mutex
	out   io.Writer

	mu             sync.Mutex
	conversationID string
}

func newChatClient(registry *chat.Registry, out io.Writer, log zerolog.Logger) *chatClient {
	return &chatClient{
		registry: registry,
		out:      out,
		logger:   log.With().Str("component", "chat-cli").Logger(),
	}
}

// connect subscribes the printers and connects the registry's session if it is idle.
func (c *chatClient) connect(ctx context.Context) error {
	session := c.registry.Get()
	if session.Phase() != chat.PhaseIdle {
		return nil
	}

	unsubscribe := []chat.Unsubscribe{
		session.SubscribeMessage(c.onMessage),
		session.SubscribeError(c.onError),
		session.SubscribeClose(c.onClose),
	}

	if err := session.Connect(ctx); err != nil {
		for _, unsub := range unsubscribe {
			unsub()
		}
		if errors.Is(err, chat.ErrAuthenticationUnavailable) {
			return fmt.Errorf("not connected, no credential available: %w", err)
		}
		if errors.Is(err, chat.ErrAlreadyConnected) {
			return nil
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.printf("* connecting...\n")
	return nil
}

// credentialRotated reconnects after a token file change when no session is active.
func (c *chatClient) credentialRotated(ctx context.Context) {
	session := c.registry.Get()
	if session.Phase() != chat.PhaseIdle {
		c.logger.Debug().Msg("Token rotated while connected; new token applies on next connect")
		return
	}
	if err := c.connect(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Reconnect after token rotation failed")
	}
}

// run reads lines from in until EOF, /quit or ctx is done.
func (c *chatClient) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	done := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		done <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case line := <-lines:
			if quit := c.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func (c *chatClient) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)

	switch {
	case line == "":
	case line == "/quit" || line == "/exit":
		return true
	case line == "/status":
		session := c.registry.Get()
		c.printf("* phase=%s connected=%t conversation=%s\n",
			session.Phase(), session.IsConnected(), c.conversation())
	case line == "/new":
		c.setConversation("")
		c.printf("* new conversation\n")
	case line == "/reconnect":
		c.registry.Release()
		if err := c.connect(ctx); err != nil {
			c.printf("* %v\n", err)
		}
	case strings.HasPrefix(line, "/"):
		c.printf("* unknown command %s\n", line)
	default:
		c.send(line)
	}
	return false
}

func (c *chatClient) send(text string) {
	err := c.registry.Get().SendMessage(chat.OutboundMessage{
		ConversationID: c.conversation(),
		Text:           text,
	})
	if errors.Is(err, chat.ErrNotConnected) {
		c.printf("* not connected, use /reconnect\n")
		return
	}
	if err != nil {
		c.printf("* send failed: %v\n", err)
	}
}

func (c *chatClient) onMessage(msg chat.InboundMessage) {
	if msg.ConversationID != "" {
		c.setConversation(msg.ConversationID)
	}
	c.printf("[%s] %s\n", msg.AgentID, msg.Message)
}

func (c *chatClient) onError(err error) {
	var openErr *chat.TransportOpenError
	if errors.As(err, &openErr) {
		c.printf("* connection attempt %d failed: %v\n", openErr.Attempt, openErr.Err)
		return
	}
	c.printf("* error: %v\n", err)
}

func (c *chatClient) onClose() {
	c.printf("* connection closed\n")
}

func (c *chatClient) conversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *chatClient) setConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = id
}

func (c *chatClient) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
