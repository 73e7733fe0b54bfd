package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agencychat/internal/config"
	"github.com/harun/agencychat/internal/metrics"
	"github.com/harun/agencychat/pkg/chatserver"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr   string
	serveSecret string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference chat server",
	Long: `Run a local chat server speaking the agency chat protocol.
Replies echo the message text. Useful for developing against the client.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.host and server.port)")
	serveCmd.Flags().StringVar(&serveSecret, "secret", "", "HS256 secret for verifying client tokens")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveSecret != "" {
		cfg.Server.Secret = serveSecret
	}

	logs, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logs.Close()
	log := logs.Zerolog()

	addr := cfg.Server.Addr()
	if serveAddr != "" {
		addr = serveAddr
	}

	m := metrics.NewMetrics()
	srv, err := newChatServer(cfg, addr, m, log)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Chat server listening on %s%s\n", srv.Addr(), cfg.Chat.Namespace)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func newChatServer(cfg *config.Config, addr string, m *metrics.Metrics, log zerolog.Logger) (*chatserver.Server, error) {
	serverCfg := chatserver.Config{
		Addr:              addr,
		Namespace:         cfg.Chat.Namespace,
		Secret:            cfg.Server.Secret,
		AgentID:           cfg.Server.AgentID,
		Responder:         instrumentResponder(chatserver.EchoResponder, m),
		MessagesPerMinute: cfg.Server.MessagesPerMinute,
		Logger:            log,
	}
	if cfg.Metrics.Enabled {
		serverCfg.MetricsHandler = m.Handler()
	}
	return chatserver.NewServer(serverCfg)
}

// instrumentResponder records reply latency and outcome for next.
func instrumentResponder(next chatserver.Responder, m *metrics.Metrics) chatserver.Responder {
	return func(ctx context.Context, req chatserver.Request) (string, error) {
		start := time.Now()
		reply, err := next(ctx, req)
		m.ServerReplySeconds.Observe(time.Since(start).Seconds())

		status := "ok"
		if err != nil {
			status = "error"
		}
		m.ServerRepliesTotal.WithLabelValues(status).Inc()
		return reply, err
	}
}
