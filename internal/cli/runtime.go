package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/harun/agencychat/internal/config"
	"github.com/harun/agencychat/internal/logger"
	"github.com/harun/agencychat/internal/metrics"
	"github.com/harun/agencychat/pkg/chat"
	"github.com/harun/agencychat/pkg/credentials"
	"github.com/harun/agencychat/pkg/wstransport"
)

// loadConfig loads and validates the configuration, applying the --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flag := cmd.Flags().Lookup("log-level"); flag != nil && flag.Changed {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Level,
		File:      cfg.File,
		Console:   cfg.Console,
		Pretty:    cfg.Pretty,
		Redaction: cfg.Redaction,
		MaxSize:   cfg.MaxSize,
		MaxAge:    cfg.MaxAge,
		Compress:  cfg.Compress,
	})
}

// newCredentials builds the provider for cfg. watchPath is set when the token file should
// be watched for rotation.
func newCredentials(cfg config.CredentialsConfig) (provider chat.CredentialProvider, watchPath string, err error) {
	switch cfg.Source {
	case config.CredentialSourceEnv:
		provider = credentials.Env(cfg.Env)
	case config.CredentialSourceFile:
		fp, err := credentials.NewFileProvider(cfg.File)
		if err != nil {
			return nil, "", err
		}
		provider = fp
		if cfg.WatchRotation {
			watchPath = fp.Path()
		}
	case config.CredentialSourceStatic:
		provider = credentials.Static(cfg.Token)
	default:
		return nil, "", fmt.Errorf("unsupported credential source %q", cfg.Source)
	}

	if cfg.CheckExpiry {
		provider = credentials.WithExpiryCheck(provider, cfg.ExpiryLeewayDuration())
	}
	return provider, watchPath, nil
}

func newDialer(cfg config.ChatConfig, log zerolog.Logger) (*wstransport.Dialer, error) {
	return wstransport.NewDialer(wstransport.Config{
		BaseURL:           cfg.BaseURL,
		HandshakeTimeout:  cfg.HandshakeTimeoutDuration(),
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelayDuration(),
		Logger:            log,
	})
}

// serveMetrics exposes m on addr until the returned stop function is called.
func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
