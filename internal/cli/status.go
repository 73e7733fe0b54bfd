package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/agencychat/pkg/chatserver"
)

var statusBaseURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chat server status",
	Long:  `Probe the chat server's health endpoint and show its status.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusBaseURL, "base-url", "", "chat endpoint base URL (overrides config)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	baseURL := cfg.Chat.BaseURL
	if statusBaseURL != "" {
		baseURL = statusBaseURL
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	health, err := fetchHealth(ctx, baseURL)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Status: unreachable (%v)\n", err)
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status: %s\n", health.Status)
	fmt.Fprintf(out, "Clients: %d\n", health.Clients)
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(health.UptimeSeconds)*time.Second))
	return nil
}

// healthURL maps a chat base URL to its /healthz endpoint.
func healthURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	u.Path = "/healthz"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchHealth(ctx context.Context, baseURL string) (*chatserver.Health, error) {
	endpoint, err := healthURL(baseURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var health chatserver.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &health, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
