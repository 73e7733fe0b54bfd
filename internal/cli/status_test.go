package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/agencychat/pkg/chatserver"
)

func newHealthServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := chatserver.NewServer(chatserver.Config{Addr: "127.0.0.1:0", Logger: zerolog.Nop()})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// missingConfig returns a config path that does not exist, so defaults apply.
func missingConfig(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "agencychat.json")
}

func TestStatusCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()
		statusCmd := cmd.Commands()

		found := false
		for _, c := range statusCmd {
			if c.Name() == "status" {
				found = true
				break
			}
		}
		assert.True(t, found, "status command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--help"})
		t.Cleanup(func() { _ = statusCmd.Flags().Set("help", "false") })

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "status")
		assert.Contains(t, helpText, "--base-url")
	})

	t.Run("reports server health", func(t *testing.T) {
		ts := newHealthServer(t)

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--config", missingConfig(t), "--base-url", ts.URL})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "Status: ok")
		assert.Contains(t, output.String(), "Clients: 0")
		assert.Contains(t, output.String(), "Uptime: ")
	})

	t.Run("reports unreachable server", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		cmd := GetRootCmd()
		cmd.SetArgs([]string{"status", "--config", missingConfig(t), "--base-url", ts.URL})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		require.NoError(t, cmd.Execute())
		assert.Contains(t, output.String(), "Status: unreachable")
	})
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
		wantErr  bool
	}{
		{"http", "http://127.0.0.1:8080", "http://127.0.0.1:8080/healthz", false},
		{"ws maps to http", "ws://chat.example.com/ai-chat", "http://chat.example.com/healthz", false},
		{"wss maps to https", "wss://chat.example.com?token=abc", "https://chat.example.com/healthz", false},
		{"unsupported scheme", "ftp://chat.example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := healthURL(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFetchHealth(t *testing.T) {
	t.Run("decodes health", func(t *testing.T) {
		ts := newHealthServer(t)

		health, err := fetchHealth(context.Background(), ts.URL)
		require.NoError(t, err)
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, 0, health.Clients)
	})

	t.Run("rejects non-200", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		defer ts.Close()

		_, err := fetchHealth(context.Background(), ts.URL)
		assert.ErrorContains(t, err, "unexpected status 404")
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatDuration(tt.duration)
			assert.Equal(t, tt.expected, result)
		})
	}
}
