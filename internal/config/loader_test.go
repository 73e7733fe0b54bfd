package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		defaults := DefaultConfig()
		assert.Equal(t, defaults.Chat, cfg.Chat)
		assert.Equal(t, defaults.Credentials, cfg.Credentials)
		assert.Equal(t, filepath.Dir(configPath), cfg.DataDir)
	})

	t.Run("file values merge with defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")

		testConfig := `{
			"chat": {
				"base_url": "https://chat.example.com",
				"reconnect_attempts": 2
			},
			"credentials": {
				"source": "file"
			}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "https://chat.example.com", cfg.Chat.BaseURL)
		assert.Equal(t, 2, cfg.Chat.ReconnectAttempts)
		assert.Equal(t, "/ai-chat", cfg.Chat.Namespace)
		assert.Equal(t, 1000, cfg.Chat.ReconnectDelay)
		assert.Equal(t, CredentialSourceFile, cfg.Credentials.Source)
		assert.Equal(t, filepath.Join(filepath.Dir(configPath), "token"), cfg.Credentials.File)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"chat":{"base_url":"https://file.example.com"}}`), 0644))

		t.Setenv("AGENCYCHAT_CHAT_BASE_URL", "https://env.example.com")
		t.Setenv("AGENCYCHAT_SERVER_PORT", "9999")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "https://env.example.com", cfg.Chat.BaseURL)
		assert.Equal(t, 9999, cfg.Server.Port)
	})

	t.Run("invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"chat":`), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "agencychat.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Chat.BaseURL = "https://saved.example.com"
	cfg.Credentials.Source = CredentialSourceStatic
	cfg.Credentials.Token = "static-token"
	cfg.Server.Port = 9000

	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://saved.example.com", loaded.Chat.BaseURL)
	assert.Equal(t, CredentialSourceStatic, loaded.Credentials.Source)
	assert.Equal(t, "static-token", loaded.Credentials.Token)
	assert.Equal(t, 9000, loaded.Server.Port)
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
