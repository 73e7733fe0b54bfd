// Package credentials supplies bearer tokens to chat sessions. Providers read their source on
// every call; nothing is cached between connects.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/harun/agencychat/pkg/chat"
)

// Static returns a provider that always yields token.
func Static(token string) chat.CredentialProvider {
	return chat.CredentialFunc(func(context.Context) (string, error) {
		return strings.TrimSpace(token), nil
	})
}

// Env returns a provider that reads the named environment variable on each call.
func Env(name string) chat.CredentialProvider {
	return chat.CredentialFunc(func(context.Context) (string, error) {
		return strings.TrimSpace(os.Getenv(name)), nil
	})
}

// FileProvider reads a token from a file on each call.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider for the token file at path.
func NewFileProvider(path string) (*FileProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	return &FileProvider{path: path}, nil
}

// Path returns the token file path.
func (p *FileProvider) Path() string {
	return p.path
}

// Token returns the trimmed file contents. A missing file yields an empty token.
func (p *FileProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
