package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harun/agencychat/pkg/chat"
)

// ErrTokenExpired is returned when a JWT credential is past its exp claim.
var ErrTokenExpired = errors.New("credential expired")

// ExpiryGuard rejects JWT credentials that have already expired, so a session never dials
// with a token the server will refuse. Opaque (non-JWT) tokens pass through untouched.
// The signature is not verified here; that is the server's job.
type ExpiryGuard struct {
	next   chat.CredentialProvider
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// WithExpiryCheck wraps next with an ExpiryGuard. leeway shortens the accepted lifetime so
// tokens about to expire are treated as expired.
func WithExpiryCheck(next chat.CredentialProvider, leeway time.Duration) *ExpiryGuard {
	return &ExpiryGuard{
		next:   next,
		leeway: leeway,
		now:    time.Now,
		parser: jwt.NewParser(),
	}
}

// Token fetches a token from the wrapped provider and checks its expiry.
func (g *ExpiryGuard) Token(ctx context.Context) (string, error) {
	token, err := g.next.Token(ctx)
	if err != nil || token == "" {
		return token, err
	}

	claims := jwt.MapClaims{}
	if _, _, err := g.parser.ParseUnverified(token, claims); err != nil {
		return token, nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}

	if !g.now().Add(g.leeway).Before(exp.Time) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return token, nil
}
