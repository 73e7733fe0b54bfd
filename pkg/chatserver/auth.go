package chatserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when a client presents no credential on either channel.
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken is returned when a JWT fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator verifies client credentials. With a secret it requires an HS256 JWT signed
// with that secret; without one any non-empty token is accepted.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator for secret, which may be empty.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verifying reports whether tokens are checked as JWTs.
func (a *Authenticator) Verifying() bool {
	return len(a.secret) > 0
}

// Authenticate checks token and returns the subject it names, if any.
func (a *Authenticator) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	if !a.Verifying() {
		return "", nil
	}

	claims := jwt.RegisteredClaims{}
	parsed, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// selectToken prefers the token carried in the connect frame and falls back to the query string.
func selectToken(frameToken, queryToken string) string {
	if t := strings.TrimSpace(frameToken); t != "" {
		return t
	}
	return strings.TrimSpace(queryToken)
}
