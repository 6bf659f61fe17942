// Package auth issues and verifies the signed session tokens that carry a
// portal user's identity, and checks the cron trigger secret.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/store"
)

const (
	cookieName = "gigdesk_session"
	issuer     = "gigdesk"
)

// Identity is the caller behind a verified token.
type Identity struct {
	UserID string     `json:"userId"`
	Email  string     `json:"email"`
	Role   store.Role `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == store.RoleAdmin
}

type claims struct {
	Email string     `json:"email"`
	Role  store.Role `json:"role"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	maxAge time.Duration
}

// New returns a Manager signing with secret. An empty secret is replaced by
// a random one, which invalidates tokens on every restart.
func New(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Issue signs an HS256 token for id valid from now for MaxAge.
func (m *Manager) Issue(id Identity, now time.Time) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", errors.New("user id is required")
	}
	if id.Role != store.RoleAdmin && id.Role != store.RoleClient {
		return "", fmt.Errorf("unknown role %q", id.Role)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: strings.ToLower(strings.TrimSpace(id.Email)),
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	})
	return token.SignedString(m.secret)
}

// Parse verifies token at now. Any failure is an Authentication error.
func (m *Manager) Parse(token string, now time.Time) (Identity, error) {
	const op = "auth.Parse"
	if token == "" {
		return Identity{}, apperr.Authentication(op, "missing session token")
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Authentication(op, "session expired")
		}
		return Identity{}, apperr.Authentication(op, "invalid session token")
	}
	if c.Subject == "" || (c.Role != store.RoleAdmin && c.Role != store.RoleClient) {
		return Identity{}, apperr.Authentication(op, "invalid session token")
	}
	return Identity{UserID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

// TokenFromRequest returns the bearer token, or the session cookie when
// there is no Authorization header.
func (m *Manager) TokenFromRequest(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// CronAuthorized compares the presented token with the configured secret in
// constant time. An empty secret authorizes nothing.
func CronAuthorized(secret, presented string) bool {
	if secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1
}

func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}
