package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.io/infrasutra/gigdesk/internal/apperr"
	"github.io/infrasutra/gigdesk/internal/store"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestIssueAndParse(t *testing.T) {
	m, err := New("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	token, err := m.Issue(Identity{UserID: "u1", Email: "Ada@Example.com", Role: store.RoleClient}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	id, err := m.Parse(token, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.UserID != "u1" || id.Email != "ada@example.com" || id.Role != store.RoleClient || id.IsAdmin() {
		t.Fatalf("identity = %+v", id)
	}
}

func TestParseRejects(t *testing.T) {
	m, _ := New("test-secret", time.Hour)
	other, _ := New("other-secret", time.Hour)
	valid, _ := m.Issue(Identity{UserID: "u1", Role: store.RoleAdmin}, now)
	foreign, _ := other.Issue(Identity{UserID: "u1", Role: store.RoleAdmin}, now)
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1", "role": "admin", "iss": "gigdesk", "exp": now.Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{"empty", "", now},
		{"garbage", "not.a.token", now},
		{"expired", valid, now.Add(2 * time.Hour)},
		{"wrong secret", foreign, now},
		{"alg none", unsigned, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Parse(tt.token, tt.at); !apperr.IsKind(err, apperr.KindAuthentication) {
				t.Fatalf("Parse = %v, want authentication error", err)
			}
		})
	}
}

func TestIssueValidatesIdentity(t *testing.T) {
	m, _ := New("", time.Hour)
	if _, err := m.Issue(Identity{Role: store.RoleAdmin}, now); err == nil {
		t.Fatal("issued a token without a user id")
	}
	if _, err := m.Issue(Identity{UserID: "u1", Role: "owner"}, now); err == nil {
		t.Fatal("issued a token with an unknown role")
	}
}

func TestTokenFromRequest(t *testing.T) {
	m, _ := New("s", time.Hour)

	r := httptest.NewRequest("GET", "/api/me", nil)
	r.Header.Set("Authorization", "Bearer abc")
	r.AddCookie(&http.Cookie{Name: "gigdesk_session", Value: "cookie"})
	if got := m.TokenFromRequest(r); got != "abc" {
		t.Fatalf("bearer token = %q", got)
	}

	r = httptest.NewRequest("GET", "/api/me", nil)
	r.AddCookie(&http.Cookie{Name: "gigdesk_session", Value: "cookie"})
	if got := m.TokenFromRequest(r); got != "cookie" {
		t.Fatalf("cookie token = %q", got)
	}

	r = httptest.NewRequest("GET", "/api/me", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := m.TokenFromRequest(r); got != "" {
		t.Fatalf("basic auth token = %q", got)
	}
}

func TestCronAuthorized(t *testing.T) {
	if CronAuthorized("", "") || CronAuthorized("", "x") {
		t.Fatal("empty secret must reject everything")
	}
	if CronAuthorized("s3cret", "s3cre") || CronAuthorized("s3cret", "") {
		t.Fatal("mismatch accepted")
	}
	if !CronAuthorized("s3cret", "s3cret") {
		t.Fatal("matching secret rejected")
	}
}
