package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	tests := []struct {
		name     string
		password string
	}{
		{"simple", "password123"},
		{"symbols", "P@ssw0rd!#$%^&*()"},
		{"unicode", "密码12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if hash == tt.password {
				t.Fatalf("hash equals password")
			}
			if err := h.Verify(tt.password, hash); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := h.Verify(tt.password+"x", hash); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
		})
	}
	if err := h.Verify("anything", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty hash should never verify")
	}
}

func TestNewPasswordHasherClampsCost(t *testing.T) {
	if h := NewPasswordHasher(99); h.cost != DefaultBcryptCost {
		t.Fatalf("expected default cost, got %d", h.cost)
	}
}

func newManager(t *testing.T, now time.Time) TokenManager {
	t.Helper()
	m, err := NewTokenManager(TokenConfig{Secret: "test-secret-0123456789", TTL: time.Hour, Issuer: "tasktracker"})
	if err != nil {
		t.Fatal(err)
	}
	return m.WithClock(func() time.Time { return now })
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newManager(t, now)
	token, exp, err := m.Issue(42, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	id, err := claims.WorkerID()
	if err != nil || id != 42 || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v (%v)", claims, err)
	}
}

func TestTokenRejections(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := newManager(t, now)
	token, _, err := m.Issue(7, "bob")
	if err != nil {
		t.Fatal(err)
	}

	later := m.WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	if _, err := later.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired, got %v", err)
	}

	other, err := NewTokenManager(TokenConfig{Secret: "another-secret-987654", TTL: time.Hour, Issuer: "tasktracker"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.WithClock(func() time.Time { return now }).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid for wrong secret, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "7"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none rejected, got %v", err)
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "tasktracker",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}).SignedString([]byte("test-secret-0123456789"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(noSubject); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected missing subject rejected, got %v", err)
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager(TokenConfig{TTL: time.Hour}); err == nil {
		t.Fatalf("expected error without secret")
	}
	if _, err := NewTokenManager(TokenConfig{Secret: "s"}); err == nil {
		t.Fatalf("expected error without ttl")
	}
}

func TestNewAPIKey(t *testing.T) {
	id1, secret1 := NewAPIKey()
	id2, secret2 := NewAPIKey()
	if id1 == id2 || secret1 == secret2 {
		t.Fatalf("keys should be unique")
	}
	if !strings.HasPrefix(secret1, apiKeyPrefix) || strings.Contains(secret1, "-") {
		t.Fatalf("unexpected secret shape %q", secret1)
	}
}
