package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when a hasher is built without an explicit cost.
const DefaultBcryptCost = 12

// API key secrets carry this prefix so they are recognisable in logs and config.
const apiKeyPrefix = "tk_"

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
)

// PasswordHasher hashes and verifies worker passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return PasswordHasher{cost: cost}
}

func (h PasswordHasher) Hash(password string) (string, error) {
	cost := h.cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Verify returns ErrInvalidCredentials when password does not match hash.
func (h PasswordHasher) Verify(password, hash string) error {
	if hash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// TokenConfig configures session token signing.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// WorkerID returns the worker id carried in the subject claim.
func (c Claims) WorkerID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenManager(cfg TokenConfig) (TokenManager, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return TokenManager{}, errors.New("jwt secret not configured")
	}
	if cfg.TTL <= 0 {
		return TokenManager{}, errors.New("token ttl must be positive")
	}
	return TokenManager{cfg: cfg, now: time.Now}, nil
}

// WithClock returns a copy that reads time from now.
func (m TokenManager) WithClock(now func() time.Time) TokenManager {
	m.now = now
	return m
}

func (m TokenManager) TTL() time.Duration { return m.cfg.TTL }

// Issue signs a token for the worker.
func (m TokenManager) Issue(workerID int64, username string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.cfg.TTL)
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   strconv.FormatInt(workerID, 10),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses token and returns its claims.
func (m TokenManager) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.cfg.Issuer))
	}
	claims := Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if _, err := claims.WorkerID(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// NewAPIKey returns a key id and the secret shown once to the caller.
func NewAPIKey() (id, secret string) {
	return uuid.NewString(), apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
