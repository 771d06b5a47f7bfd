package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RememberTokenBytes is the amount of entropy in a remember-me token id
const RememberTokenBytes = 32

// DefaultRememberTokenExpiry is the lifetime of a remember-me token
const DefaultRememberTokenExpiry = 30 * 24 * time.Hour

// RememberClaims are carried by the signed remember-me cookie
type RememberClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// RememberToken is an issued remember-me token
type RememberToken struct {
	ID        string // hex encoded random identifier, the jti claim
	Value     string // signed JWT placed in the cookie
	ExpiresAt time.Time
}

// TokenService issues signed remember-me tokens
type TokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
	random io.Reader
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultRememberTokenExpiry
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		expiry: expiry,
		issuer: cfg.Issuer,
		now:    time.Now,
		random: rand.Reader,
	}
}

// Issue creates a remember-me token for the account
func (s *TokenService) Issue(userID int64, username string) (*RememberToken, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("remember token secret is not configured")
	}

	id, err := randomHex(s.random, RememberTokenBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)
	claims := RememberClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        id,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign remember token: %w", err)
	}

	return &RememberToken{ID: id, Value: signed, ExpiresAt: expiresAt}, nil
}

// randomHex reads n random bytes and hex encodes them
func randomHex(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
