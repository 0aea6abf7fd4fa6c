package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers malformed, unsigned, tampered and expired tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingClaim means the token verified but carries no user identity.
	ErrMissingClaim = errors.New("token missing userId claim")
)

// Claims is the identity extracted from a verified token.
type Claims struct {
	UserID string
	Email  string
}

type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the bearer tokens shared between the
// HTTP signin endpoint and the WebSocket relay. Both sides hold the same
// HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) TokenService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given user.
func (s TokenService) Issue(userID, email string) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify validates the token signature and expiry and extracts the
// identity claims. It holds no state and is safe for concurrent use.
func (s TokenService) Verify(token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return Claims{}, ErrMissingClaim
	}
	return Claims{UserID: claims.UserID, Email: claims.Email}, nil
}
