package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret is returned when token operations run without a configured
// signing secret.
var ErrNoSecret = errors.New("jwt secret is not configured")

// Claims is the payload carried in a session token.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// CreateToken signs an HS256 session token for the user.
func (s *Store) CreateToken(u *User) (string, error) {
	if s.secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
}

// VerifyToken validates a session token and returns its claims. Expired,
// malformed, and foreign-signed tokens all fail.
func (s *Store) VerifyToken(token string) (*Claims, error) {
	if s.secret == "" {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.UserID == "" || claims.Username == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
