package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erazemk/najdeno/internal/model"
)

// Issuer is set on every token and required when validating.
const Issuer = "najdeno"

// TokenExpiry is the default token lifetime.
const TokenExpiry = 24 * time.Hour

// ErrIncompleteToken is returned for a well-signed token without user id or JTI.
var ErrIncompleteToken = errors.New("token is missing user or id")

// Claims identifies the token holder; the notifier routes match emails to
// the name and email carried here.
type Claims struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Contact returns the notification contact of the token holder.
func (c *Claims) Contact() model.Contact {
	return model.Contact{UserID: c.UserID, Name: c.Name, Email: c.Email}
}

// GenerateToken signs an HS256 token for u. The JTI is a fresh UUID so a
// single session can be revoked on logout. A non-positive ttl means TokenExpiry.
func GenerateToken(secret string, u *model.User, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = TokenExpiry
	}

	now := time.Now()
	claims := Claims{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
func ValidateToken(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if claims.UserID == 0 || claims.ID == "" {
		return nil, ErrIncompleteToken
	}
	return claims, nil
}
