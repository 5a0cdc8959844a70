package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erazemk/najdeno/internal/model"
)

var testUser = &model.User{ID: 1, Name: "Ana", Email: "ana@example.com", Role: model.RoleAdmin}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestTokenRoundTripCarriesContact(t *testing.T) {
	token, err := GenerateToken("secret", testUser, 0)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken("secret", token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "1" || claims.Issuer != Issuer || claims.Role != model.RoleAdmin {
		t.Errorf("unexpected claims %+v", claims)
	}
	if got := claims.Contact(); got != (model.Contact{UserID: 1, Name: "Ana", Email: "ana@example.com"}) {
		t.Errorf("Contact() = %+v", got)
	}

	other, _ := GenerateToken("secret", testUser, 0)
	oc, _ := ValidateToken("secret", other)
	if oc.ID == claims.ID {
		t.Errorf("JTIs should differ, both %q", claims.ID)
	}
}

func TestTokenLifetime(t *testing.T) {
	for _, tc := range []struct {
		ttl, want time.Duration
	}{
		{2 * time.Hour, 2 * time.Hour},
		{0, TokenExpiry},
		{-time.Hour, TokenExpiry},
	} {
		token, _ := GenerateToken("s", testUser, tc.ttl)
		claims, err := ValidateToken("s", token)
		if err != nil {
			t.Fatalf("ttl %v: %v", tc.ttl, err)
		}
		diff := time.Until(claims.ExpiresAt.Time) - tc.want
		if diff < -5*time.Second || diff > 5*time.Second {
			t.Errorf("ttl %v: expiry off by %v", tc.ttl, diff)
		}
	}
}

func TestValidateTokenRejects(t *testing.T) {
	past := jwt.NewNumericDate(time.Now().Add(-time.Minute))
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	good := func(mod func(*Claims)) Claims {
		c := Claims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{ID: "jti", Issuer: Issuer, ExpiresAt: future}}
		mod(&c)
		return c
	}
	wrongSecret, _ := GenerateToken("other", testUser, 0)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", wrongSecret},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte("s"), good(func(c *Claims) { c.ExpiresAt = past }))},
		{"no expiry", sign(t, jwt.SigningMethodHS256, []byte("s"), good(func(c *Claims) { c.ExpiresAt = nil }))},
		{"foreign issuer", sign(t, jwt.SigningMethodHS256, []byte("s"), good(func(c *Claims) { c.Issuer = "elsewhere" }))},
		{"other hmac", sign(t, jwt.SigningMethodHS512, []byte("s"), good(func(*Claims) {}))},
		{"no jti", sign(t, jwt.SigningMethodHS256, []byte("s"), good(func(c *Claims) { c.ID = "" }))},
		{"no user", sign(t, jwt.SigningMethodHS256, []byte("s"), good(func(c *Claims) { c.UserID = 0 }))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken("s", tt.token); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := ValidateToken("s", sign(t, jwt.SigningMethodHS256, []byte("s"), good(func(c *Claims) { c.ID = "" })))
	if !errors.Is(err, ErrIncompleteToken) {
		t.Errorf("missing jti: got %v, want ErrIncompleteToken", err)
	}
}
