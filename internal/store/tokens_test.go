package store

import (
	"context"
	"testing"
	"time"

	"github.com/erazemk/najdeno/internal/db"
)

func TestLogoutRevocation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	isRevoked := func(jti string) bool {
		t.Helper()
		revoked, err := IsTokenRevoked(ctx, database, jti)
		if err != nil {
			t.Fatalf("IsTokenRevoked(%s): %v", jti, err)
		}
		return revoked
	}

	if isRevoked("session-a") {
		t.Fatal("fresh token reported as revoked")
	}
	exp := time.Now().Add(time.Hour)
	if err := RevokeToken(ctx, database, "session-a", exp); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if err := RevokeToken(ctx, database, "session-a", exp.Add(time.Hour)); err != nil {
		t.Fatalf("second RevokeToken: %v", err)
	}
	if !isRevoked("session-a") {
		t.Error("logged-out token should be revoked")
	}
	if isRevoked("session-b") {
		t.Error("other sessions must stay valid")
	}
	if err := RevokeToken(ctx, database, "", exp); err == nil {
		t.Error("expected error for empty jti")
	}
}

func TestPurgeRevokedTokens(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := RevokeToken(ctx, database, "old", now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := RevokeToken(ctx, database, "live", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := PurgeRevokedTokens(ctx, database, now)
	if err != nil {
		t.Fatalf("PurgeRevokedTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if revoked, _ := IsTokenRevoked(ctx, database, "live"); !revoked {
		t.Error("unexpired revocation was purged")
	}
}
