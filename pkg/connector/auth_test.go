package connector

import (
	"testing"
	"time"
)

func TestAuthenticator_IssueThenVerifyRoundTrips(t *testing.T) {
	auth := NewAuthenticator([]byte("test-signing-key"))

	token, err := auth.IssueToken("slack-1", "u-42", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.ConnectorID != "slack-1" || claims.UserID != "u-42" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestAuthenticator_RejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator([]byte("test-signing-key"))

	token, err := auth.IssueToken("slack-1", "u-42", -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := auth.Verify(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestAuthenticator_RejectsWrongSigningKey(t *testing.T) {
	issuer := NewAuthenticator([]byte("key-a"))
	verifier := NewAuthenticator([]byte("key-b"))

	token, err := issuer.IssueToken("slack-1", "u-42", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
}
