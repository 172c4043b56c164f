package auth

import (
	"strings"
	"testing"
	"time"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("admin123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := VerifyPassword("admin123", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
	if _, err := VerifyPassword("x", "plain"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey("sk-")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := GenerateAPIKey("sk-")
	if !strings.HasPrefix(a, "sk-") || len(a) != 3+48 {
		t.Fatalf("unexpected key %q", a)
	}
	if a == b {
		t.Fatalf("keys should differ")
	}
}

func TestTokenIssueVerify(t *testing.T) {
	tm, err := NewTokenManager("secret", time.Hour, "test")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	raw, session, err := tm.Issue("admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := tm.Verify(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Username != "admin" || got.TokenID != session.TokenID {
		t.Fatalf("unexpected session %+v", got)
	}

	other, _ := NewTokenManager("different", time.Hour, "test")
	if _, err := other.Verify(raw); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestTokenExpiry(t *testing.T) {
	tm, _ := NewTokenManager("secret", time.Minute, "test")
	base := time.Now()
	tm.now = func() time.Time { return base }
	raw, _, err := tm.Issue("admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	tm.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := tm.Verify(raw); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
