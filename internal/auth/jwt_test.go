package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestHashAndCheckPassword(t *testing.T) {
	pwd := "s3cr3t-password"
	hash, err := HashPassword(pwd)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := CheckPassword(hash, pwd); err != nil {
		t.Fatalf("CheckPassword failed when password should match: %v", err)
	}

	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}

	if err := CheckPassword("", pwd); err == nil {
		t.Fatal("CheckPassword succeeded against an empty hash")
	}
}

func TestCookieSigner_SignAndVerify(t *testing.T) {
	s := NewCookieSigner("test-secret", 5*time.Minute)

	value, err := s.Sign("session-1", "alice")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	claims, err := s.Verify(value)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.SessionID != "session-1" || claims.UserID != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestCookieSigner_RejectsTampering(t *testing.T) {
	s := NewCookieSigner("test-secret", 0)
	other := NewCookieSigner("another-secret", 0)

	value, err := other.Sign("session-1", "alice")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := s.Verify(value); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	if _, err := s.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}

	good, _ := s.Sign("session-2", "bob")
	parts := strings.Split(good, ".")
	parts[1] = parts[1] + "x"
	if _, err := s.Verify(strings.Join(parts, ".")); err == nil {
		t.Fatal("expected error for modified payload")
	}
}

func TestCookieSigner_Rotation(t *testing.T) {
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	current, err := NewCookieSignerFromKeys(keys, "k2", 0)
	if err != nil {
		t.Fatalf("NewCookieSignerFromKeys failed: %v", err)
	}

	v2, err := current.Sign("s2", "u")
	if err != nil {
		t.Fatalf("Sign (k2) failed: %v", err)
	}
	if _, err := current.Verify(v2); err != nil {
		t.Fatalf("Verify (k2) failed: %v", err)
	}

	// a cookie issued while k1 was active must still verify
	previous, _ := NewCookieSignerFromKeys(keys, "k1", 0)
	v1, err := previous.Sign("s1", "u")
	if err != nil {
		t.Fatalf("Sign (k1) failed: %v", err)
	}
	if _, err := current.Verify(v1); err != nil {
		t.Fatalf("Verify (old k1) failed: %v", err)
	}

	if _, err := NewCookieSignerFromKeys(keys, "k3", 0); err == nil {
		t.Fatal("expected error for unknown active kid")
	}
}

func TestRandomCookieSigner(t *testing.T) {
	a, err := NewRandomCookieSigner()
	if err != nil {
		t.Fatalf("NewRandomCookieSigner failed: %v", err)
	}
	b, _ := NewRandomCookieSigner()

	v, _ := a.Sign("s", "u")
	if _, err := a.Verify(v); err != nil {
		t.Fatalf("Verify with own signer failed: %v", err)
	}
	if _, err := b.Verify(v); err == nil {
		t.Fatal("two random signers should not share a secret")
	}
}
