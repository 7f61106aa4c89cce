package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestTokens(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()
	svc, err := NewTokenService([]byte("test-secret"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

func TestTokenLifetime(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	svc := newTestTokens(t, clock)

	token, issued, err := svc.Issue("user-42", "u@x.com", "Admin", "admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !issued.ExpiresAt.Time.Equal(t0.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expires at %v, want issued-at + 7d", issued.ExpiresAt.Time)
	}

	clock.now = t0.Add(6 * 24 * time.Hour)
	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify at +6d: %v", err)
	}
	if claims.UserID != "user-42" || claims.Email != "u@x.com" {
		t.Fatalf("unexpected subject: %+v", claims)
	}
	if !claims.IsAdmin() || len(claims.Roles) != 1 {
		t.Fatalf("roles not preserved: %v", claims.Roles)
	}

	clock.now = t0.Add(7 * 24 * time.Hour)
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("Verify at exact expiry: %v", err)
	}

	clock.now = t0.Add(8 * 24 * time.Hour)
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Verify at +8d: expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenTamperedPayload(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestTokens(t, clock)
	token, _, err := svc.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	payload["email"] = "attacker@x.com"
	mutated, _ := json.Marshal(payload)
	parts[1] = base64.RawURLEncoding.EncodeToString(mutated)

	if _, err := svc.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenTamperedSignature(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestTokens(t, clock)
	token, _, err := svc.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)

	if _, err := svc.Verify(strings.Join(parts, ".")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenInvalidInputsCollapse(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	svc := newTestTokens(t, clock)

	other, err := NewTokenService([]byte("other-secret"), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	foreign, _, err := other.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(clock.now),
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(SessionTTL)),
		},
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, token := range map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"wrong secret":  foreign,
		"alg none":      none,
		"whitespace":    "   ",
		"two segments":  "abc.def",
		"random base64": "eyJhbGciOiJIUzI1NiJ9.e30.c2ln",
	} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestTokenIssuerMismatch(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	a, _ := NewTokenService([]byte("s"), WithClock(clock.Now), WithIssuer("a"))
	b, _ := NewTokenService([]byte("s"), WithClock(clock.Now), WithIssuer("b"))
	token, _, err := a.Issue("user-1", "a@x.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	if _, err := NewTokenService(nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	svc := newTestTokens(t, &fakeClock{now: time.Now()})
	if _, _, err := svc.Issue("  ", "a@x.com"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
