package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims("user-1", "avery@example.com", "moderator", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Email != "avery@example.com" || claims.Role != "moderator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.JTI == "" || claims.Iss != Issuer {
		t.Fatalf("expected jti and issuer, got %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("secret")
	expired, err := IssueToken(secret, Claims{
		Iss: Issuer,
		Sub: "user-1",
		JTI: "jti-1",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	foreign, err := IssueToken(secret, Claims{
		Iss: "someone-else",
		Sub: "user-1",
		JTI: "jti-2",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	valid, err := IssueToken(secret, NewClaims("user-1", "a@example.com", "contributor", time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	cases := []struct {
		name   string
		secret string
		token  string
		want   error
	}{
		{name: "expired", secret: "secret", token: expired, want: ErrExpiredToken},
		{name: "wrong issuer", secret: "secret", token: foreign, want: ErrInvalidToken},
		{name: "wrong secret", secret: "other", token: valid, want: ErrInvalidToken},
		{name: "malformed", secret: "secret", token: "garbage", want: ErrInvalidToken},
		{name: "extra segment", secret: "secret", token: valid + ".x", want: ErrInvalidToken},
		{name: "tampered payload", secret: "secret", token: "e30" + valid[strings.Index(valid, "."):], want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseToken([]byte(tc.secret), tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	if _, err := IssueToken(nil, NewClaims("user-1", "", "contributor", time.Hour)); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestRefreshTokens(t *testing.T) {
	first, second := NewRefreshToken(), NewRefreshToken()
	if len(first) != 64 || first == second {
		t.Fatalf("expected distinct 64-char tokens, got %q and %q", first, second)
	}
	if HashToken(first) != HashToken(first) || HashToken(first) == first {
		t.Fatal("HashToken must be deterministic and differ from input")
	}
}
