// Package auth signs and verifies the API's bearer tokens. A token is
// base64url(JSON claims) + "." + base64url(HMAC-SHA256 of the first part).
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Issuer is stamped into every access token; tokens from other issuers that
// happen to share the secret are rejected.
const Issuer = "feedbackhub"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims identify the signed-in user. Role is a snapshot; permission checks
// reload the user so a role change applies before the token expires.
type Claims struct {
	Iss   string `json:"iss"`
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
	JTI   string `json:"jti"`
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
}

func NewClaims(userID, email, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		Iss:   Issuer,
		Sub:   userID,
		Email: email,
		Role:  role,
		JTI:   uuid.NewString(),
		Iat:   now.Unix(),
		Exp:   now.Add(ttl).Unix(),
	}
}

func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Exp, 0)
}

func (c Claims) valid() bool {
	return c.Iss == Issuer && c.Sub != "" && c.JTI != "" && c.Exp != 0
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("issue token: empty signing secret")
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + signature(secret, payload), nil
}

// ParseToken checks the signature before looking at the claims, so an
// unsigned payload is never decoded.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sig == "" || strings.Contains(sig, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(signature(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil || !claims.valid() {
		return Claims{}, ErrInvalidToken
	}
	if !time.Now().Before(claims.ExpiresAt()) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func signature(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken is the storage key for refresh tokens; the raw value is never persisted.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// NewRefreshToken returns 32 random bytes, hex encoded.
func NewRefreshToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
