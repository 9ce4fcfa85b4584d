// Package auth signs session cookies and hashes user credentials.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrInvalidToken is returned for any cookie value that does not verify.
var ErrInvalidToken = errors.New("auth: invalid session token")

// CookieSigner seals an opaque session token into a signed value so a
// client cannot forge or guess another session id. The signed value carries
// no authority by itself: the session id must still resolve in the session
// store.
type CookieSigner struct {
	keys      map[string]string // kid -> secret
	activeKid string
	duration  time.Duration // zero means no expiry claim
}

// Claims is the signed payload: the opaque session id plus the user id it
// was issued for.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	jwt.RegisteredClaims
}

// NewCookieSigner returns a signer using a single HMAC secret.
func NewCookieSigner(secret string, duration time.Duration) *CookieSigner {
	return &CookieSigner{
		keys:      map[string]string{"": secret},
		activeKid: "",
		duration:  duration,
	}
}

// NewCookieSignerFromKeys returns a signer that signs with activeKid and
// verifies with any of keys, so older cookies survive a key rotation.
func NewCookieSignerFromKeys(keys map[string]string, activeKid string, duration time.Duration) (*CookieSigner, error) {
	if len(keys) == 0 {
		return nil, errors.New("auth: no signing keys")
	}
	if _, ok := keys[activeKid]; !ok {
		return nil, errors.Errorf("auth: active kid %q not among keys", activeKid)
	}
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &CookieSigner{keys: cp, activeKid: activeKid, duration: duration}, nil
}

// NewRandomCookieSigner returns a signer with a process-local random secret.
// Cookies do not survive a restart, which matches the in-memory session
// store's lifetime.
func NewRandomCookieSigner() (*CookieSigner, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, errors.Wrap(err, "auth: generate secret")
	}
	return NewCookieSigner(hex.EncodeToString(b[:]), 0), nil
}

// Sign returns the signed cookie value for a session.
func (s *CookieSigner) Sign(sessionID, userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.duration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.duration))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.activeKid != "" {
		token.Header["kid"] = s.activeKid
	}
	signed, err := token.SignedString([]byte(s.keys[s.activeKid]))
	if err != nil {
		return "", errors.Wrap(err, "auth: sign session")
	}
	return signed, nil
}

// Verify parses a signed cookie value and returns its claims.
func (s *CookieSigner) Verify(value string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		// reject anything that is not HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		secret, ok := s.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
