package analytics

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log"
	"net/http"
	"time"
)

// fallbackSalt keeps analytics functional when ANALYTICS_SALT is not set.
// Deployment docs require a real salt in production; a missing one is logged
// at startup, not treated as a fatal error.
const fallbackSalt = "inkwell-dev-salt-do-not-deploy"

// SessionManager issues and hashes the anonymous visitor session token. The
// token lives in an HTTP-only cookie and is never persisted; storage only
// ever sees the salted HMAC-SHA256 digest.
type SessionManager struct {
	salt       []byte
	cookieName string
	maxAge     time.Duration
	secure     bool
}

func NewSessionManager(salt, cookieName string, maxAge time.Duration, secure bool) *SessionManager {
	if salt == "" {
		log.Println("WARNING: ANALYTICS_SALT not set, falling back to built-in development salt")
		salt = fallbackSalt
	}
	return &SessionManager{
		salt:       []byte(salt),
		cookieName: cookieName,
		maxAge:     maxAge,
		secure:     secure,
	}
}

func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// EnsureSession returns the existing token when the cookie already carries a
// plausible one, otherwise mints a fresh random token. Existing tokens are
// never rotated within their lifetime.
func (m *SessionManager) EnsureSession(existing string) (token string, isNew bool) {
	if len(existing) >= 16 && len(existing) <= 128 {
		return existing, false
	}
	return generateToken(), true
}

// Hash returns the hex-encoded salted HMAC-SHA256 of value. Used for both
// session tokens and client IPs so neither ever reaches storage raw.
func (m *SessionManager) Hash(value string) string {
	mac := hmac.New(sha256.New, m.salt)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// WriteCookie sets the session cookie with the attributes the privacy
// posture requires: HttpOnly, SameSite=Lax, Secure in production.
func (m *SessionManager) WriteCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.maxAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Printf("ERROR: Failed to generate random bytes for session token: %v", err)
		return "fallback_" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
