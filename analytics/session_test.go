package analytics

import (
	"net/http/httptest"
	"regexp"
	"testing"
	"time"
)

func TestHashIsDeterministicAndSaltSensitive(t *testing.T) {
	a := NewSessionManager("salt-one", "bsid", time.Hour, false)
	b := NewSessionManager("salt-two", "bsid", time.Hour, false)

	if a.Hash("token") != a.Hash("token") {
		t.Error("expected identical inputs to hash identically")
	}
	if a.Hash("token") == a.Hash("other") {
		t.Error("expected distinct inputs to hash differently")
	}
	if a.Hash("token") == b.Hash("token") {
		t.Error("expected different salts to yield different digests")
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(a.Hash("token")) {
		t.Errorf("expected hex sha256 digest, got %q", a.Hash("token"))
	}
}

func TestEnsureSession(t *testing.T) {
	m := NewSessionManager("salt", "bsid", time.Hour, false)

	existing := "a-plausible-session-token-value"
	if token, isNew := m.EnsureSession(existing); isNew || token != existing {
		t.Errorf("expected existing token kept, got %q (new=%v)", token, isNew)
	}

	token, isNew := m.EnsureSession("")
	if !isNew || len(token) < 16 {
		t.Errorf("expected fresh token minted, got %q (new=%v)", token, isNew)
	}

	// Implausibly short or long values are replaced.
	if _, isNew := m.EnsureSession("short"); !isNew {
		t.Error("expected short token replaced")
	}
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	if _, isNew := m.EnsureSession(string(long)); !isNew {
		t.Error("expected oversized token replaced")
	}

	// Two mints never collide.
	other, _ := m.EnsureSession("")
	if token == other {
		t.Error("expected distinct tokens per mint")
	}
}

func TestWriteCookieAttributes(t *testing.T) {
	m := NewSessionManager("salt", "bsid", 2*time.Hour, true)
	rec := httptest.NewRecorder()
	m.WriteCookie(rec, "tok")

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "bsid" || c.Value != "tok" {
		t.Errorf("unexpected cookie %q=%q", c.Name, c.Value)
	}
	if !c.HttpOnly || !c.Secure {
		t.Errorf("expected HttpOnly and Secure set, got %+v", c)
	}
	if c.MaxAge != 7200 {
		t.Errorf("expected max age 7200s, got %d", c.MaxAge)
	}
	if c.Path != "/" {
		t.Errorf("expected path /, got %q", c.Path)
	}
}
