package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"inkwell/api/analytics"
	"inkwell/api/models"
	"inkwell/api/ratelimit"
)

const visitorUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0 Safari/537.36"

type fakeEventWriter struct {
	inserted []models.RawEvent
	err      error
}

func (f *fakeEventWriter) InsertRawEvents(_ context.Context, events []models.RawEvent) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, events...)
	return nil
}

type fakeReconciler struct {
	applied []models.RawEvent
	err     error
}

func (f *fakeReconciler) Apply(_ context.Context, events []models.RawEvent) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, events...)
	return nil
}

type ingestFixture struct {
	handlers   *IngestHandlers
	writer     *fakeEventWriter
	reconciler *fakeReconciler
	router     *gin.Engine
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	writer := &fakeEventWriter{}
	reconciler := &fakeReconciler{}
	sessions := analytics.NewSessionManager("test-salt", "bsid", time.Hour, false)
	h := NewIngestHandlers(
		writer,
		reconciler,
		ratelimit.NewMemoryLimiter(time.Minute, 100),
		sessions,
		&analytics.Filter{},
		analytics.NewNormalizer(analytics.NormalizerConfig{ReadProgressSampleRate: 1}),
		analytics.NewFlagCache(time.Minute, func(ctx context.Context) (bool, error) { return true, nil }),
	)

	router := gin.New()
	router.GET("/api/session", h.Session)
	router.POST("/api/collect", h.Collect)
	return &ingestFixture{handlers: h, writer: writer, reconciler: reconciler, router: router}
}

func (f *ingestFixture) collect(body string, setup func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/collect", strings.NewReader(body))
	req.Header.Set("User-Agent", visitorUA)
	req.Header.Set("Content-Type", "application/json")
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func withSessionCookie(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "bsid", Value: "a-plausible-session-token"})
}

const pageViewBatch = `{"events":[{"name":"page_view","clientTs":0,"page":{"path":"/posts/hello?ref=1","referrer":"https://news.example/"}}]}`

func TestCollectAcceptsBatch(t *testing.T) {
	f := newIngestFixture(t)

	rec := f.collect(pageViewBatch, withSessionCookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accepted"] != 1 {
		t.Errorf("expected accepted count 1, got %d", resp["accepted"])
	}

	if len(f.writer.inserted) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(f.writer.inserted))
	}
	stored := f.writer.inserted[0]
	if stored.Name != models.EventPageView {
		t.Errorf("expected page_view stored, got %q", stored.Name)
	}
	if stored.Path != "/posts/hello" {
		t.Errorf("expected query stripped from path, got %q", stored.Path)
	}
	if stored.SessionHash == "" || stored.SessionHash == "a-plausible-session-token" {
		t.Errorf("expected hashed session, got %q", stored.SessionHash)
	}
	if len(f.reconciler.applied) != 1 {
		t.Errorf("expected reconciler invoked with stored events, got %d", len(f.reconciler.applied))
	}
}

func TestCollectWithoutCookieIsSilent(t *testing.T) {
	f := newIngestFixture(t)
	rec := f.collect(pageViewBatch, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 without session cookie, got %d", rec.Code)
	}
	if len(f.writer.inserted) != 0 {
		t.Error("expected nothing stored without a session")
	}
}

func TestCollectRespectsDoNotTrack(t *testing.T) {
	f := newIngestFixture(t)
	rec := f.collect(pageViewBatch, func(req *http.Request) {
		withSessionCookie(req)
		req.Header.Set("DNT", "1")
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for DNT traffic, got %d", rec.Code)
	}
	if len(f.writer.inserted) != 0 {
		t.Error("expected nothing stored for DNT traffic")
	}
}

func TestCollectNeverSurfacesStorageErrors(t *testing.T) {
	f := newIngestFixture(t)
	f.writer.err = errors.New("clickhouse unreachable")

	rec := f.collect(pageViewBatch, withSessionCookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on storage outage, got %d", rec.Code)
	}
	if len(f.reconciler.applied) != 0 {
		t.Error("expected reconciliation skipped after failed insert")
	}
}

func TestCollectNeverSurfacesReconcileErrors(t *testing.T) {
	f := newIngestFixture(t)
	f.reconciler.err = errors.New("postgres unreachable")

	rec := f.collect(pageViewBatch, withSessionCookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on reconcile failure, got %d", rec.Code)
	}
}

func TestCollectMalformedBodyIsSilent(t *testing.T) {
	f := newIngestFixture(t)
	for _, body := range []string{"", "not json", `{"events":"nope"}`, `[]`} {
		rec := f.collect(body, withSessionCookie)
		if rec.Code != http.StatusNoContent {
			t.Errorf("body %q: expected 204, got %d", body, rec.Code)
		}
	}
}

func TestCollectKillSwitch(t *testing.T) {
	f := newIngestFixture(t)
	f.handlers.Flag = analytics.NewFlagCache(time.Minute, func(ctx context.Context) (bool, error) {
		return false, nil
	})

	rec := f.collect(pageViewBatch, withSessionCookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 while analytics is disabled, got %d", rec.Code)
	}
	if len(f.writer.inserted) != 0 {
		t.Error("expected nothing stored while disabled")
	}
}

func TestCollectRateLimitTruncatesBatch(t *testing.T) {
	f := newIngestFixture(t)
	f.handlers.Limiter = ratelimit.NewMemoryLimiter(time.Minute, 2)

	batch := `[
		{"name":"page_view","clientTs":0,"page":{"path":"/a"}},
		{"name":"page_view","clientTs":0,"page":{"path":"/b"}},
		{"name":"page_view","clientTs":0,"page":{"path":"/c"}}
	]`
	rec := f.collect(batch, withSessionCookie)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for the admitted prefix, got %d", rec.Code)
	}
	if len(f.writer.inserted) != 2 {
		t.Fatalf("expected admission capped at 2 events, got %d", len(f.writer.inserted))
	}

	// The window is exhausted; a follow-up batch collapses to 204.
	rec = f.collect(pageViewBatch, withSessionCookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 once the window is exhausted, got %d", rec.Code)
	}
}

func TestSessionEndpointMintsCookieOnce(t *testing.T) {
	f := newIngestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "bsid" || cookies[0].Value == "" {
		t.Fatalf("expected fresh bsid cookie, got %+v", cookies)
	}

	// An existing plausible cookie is kept, not rotated.
	req = httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: "bsid", Value: cookies[0].Value})
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("expected no Set-Cookie when a session already exists")
	}
}
