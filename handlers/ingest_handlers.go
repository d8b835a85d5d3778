package handlers

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"inkwell/api/analytics"
	"inkwell/api/models"
	"inkwell/api/ratelimit"
)

// Collect request bodies larger than this are not even parsed.
const maxCollectBodyBytes = 256 * 1024

// RawEventWriter is the slice of the event store ingestion needs.
type RawEventWriter interface {
	InsertRawEvents(ctx context.Context, events []models.RawEvent) error
}

// StateReconciler merges persisted events into read-state aggregates.
type StateReconciler interface {
	Apply(ctx context.Context, events []models.RawEvent) error
}

// IngestHandlers owns the collect endpoint and the session-cookie endpoint.
//
// The collect contract is deliberately one-sided: the response is 202 with
// an accepted count, or 204 — never an error status. Analytics is a side
// channel of the blog and must not surface failures to readers, so policy
// rejections, malformed payloads and storage outages all collapse to 204.
type IngestHandlers struct {
	Events     RawEventWriter
	Reconciler StateReconciler
	Limiter    ratelimit.Limiter
	Sessions   *analytics.SessionManager
	Filter     *analytics.Filter
	Normalizer *analytics.Normalizer
	Flag       *analytics.FlagCache
}

func NewIngestHandlers(events RawEventWriter, reconciler StateReconciler, limiter ratelimit.Limiter,
	sessions *analytics.SessionManager, filter *analytics.Filter, normalizer *analytics.Normalizer,
	flag *analytics.FlagCache) *IngestHandlers {
	return &IngestHandlers{
		Events:     events,
		Reconciler: reconciler,
		Limiter:    limiter,
		Sessions:   sessions,
		Filter:     filter,
		Normalizer: normalizer,
		Flag:       flag,
	}
}

// Session issues (or silently keeps) the anonymous visitor cookie. The blog
// page calls this before the client producer flushes its first batch.
func (h *IngestHandlers) Session(c *gin.Context) {
	existing, _ := c.Cookie(h.Sessions.CookieName())
	token, isNew := h.Sessions.EnsureSession(existing)
	if isNew {
		h.Sessions.WriteCookie(c.Writer, token)
	}
	c.Status(http.StatusNoContent)
}

// Collect ingests one batch of client events.
func (h *IngestHandlers) Collect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if !h.Flag.Enabled(ctx) {
		c.Status(http.StatusNoContent)
		return
	}
	if !h.Filter.ShouldAccept(c.Request) {
		c.Status(http.StatusNoContent)
		return
	}

	// No cookie means the session endpoint has not run yet; the producer
	// will retry on a later page. Sessions are never assigned here.
	token, err := c.Cookie(h.Sessions.CookieName())
	if err != nil || token == "" {
		c.Status(http.StatusNoContent)
		return
	}
	sessionHash := h.Sessions.Hash(token)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCollectBodyBytes))
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}

	normalized := h.Normalizer.NormalizeBatch(body, analytics.NormalizeContext{
		SessionHash:    sessionHash,
		IPHash:         h.Sessions.Hash(c.ClientIP()),
		UserAgent:      c.Request.UserAgent(),
		DeviceFallback: models.DeviceDesktop,
	})

	// One rate-limit unit per event, not per batch. The first denial drops
	// the remainder silently.
	var accepted []models.RawEvent
	for _, event := range normalized {
		result, err := h.Limiter.Consume(ctx, sessionHash)
		if err != nil {
			log.Printf("Rate limiter error for collect batch: %v", err)
			break
		}
		if !result.Allowed {
			break
		}
		accepted = append(accepted, event)
	}

	if len(accepted) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.Events.InsertRawEvents(ctx, accepted); err != nil {
		log.Printf("Error inserting analytics events: %v", err)
		c.Status(http.StatusNoContent)
		return
	}
	if err := h.Reconciler.Apply(ctx, accepted); err != nil {
		log.Printf("Error reconciling read state: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(accepted)})
}
