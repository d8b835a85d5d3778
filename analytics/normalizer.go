package analytics

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"inkwell/api/models"
)

// Sanitization ceilings. Oversized inputs are clamped or dropped, never
// stored verbatim.
const (
	maxPathLength     = 512
	maxReferrerLength = 256

	// Client clocks are trusted only inside this window around server time.
	maxClockAhead  = 10 * time.Minute
	maxClockBehind = 30 * 24 * time.Hour
)

// Per-event rejection reasons. Rejected events are dropped silently; the
// distinct errors exist so each rule is unit-testable on its own.
var (
	ErrUnknownEvent  = errors.New("unknown event kind")
	ErrDisabledEvent = errors.New("event kind disabled")
	ErrSampledOut    = errors.New("event sampled out")
	ErrOversizeEvent = errors.New("encoded event exceeds size ceiling")
)

// NormalizerConfig controls validation and sampling of incoming batches.
type NormalizerConfig struct {
	// EnabledEvents is the subset of models.KnownEventKinds currently
	// accepted. Nil enables every known kind.
	EnabledEvents map[string]bool
	// ReadProgressSampleRate keeps high-frequency read_progress pings
	// storage-cheap: an event survives with this probability.
	ReadProgressSampleRate float64
	// MaxEventsPerRequest caps how many events one batch may contribute.
	MaxEventsPerRequest int
	// MaxEventBytes rejects events whose normalized encoding is larger.
	MaxEventBytes int
}

// NormalizeContext carries the per-request facts normalization needs.
type NormalizeContext struct {
	SessionHash    string
	IPHash         string
	UserAgent      string
	DeviceFallback string
}

// Normalizer turns an untrusted batch body into canonical RawEvents.
type Normalizer struct {
	cfg NormalizerConfig

	// Injected for deterministic tests.
	now     func() time.Time
	randf   func() float64
	eventID func() string
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	return &Normalizer{
		cfg:     cfg,
		now:     time.Now,
		randf:   rand.Float64,
		eventID: func() string { return uuid.New().String() },
	}
}

// NormalizeBatch decodes the request body ({"events":[...]} or a bare
// array; anything else yields an empty result) and sanitizes each candidate
// event. Invalid events are skipped without failing the rest of the batch.
func (n *Normalizer) NormalizeBatch(body []byte, nctx NormalizeContext) []models.RawEvent {
	incoming := decodeBatch(body)
	if len(incoming) == 0 {
		return nil
	}

	var out []models.RawEvent
	for _, candidate := range incoming {
		if n.cfg.MaxEventsPerRequest > 0 && len(out) >= n.cfg.MaxEventsPerRequest {
			break
		}
		event, err := n.normalizeOne(candidate, nctx)
		if err != nil {
			continue
		}
		out = append(out, event)
	}
	return out
}

func (n *Normalizer) normalizeOne(in models.IncomingEvent, nctx NormalizeContext) (models.RawEvent, error) {
	if !models.KnownEventKinds[in.Name] {
		return models.RawEvent{}, ErrUnknownEvent
	}
	if n.cfg.EnabledEvents != nil && !n.cfg.EnabledEvents[in.Name] {
		return models.RawEvent{}, ErrDisabledEvent
	}
	if in.Name == models.EventReadProgress && n.randf() >= n.cfg.ReadProgressSampleRate {
		return models.RawEvent{}, ErrSampledOut
	}

	serverTs := n.now().UTC()
	ua := ClassifyUserAgent(nctx.UserAgent, nctx.DeviceFallback)

	event := models.RawEvent{
		EventID:        n.eventID(),
		Name:           in.Name,
		SessionHash:    nctx.SessionHash,
		ClientTs:       clampClientTs(in.ClientTs, serverTs),
		ServerTs:       serverTs,
		Path:           SanitizePath(in.Page.Path),
		Referrer:       SanitizeReferrer(in.Page.Referrer),
		DeviceType:     sanitizeDevice(deviceHint(in.Data), ua.DeviceType),
		OS:             ua.OS,
		Browser:        ua.Browser,
		ProgressBucket: progressBucket(in.Data),
		IPHash:         nctx.IPHash,
	}

	if n.cfg.MaxEventBytes > 0 {
		encoded, err := json.Marshal(event)
		if err != nil || len(encoded) > n.cfg.MaxEventBytes {
			return models.RawEvent{}, ErrOversizeEvent
		}
	}
	return event, nil
}

func decodeBatch(body []byte) []models.IncomingEvent {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var batch models.EventBatch
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil
		}
		return batch.Events
	case strings.HasPrefix(trimmed, "["):
		var events []models.IncomingEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil
		}
		return events
	default:
		return nil
	}
}

// SanitizePath keeps only the path component of the submitted page URL,
// truncated, with "/" as the fallback for anything unparseable.
func SanitizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	path := parsed.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > maxPathLength {
		path = path[:maxPathLength]
	}
	return path
}

// SanitizeReferrer strips query, fragment and surrounding whitespace and
// caps the length.
func SanitizeReferrer(raw string) string {
	ref := strings.TrimSpace(raw)
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}
	if len(ref) > maxReferrerLength {
		ref = ref[:maxReferrerLength]
	}
	return ref
}

func clampClientTs(epochMs float64, serverTs time.Time) time.Time {
	if epochMs <= 0 || math.IsNaN(epochMs) || math.IsInf(epochMs, 0) {
		return serverTs
	}
	clientTs := time.UnixMilli(int64(epochMs)).UTC()
	if clientTs.After(serverTs.Add(maxClockAhead)) || clientTs.Before(serverTs.Add(-maxClockBehind)) {
		return serverTs
	}
	return clientTs
}

// eventPayload is the subset of the free-form data object the pipeline
// understands.
type eventPayload struct {
	Progress any    `json:"progress"`
	Device   string `json:"device"`
}

func decodePayload(data json.RawMessage) eventPayload {
	var payload eventPayload
	if len(data) == 0 {
		return payload
	}
	_ = json.Unmarshal(data, &payload)
	return payload
}

// progressBucket clamps the reported reading progress to [0,100], accepting
// numeric or numeric-string input.
func progressBucket(data json.RawMessage) uint8 {
	payload := decodePayload(data)

	var value float64
	switch v := payload.Progress.(type) {
	case float64:
		value = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		value = parsed
	default:
		return 0
	}

	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return uint8(math.Round(value))
}

func deviceHint(data json.RawMessage) string {
	return decodePayload(data).Device
}

func sanitizeDevice(hint, classified string) string {
	switch hint {
	case models.DeviceMobile, models.DeviceDesktop, models.DeviceTablet:
		return hint
	default:
		return classified
	}
}
