package models

import "time"

// ReadState is the durable per-(session, path) engagement aggregate. It is
// upserted by the reconciler on every accepted batch touching its key and is
// never written by any other component.
type ReadState struct {
	SessionHash  string     `json:"session"`
	Path         string     `json:"path"`
	ProgressMax  int        `json:"progressMax"` // 0..100, monotonic
	Completed    bool       `json:"completed"`
	FirstAt      time.Time  `json:"firstAt"`
	LastAt       time.Time  `json:"lastAt"`
	TimeActiveMs int64      `json:"timeActiveMs"` // monotonic, capped
	LastFocusTs  *time.Time `json:"lastFocusTs,omitempty"`
	InFocus      bool       `json:"inFocus"`
	// First-seen attribution, set once and never overwritten.
	Referrer   string    `json:"referrer,omitempty"`
	DeviceType string    `json:"deviceType,omitempty"`
	OS         string    `json:"os,omitempty"`
	Browser    string    `json:"browser,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// FunnelBuckets is the number of 5%-progress steps (0, 5, ..., 100) in the
// per-page completion funnel.
const FunnelBuckets = 21

// PageRollup is the recomputed per-(path, day) summary.
type PageRollup struct {
	Path           string    `json:"path"`
	Day            time.Time `json:"day"` // UTC midnight
	Views          uint64    `json:"views"`
	Sessions       int       `json:"sessions"`
	Completions    int       `json:"completions"`
	AvgActiveMs    float64   `json:"avgActiveMs"`
	MedianActiveMs float64   `json:"medianActiveMs"`
	P95ActiveMs    float64   `json:"p95ActiveMs"`
	// Funnel[i] is the number of sessions whose progress reached i*5 percent.
	Funnel []int64 `json:"funnel"`
}

// ReferrerRollup is the recomputed per-(referrer, day) summary.
type ReferrerRollup struct {
	Referrer string    `json:"referrer"`
	Day      time.Time `json:"day"`
	Views    uint64    `json:"views"`
	Sessions uint64    `json:"sessions"`
}

// UaRollup is the recomputed per-(device, os, browser, day) summary.
type UaRollup struct {
	DeviceType string    `json:"deviceType"`
	OS         string    `json:"os"`
	Browser    string    `json:"browser"`
	Day        time.Time `json:"day"`
	Views      uint64    `json:"views"`
	Sessions   uint64    `json:"sessions"`
}
