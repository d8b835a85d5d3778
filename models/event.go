package models

import (
	"encoding/json"
	"time"
)

// Event kinds accepted from the client producer. Anything else in a batch is
// dropped during normalization.
const (
	EventPageView      = "page_view"
	EventPageFocus     = "page_focus"
	EventPageBlur      = "page_blur"
	EventPageHide      = "page_hide"
	EventPageHeartbeat = "page_heartbeat"
	EventReadProgress  = "read_progress"
)

// KnownEventKinds is the fixed registry of event names the pipeline
// understands. The enabled subset is configured separately.
var KnownEventKinds = map[string]bool{
	EventPageView:      true,
	EventPageFocus:     true,
	EventPageBlur:      true,
	EventPageHide:      true,
	EventPageHeartbeat: true,
	EventReadProgress:  true,
}

// Device type dimension values.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceTablet  = "tablet"
)

// IncomingEvent is the wire shape of one client event. The batch body is
// either {"events": [...]} or a bare array of these objects.
type IncomingEvent struct {
	Name     string          `json:"name"`
	ClientTs float64         `json:"clientTs"` // epoch milliseconds
	Page     IncomingPage    `json:"page"`
	Data     json.RawMessage `json:"data,omitempty"`
	Viewport *Viewport       `json:"viewport,omitempty"`
	Flags    *EventFlags     `json:"flags,omitempty"`
}

type IncomingPage struct {
	Path     string `json:"path"`
	Referrer string `json:"referrer,omitempty"`
	Title    string `json:"title,omitempty"`
}

type Viewport struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

type EventFlags struct {
	IsSampled bool `json:"isSampled,omitempty"`
}

// EventBatch is the envelope form of the batch body.
type EventBatch struct {
	Events []IncomingEvent `json:"events"`
}

// RawEvent is a single accepted, normalized event as persisted in
// ClickHouse. Rows are immutable and expire via table TTL 60 days after
// ServerTs. SessionHash is a salted one-way digest; the raw cookie value is
// never stored.
type RawEvent struct {
	EventID        string    `json:"eventId"`
	Name           string    `json:"name"`
	SessionHash    string    `json:"session"`
	ClientTs       time.Time `json:"clientTs"`
	ServerTs       time.Time `json:"serverTs"`
	Path           string    `json:"path"`
	Referrer       string    `json:"referrer,omitempty"`
	DeviceType     string    `json:"deviceType,omitempty"`
	OS             string    `json:"os,omitempty"`
	Browser        string    `json:"browser,omitempty"`
	ProgressBucket uint8     `json:"progressBucket"`
	IPHash         string    `json:"ipHash,omitempty"`
}
