package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"inkwell/api/models"
)

// Focus-tracking bounds.
const (
	// maxHeartbeatGap is the longest silence between heartbeats that still
	// counts as continuous focus. A larger gap resynchronizes without
	// accruing time (the tab was likely suspended).
	maxHeartbeatGap = 45 * time.Second
	// maxFocusInterval caps a single focus-to-blur span, absorbing
	// laptop-sleep gaps.
	maxFocusInterval = 5 * time.Minute
	// maxActiveTotal is the per-(session, path) active-time ceiling,
	// bounding pathological long-lived tabs.
	maxActiveTotal = 2 * time.Hour
)

// ReadStateStore is the persistence surface the reconciler needs. Get
// returns (nil, nil) when no aggregate exists yet.
type ReadStateStore interface {
	Get(ctx context.Context, sessionHash, path string) (*models.ReadState, error)
	Upsert(ctx context.Context, state *models.ReadState) error
}

// Reconciler merges freshly persisted raw events into the durable
// per-(session, path) ReadState aggregates. It is the only writer of
// read_state rows. Concurrent invocations for the same key race with
// last-write-wins semantics at the storage layer; within one invocation
// events are folded in server-timestamp order, which keeps the focus
// timeline sane under out-of-order batch delivery.
type Reconciler struct {
	store ReadStateStore
}

func NewReconciler(store ReadStateStore) *Reconciler {
	return &Reconciler{store: store}
}

// Apply groups events by (session, path) and folds each group into its
// stored aggregate.
func (r *Reconciler) Apply(ctx context.Context, events []models.RawEvent) error {
	type key struct{ session, path string }

	groups := make(map[key][]models.RawEvent)
	var order []key
	for _, event := range events {
		k := key{event.SessionHash, event.Path}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], event)
	}

	for _, k := range order {
		prior, err := r.store.Get(ctx, k.session, k.path)
		if err != nil {
			return fmt.Errorf("failed to load read state for %s: %w", k.path, err)
		}
		next := Fold(prior, groups[k])
		if err := r.store.Upsert(ctx, &next); err != nil {
			return fmt.Errorf("failed to upsert read state for %s: %w", k.path, err)
		}
	}
	return nil
}

// Fold applies a group of events for one (session, path) pair onto the
// existing aggregate (nil means first sight) and returns the next state.
// Events are sorted by server timestamp first, so progress, completion and
// fill-once attribution are order-independent with respect to the caller,
// and active-time accrual follows the reconstructed timeline rather than
// arrival order.
func Fold(prior *models.ReadState, events []models.RawEvent) models.ReadState {
	if len(events) == 0 && prior != nil {
		return *prior
	}

	sorted := make([]models.RawEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ServerTs.Before(sorted[j].ServerTs)
	})

	var state models.ReadState
	if prior != nil {
		state = *prior
	} else {
		state.SessionHash = sorted[0].SessionHash
		state.Path = sorted[0].Path
	}

	for _, event := range sorted {
		if state.FirstAt.IsZero() || event.ServerTs.Before(state.FirstAt) {
			state.FirstAt = event.ServerTs
		}
		if event.ServerTs.After(state.LastAt) {
			state.LastAt = event.ServerTs
		}

		// First-seen attribution: the earliest event wins, later values
		// never overwrite.
		if state.Referrer == "" && event.Referrer != "" {
			state.Referrer = event.Referrer
		}
		if state.DeviceType == "" && event.DeviceType != "" {
			state.DeviceType = event.DeviceType
		}
		if state.OS == "" && event.OS != "" {
			state.OS = event.OS
		}
		if state.Browser == "" && event.Browser != "" {
			state.Browser = event.Browser
		}

		if int(event.ProgressBucket) > state.ProgressMax {
			state.ProgressMax = int(event.ProgressBucket)
			if state.ProgressMax > 100 {
				state.ProgressMax = 100
			}
		}
		if state.ProgressMax >= 100 {
			state.Completed = true
		}

		foldFocus(&state, event)
	}

	state.UpdatedAt = time.Now().UTC()
	return state
}

// foldFocus advances the two-state focus machine (idle, focused) for one
// event. Time accrues on blur/hide and on in-window heartbeats, from the
// client clock that produced the gaps.
func foldFocus(state *models.ReadState, event models.RawEvent) {
	switch event.Name {
	case models.EventPageFocus:
		ts := event.ClientTs
		state.InFocus = true
		state.LastFocusTs = &ts

	case models.EventPageBlur, models.EventPageHide:
		if state.InFocus && state.LastFocusTs != nil {
			accrue(state, event.ClientTs.Sub(*state.LastFocusTs), maxFocusInterval)
		}
		state.InFocus = false
		state.LastFocusTs = nil

	case models.EventPageHeartbeat:
		if !state.InFocus || state.LastFocusTs == nil {
			return
		}
		gap := event.ClientTs.Sub(*state.LastFocusTs)
		if gap >= 0 && gap <= maxHeartbeatGap {
			accrue(state, gap, maxHeartbeatGap)
		}
		// A missed heartbeat accrues nothing but still resynchronizes so
		// the next one measures from here.
		ts := event.ClientTs
		state.LastFocusTs = &ts
	}
}

func accrue(state *models.ReadState, delta, singleCap time.Duration) {
	if delta < 0 {
		return
	}
	if delta > singleCap {
		delta = singleCap
	}
	state.TimeActiveMs += delta.Milliseconds()
	if ceiling := maxActiveTotal.Milliseconds(); state.TimeActiveMs > ceiling {
		state.TimeActiveMs = ceiling
	}
}
