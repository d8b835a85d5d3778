package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"inkwell/api/models"
)

var foldBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func focusEvent(name string, offset time.Duration) models.RawEvent {
	ts := foldBase.Add(offset)
	return models.RawEvent{
		Name:        name,
		SessionHash: "s1",
		Path:        "/posts/a",
		ClientTs:    ts,
		ServerTs:    ts,
	}
}

func progressEvent(bucket uint8, offset time.Duration) models.RawEvent {
	e := focusEvent(models.EventReadProgress, offset)
	e.ProgressBucket = bucket
	return e
}

func TestFoldProgressIsMonotonic(t *testing.T) {
	state := Fold(nil, []models.RawEvent{
		progressEvent(40, 0),
		progressEvent(75, time.Second),
		progressEvent(20, 2*time.Second),
	})
	if state.ProgressMax != 75 {
		t.Errorf("expected progress max 75, got %d", state.ProgressMax)
	}
	if state.Completed {
		t.Error("expected not completed below 100")
	}

	next := Fold(&state, []models.RawEvent{progressEvent(100, 3 * time.Second)})
	if next.ProgressMax != 100 || !next.Completed {
		t.Errorf("expected completion at 100, got max=%d completed=%v", next.ProgressMax, next.Completed)
	}

	// Completion never reverts.
	later := Fold(&next, []models.RawEvent{progressEvent(10, 4 * time.Second)})
	if !later.Completed || later.ProgressMax != 100 {
		t.Errorf("expected completion sticky, got max=%d completed=%v", later.ProgressMax, later.Completed)
	}
}

func TestFoldFillOnceAttribution(t *testing.T) {
	first := focusEvent(models.EventPageView, 0)
	first.Referrer = "https://first.example/"
	first.DeviceType = models.DeviceMobile
	first.OS = "ios"
	first.Browser = "safari"

	second := focusEvent(models.EventPageView, time.Minute)
	second.Referrer = "https://second.example/"
	second.DeviceType = models.DeviceDesktop
	second.OS = "windows"
	second.Browser = "chrome"

	// Arrival order is reversed; the earliest server timestamp still wins.
	state := Fold(nil, []models.RawEvent{second, first})
	if state.Referrer != "https://first.example/" {
		t.Errorf("expected earliest referrer kept, got %q", state.Referrer)
	}
	if state.DeviceType != models.DeviceMobile || state.OS != "ios" || state.Browser != "safari" {
		t.Errorf("expected earliest dimensions kept, got %+v", state)
	}
}

func TestFoldActiveTime(t *testing.T) {
	events := []models.RawEvent{
		focusEvent(models.EventPageFocus, 0),
		focusEvent(models.EventPageHeartbeat, 10*time.Second),
		focusEvent(models.EventPageBlur, 40*time.Second),
	}
	state := Fold(nil, events)
	if want := (40 * time.Second).Milliseconds(); state.TimeActiveMs != want {
		t.Errorf("expected %dms active, got %d", want, state.TimeActiveMs)
	}
	if state.InFocus || state.LastFocusTs != nil {
		t.Error("expected focus cleared after blur")
	}

	// Scrambled arrival order folds to the same result.
	scrambled := []models.RawEvent{events[2], events[0], events[1]}
	again := Fold(nil, scrambled)
	if again.TimeActiveMs != state.TimeActiveMs {
		t.Errorf("expected order-independent accrual, got %d vs %d", again.TimeActiveMs, state.TimeActiveMs)
	}
}

func TestFoldMissedHeartbeatResyncs(t *testing.T) {
	state := Fold(nil, []models.RawEvent{
		focusEvent(models.EventPageFocus, 0),
		// 120s of silence: the tab was suspended, nothing accrues.
		focusEvent(models.EventPageHeartbeat, 120*time.Second),
		// The next heartbeat measures from the resynchronized point.
		focusEvent(models.EventPageHeartbeat, 150*time.Second),
	})
	if want := (30 * time.Second).Milliseconds(); state.TimeActiveMs != want {
		t.Errorf("expected only post-resync 30s accrued, got %dms", state.TimeActiveMs)
	}
}

func TestFoldSingleIntervalCap(t *testing.T) {
	state := Fold(nil, []models.RawEvent{
		focusEvent(models.EventPageFocus, 0),
		// A blur an hour later is a sleep artifact, capped at 5 minutes.
		focusEvent(models.EventPageBlur, time.Hour),
	})
	if want := maxFocusInterval.Milliseconds(); state.TimeActiveMs != want {
		t.Errorf("expected focus interval capped at %dms, got %d", want, state.TimeActiveMs)
	}
}

func TestFoldTotalCeiling(t *testing.T) {
	prior := models.ReadState{
		SessionHash:  "s1",
		Path:         "/posts/a",
		TimeActiveMs: maxActiveTotal.Milliseconds() - 1000,
	}
	state := Fold(&prior, []models.RawEvent{
		focusEvent(models.EventPageFocus, 0),
		focusEvent(models.EventPageBlur, time.Minute),
	})
	if state.TimeActiveMs != maxActiveTotal.Milliseconds() {
		t.Errorf("expected total clamped at ceiling, got %dms", state.TimeActiveMs)
	}
}

func TestFoldBlurWithoutFocusAccruesNothing(t *testing.T) {
	state := Fold(nil, []models.RawEvent{
		focusEvent(models.EventPageBlur, 0),
		focusEvent(models.EventPageHeartbeat, 10*time.Second),
	})
	if state.TimeActiveMs != 0 {
		t.Errorf("expected no accrual without a focus, got %dms", state.TimeActiveMs)
	}
}

func TestFoldFirstAndLastTimestamps(t *testing.T) {
	state := Fold(nil, []models.RawEvent{
		focusEvent(models.EventPageView, time.Minute),
		focusEvent(models.EventPageHeartbeat, 0),
		focusEvent(models.EventPageBlur, 2*time.Minute),
	})
	if !state.FirstAt.Equal(foldBase) {
		t.Errorf("expected first at %v, got %v", foldBase, state.FirstAt)
	}
	if want := foldBase.Add(2 * time.Minute); !state.LastAt.Equal(want) {
		t.Errorf("expected last at %v, got %v", want, state.LastAt)
	}
}

type fakeReadStateStore struct {
	states  map[string]*models.ReadState
	getErr  error
	upserts int
}

func newFakeReadStateStore() *fakeReadStateStore {
	return &fakeReadStateStore{states: make(map[string]*models.ReadState)}
}

func (f *fakeReadStateStore) Get(_ context.Context, sessionHash, path string) (*models.ReadState, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	state, ok := f.states[sessionHash+"|"+path]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

func (f *fakeReadStateStore) Upsert(_ context.Context, state *models.ReadState) error {
	clone := *state
	f.states[state.SessionHash+"|"+state.Path] = &clone
	f.upserts++
	return nil
}

func TestReconcilerApplyGroupsByKey(t *testing.T) {
	store := newFakeReadStateStore()
	rec := NewReconciler(store)

	eventA := progressEvent(30, 0)
	eventB := progressEvent(60, time.Second)
	other := progressEvent(10, 0)
	other.Path = "/posts/b"

	if err := rec.Apply(context.Background(), []models.RawEvent{eventA, other, eventB}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if store.upserts != 2 {
		t.Fatalf("expected one upsert per (session, path) group, got %d", store.upserts)
	}
	if got := store.states["s1|/posts/a"]; got == nil || got.ProgressMax != 60 {
		t.Errorf("expected /posts/a folded to 60, got %+v", got)
	}
	if got := store.states["s1|/posts/b"]; got == nil || got.ProgressMax != 10 {
		t.Errorf("expected /posts/b folded to 10, got %+v", got)
	}
}

func TestReconcilerApplyMergesWithPrior(t *testing.T) {
	store := newFakeReadStateStore()
	rec := NewReconciler(store)

	if err := rec.Apply(context.Background(), []models.RawEvent{progressEvent(50, 0)}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := rec.Apply(context.Background(), []models.RawEvent{progressEvent(20, time.Minute)}); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	got := store.states["s1|/posts/a"]
	if got == nil || got.ProgressMax != 50 {
		t.Fatalf("expected prior max preserved, got %+v", got)
	}
	if want := foldBase.Add(time.Minute); !got.LastAt.Equal(want) {
		t.Errorf("expected last-at advanced to %v, got %v", want, got.LastAt)
	}
}

func TestReconcilerApplyPropagatesStoreError(t *testing.T) {
	store := newFakeReadStateStore()
	store.getErr = errors.New("connection refused")
	rec := NewReconciler(store)

	if err := rec.Apply(context.Background(), []models.RawEvent{progressEvent(50, 0)}); err == nil {
		t.Fatal("expected store error surfaced")
	}
}
