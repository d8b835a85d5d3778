package analytics

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"inkwell/api/models"
)

// EventAggregates is the raw-event query surface the rollup engine reads.
// All three group by one UTC calendar day.
type EventAggregates interface {
	PageViewCounts(ctx context.Context, day time.Time) (map[string]uint64, error)
	ReferrerStats(ctx context.Context, day time.Time) ([]models.ReferrerRollup, error)
	UaStats(ctx context.Context, day time.Time) ([]models.UaRollup, error)
}

// ReadStateSource lists the aggregates whose last activity fell on a day.
type ReadStateSource interface {
	ListByDay(ctx context.Context, day time.Time) ([]models.ReadState, error)
}

// RollupSink atomically replaces one day's rollup rows.
type RollupSink interface {
	ReplaceDay(ctx context.Context, day time.Time, pages []models.PageRollup, referrers []models.ReferrerRollup, uas []models.UaRollup) error
}

// Engine recomputes daily rollups from raw events and read-state. Each day
// is computed from scratch and swapped in whole, so re-running any range is
// idempotent and a crash mid-range leaves earlier days committed and later
// days untouched. Unlike ingestion, rollup failures propagate: the job runs
// offline and a failed day is simply re-run.
type Engine struct {
	events EventAggregates
	states ReadStateSource
	sink   RollupSink
}

func NewEngine(events EventAggregates, states ReadStateSource, sink RollupSink) *Engine {
	return &Engine{events: events, states: states, sink: sink}
}

// Refresh recomputes every UTC day in [from, to], inclusive.
func (e *Engine) Refresh(ctx context.Context, from, to time.Time) error {
	from = DayStart(from)
	to = DayStart(to)
	if to.Before(from) {
		return fmt.Errorf("rollup range end %s precedes start %s", to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.refreshDay(ctx, day); err != nil {
			return fmt.Errorf("rollup for %s failed: %w", day.Format("2006-01-02"), err)
		}
		log.Printf("Rollup refreshed for %s", day.Format("2006-01-02"))
	}
	return nil
}

func (e *Engine) refreshDay(ctx context.Context, day time.Time) error {
	views, err := e.events.PageViewCounts(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to count page views: %w", err)
	}
	states, err := e.states.ListByDay(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to list read states: %w", err)
	}
	referrers, err := e.events.ReferrerStats(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to aggregate referrers: %w", err)
	}
	uas, err := e.events.UaStats(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to aggregate user agents: %w", err)
	}

	pages := BuildPageRollups(day, views, states)
	return e.sink.ReplaceDay(ctx, day, pages, referrers, uas)
}

// BuildPageRollups combines the day's view counts with its read-state
// sample into per-page summaries: session counts, active-time distribution
// (average, median, 95th percentile) and the 5%-step completion funnel.
func BuildPageRollups(day time.Time, views map[string]uint64, states []models.ReadState) []models.PageRollup {
	byPath := make(map[string][]models.ReadState)
	for _, state := range states {
		byPath[state.Path] = append(byPath[state.Path], state)
	}

	paths := make(map[string]bool)
	for path := range views {
		paths[path] = true
	}
	for path := range byPath {
		paths[path] = true
	}

	ordered := make([]string, 0, len(paths))
	for path := range paths {
		ordered = append(ordered, path)
	}
	sort.Strings(ordered)

	rollups := make([]models.PageRollup, 0, len(ordered))
	for _, path := range ordered {
		group := byPath[path]

		samples := make([]float64, 0, len(group))
		funnel := make([]int64, models.FunnelBuckets)
		completions := 0
		for _, state := range group {
			samples = append(samples, float64(state.TimeActiveMs))
			if state.Completed {
				completions++
			}
			for bucket := 0; bucket < models.FunnelBuckets; bucket++ {
				if state.ProgressMax >= bucket*5 {
					funnel[bucket]++
				}
			}
		}
		sort.Float64s(samples)

		rollups = append(rollups, models.PageRollup{
			Path:           path,
			Day:            day,
			Views:          views[path],
			Sessions:       len(group),
			Completions:    completions,
			AvgActiveMs:    mean(samples),
			MedianActiveMs: Percentile(samples, 0.5),
			P95ActiveMs:    Percentile(samples, 0.95),
			Funnel:         funnel,
		})
	}
	return rollups
}

// Percentile returns the p-th quantile of an ascending-sorted sample using
// linear interpolation between closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// DayStart truncates a timestamp to its UTC calendar day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
