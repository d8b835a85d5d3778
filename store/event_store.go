package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"inkwell/api/database"
	"inkwell/api/models"
)

// EventStore owns the raw event rows in ClickHouse. Rows are written once by
// ingestion and read back only by the rollup engine's per-day aggregations;
// the table TTL handles retention.
type EventStore struct {
	DB *database.ClickHouseClient
}

func NewEventStore(chClient *database.ClickHouseClient) *EventStore {
	return &EventStore{DB: chClient}
}

func (s *EventStore) InsertRawEvents(ctx context.Context, events []models.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, name, session_hash, client_ts, server_ts, path, referrer,
			device_type, os, browser, progress_bucket, ip_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.Name,
			event.SessionHash,
			event.ClientTs,
			event.ServerTs,
			event.Path,
			event.Referrer,
			event.DeviceType,
			event.OS,
			event.Browser,
			event.ProgressBucket,
			event.IPHash,
		)
		if err != nil {
			log.Printf("Error appending event to batch (EventID: %s): %v", event.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// PageViewCounts returns page_view counts per path for one UTC day.
func (s *EventStore) PageViewCounts(ctx context.Context, day time.Time) (map[string]uint64, error) {
	start, end := dayBounds(day)

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT path, count() AS views
		FROM analytics_events
		WHERE name = ? AND server_ts >= ? AND server_ts < ?
		GROUP BY path
	`, models.EventPageView, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query page view counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var path string
		var views uint64
		if err := rows.Scan(&path, &views); err != nil {
			return nil, fmt.Errorf("failed to scan page view count row: %w", err)
		}
		counts[path] = views
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during page view count query: %w", err)
	}
	return counts, nil
}

// ReferrerStats returns per-referrer view and distinct-session counts for
// one UTC day. Events without a referrer are skipped.
func (s *EventStore) ReferrerStats(ctx context.Context, day time.Time) ([]models.ReferrerRollup, error) {
	start, end := dayBounds(day)

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT referrer, count() AS views, uniq(session_hash) AS sessions
		FROM analytics_events
		WHERE referrer != '' AND server_ts >= ? AND server_ts < ?
		GROUP BY referrer
		ORDER BY views DESC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrer stats: %w", err)
	}
	defer rows.Close()

	var results []models.ReferrerRollup
	for rows.Next() {
		r := models.ReferrerRollup{Day: start}
		if err := rows.Scan(&r.Referrer, &r.Views, &r.Sessions); err != nil {
			return nil, fmt.Errorf("failed to scan referrer stats row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during referrer stats query: %w", err)
	}
	return results, nil
}

// UaStats returns per-(device, os, browser) view and distinct-session
// counts for one UTC day.
func (s *EventStore) UaStats(ctx context.Context, day time.Time) ([]models.UaRollup, error) {
	start, end := dayBounds(day)

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT device_type, os, browser, count() AS views, uniq(session_hash) AS sessions
		FROM analytics_events
		WHERE server_ts >= ? AND server_ts < ?
		GROUP BY device_type, os, browser
		ORDER BY views DESC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query user agent stats: %w", err)
	}
	defer rows.Close()

	var results []models.UaRollup
	for rows.Next() {
		r := models.UaRollup{Day: start}
		if err := rows.Scan(&r.DeviceType, &r.OS, &r.Browser, &r.Views, &r.Sessions); err != nil {
			return nil, fmt.Errorf("failed to scan user agent stats row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during user agent stats query: %w", err)
	}
	return results, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
