package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"inkwell/api/models"
)

// ReadStateStore persists the per-(session, path) engagement aggregates in
// Postgres. Upserts are whole-row replaces: concurrent writers for the same
// key resolve last-write-wins, an accepted trade-off given client batches
// are serialized by the producer's flush cadence.
type ReadStateStore struct {
	db *sql.DB
}

func NewReadStateStore(db *sql.DB) *ReadStateStore {
	return &ReadStateStore{db: db}
}

// Get returns the stored aggregate, or (nil, nil) when the pair has not
// been seen yet.
func (s *ReadStateStore) Get(ctx context.Context, sessionHash, path string) (*models.ReadState, error) {
	state := &models.ReadState{}
	var lastFocus sql.NullTime

	query := `
		SELECT session_hash, path, progress_max, completed, first_at, last_at,
		       time_active_ms, last_focus_ts, in_focus, referrer, device_type,
		       os, browser, updated_at
		FROM read_state
		WHERE session_hash = $1 AND path = $2;
	`
	err := s.db.QueryRowContext(ctx, query, sessionHash, path).Scan(
		&state.SessionHash,
		&state.Path,
		&state.ProgressMax,
		&state.Completed,
		&state.FirstAt,
		&state.LastAt,
		&state.TimeActiveMs,
		&lastFocus,
		&state.InFocus,
		&state.Referrer,
		&state.DeviceType,
		&state.OS,
		&state.Browser,
		&state.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get read state: %w", err)
	}
	if lastFocus.Valid {
		ts := lastFocus.Time
		state.LastFocusTs = &ts
	}
	return state, nil
}

func (s *ReadStateStore) Upsert(ctx context.Context, state *models.ReadState) error {
	var lastFocus sql.NullTime
	if state.LastFocusTs != nil {
		lastFocus = sql.NullTime{Time: *state.LastFocusTs, Valid: true}
	}

	query := `
		INSERT INTO read_state (
			session_hash, path, progress_max, completed, first_at, last_at,
			time_active_ms, last_focus_ts, in_focus, referrer, device_type,
			os, browser, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (session_hash, path) DO UPDATE SET
			progress_max   = EXCLUDED.progress_max,
			completed      = EXCLUDED.completed,
			first_at       = EXCLUDED.first_at,
			last_at        = EXCLUDED.last_at,
			time_active_ms = EXCLUDED.time_active_ms,
			last_focus_ts  = EXCLUDED.last_focus_ts,
			in_focus       = EXCLUDED.in_focus,
			referrer       = EXCLUDED.referrer,
			device_type    = EXCLUDED.device_type,
			os             = EXCLUDED.os,
			browser        = EXCLUDED.browser,
			updated_at     = now();
	`
	_, err := s.db.ExecContext(ctx, query,
		state.SessionHash,
		state.Path,
		state.ProgressMax,
		state.Completed,
		state.FirstAt,
		state.LastAt,
		state.TimeActiveMs,
		lastFocus,
		state.InFocus,
		state.Referrer,
		state.DeviceType,
		state.OS,
		state.Browser,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert read state: %w", err)
	}
	return nil
}

// ListByDay returns every aggregate whose last activity fell on the given
// UTC day. Input to the rollup engine.
func (s *ReadStateStore) ListByDay(ctx context.Context, day time.Time) ([]models.ReadState, error) {
	start, end := dayBounds(day)

	query := `
		SELECT session_hash, path, progress_max, completed, first_at, last_at,
		       time_active_ms, last_focus_ts, in_focus, referrer, device_type,
		       os, browser, updated_at
		FROM read_state
		WHERE last_at >= $1 AND last_at < $2;
	`
	rows, err := s.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list read states by day: %w", err)
	}
	defer rows.Close()

	var states []models.ReadState
	for rows.Next() {
		var state models.ReadState
		var lastFocus sql.NullTime
		err := rows.Scan(
			&state.SessionHash,
			&state.Path,
			&state.ProgressMax,
			&state.Completed,
			&state.FirstAt,
			&state.LastAt,
			&state.TimeActiveMs,
			&lastFocus,
			&state.InFocus,
			&state.Referrer,
			&state.DeviceType,
			&state.OS,
			&state.Browser,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan read state row: %w", err)
		}
		if lastFocus.Valid {
			ts := lastFocus.Time
			state.LastFocusTs = &ts
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error while listing read states: %w", err)
	}
	return states, nil
}

// PruneOlderThan deletes aggregates whose last activity predates the
// cutoff, mirroring the raw-event retention window so read_state does not
// grow forever.
func (s *ReadStateStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM read_state WHERE last_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune read states: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned read states: %w", err)
	}
	return deleted, nil
}
