package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"inkwell/api/models"
)

// RollupStore owns the derived daily rollup tables. Writes always replace a
// whole day inside one transaction, which is what makes rollup re-runs
// idempotent and safe to retry.
type RollupStore struct {
	db *sql.DB
}

func NewRollupStore(db *sql.DB) *RollupStore {
	return &RollupStore{db: db}
}

// ReplaceDay deletes and reinserts every rollup row for one UTC day.
func (s *RollupStore) ReplaceDay(ctx context.Context, day time.Time, pages []models.PageRollup, referrers []models.ReferrerRollup, uas []models.UaRollup) error {
	day = truncateDay(day)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollup transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"page_rollups", "referrer_rollups", "ua_rollups"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE day = $1;`, table), day); err != nil {
			return fmt.Errorf("failed to clear %s for day: %w", table, err)
		}
	}

	for _, p := range pages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO page_rollups (
				path, day, views, sessions, completions,
				avg_active_ms, median_active_ms, p95_active_ms, funnel
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
		`, p.Path, day, p.Views, p.Sessions, p.Completions,
			p.AvgActiveMs, p.MedianActiveMs, p.P95ActiveMs, pq.Array(p.Funnel))
		if err != nil {
			return fmt.Errorf("failed to insert page rollup for %s: %w", p.Path, err)
		}
	}

	for _, r := range referrers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO referrer_rollups (referrer, day, views, sessions)
			VALUES ($1, $2, $3, $4);
		`, r.Referrer, day, r.Views, r.Sessions)
		if err != nil {
			return fmt.Errorf("failed to insert referrer rollup: %w", err)
		}
	}

	for _, u := range uas {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ua_rollups (device_type, os, browser, day, views, sessions)
			VALUES ($1, $2, $3, $4, $5, $6);
		`, u.DeviceType, u.OS, u.Browser, day, u.Views, u.Sessions)
		if err != nil {
			return fmt.Errorf("failed to insert ua rollup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollup transaction: %w", err)
	}
	return nil
}

// TopPageStat is a dashboard row: one page summed over the queried day
// range. Active time is a session-weighted average across days.
type TopPageStat struct {
	Path        string  `json:"path"`
	Views       uint64  `json:"views"`
	Sessions    uint64  `json:"sessions"`
	Completions uint64  `json:"completions"`
	AvgActiveMs float64 `json:"avgActiveMs"`
}

func (s *RollupStore) TopPages(ctx context.Context, from, to time.Time, limit int) ([]TopPageStat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path,
		       COALESCE(SUM(views), 0),
		       COALESCE(SUM(sessions), 0),
		       COALESCE(SUM(completions), 0),
		       COALESCE(SUM(avg_active_ms * sessions) / NULLIF(SUM(sessions), 0), 0)
		FROM page_rollups
		WHERE day >= $1 AND day <= $2
		GROUP BY path
		ORDER BY 2 DESC
		LIMIT $3;
	`, truncateDay(from), truncateDay(to), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []TopPageStat
	for rows.Next() {
		var stat TopPageStat
		if err := rows.Scan(&stat.Path, &stat.Views, &stat.Sessions, &stat.Completions, &stat.AvgActiveMs); err != nil {
			return nil, fmt.Errorf("failed to scan top page row: %w", err)
		}
		results = append(results, stat)
	}
	return results, rows.Err()
}

func (s *RollupStore) ReferrerTotals(ctx context.Context, from, to time.Time) ([]models.ReferrerRollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT referrer, COALESCE(SUM(views), 0), COALESCE(SUM(sessions), 0)
		FROM referrer_rollups
		WHERE day >= $1 AND day <= $2
		GROUP BY referrer
		ORDER BY 2 DESC;
	`, truncateDay(from), truncateDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query referrer totals: %w", err)
	}
	defer rows.Close()

	var results []models.ReferrerRollup
	for rows.Next() {
		var r models.ReferrerRollup
		if err := rows.Scan(&r.Referrer, &r.Views, &r.Sessions); err != nil {
			return nil, fmt.Errorf("failed to scan referrer totals row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *RollupStore) DeviceTotals(ctx context.Context, from, to time.Time) ([]models.UaRollup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_type, os, browser, COALESCE(SUM(views), 0), COALESCE(SUM(sessions), 0)
		FROM ua_rollups
		WHERE day >= $1 AND day <= $2
		GROUP BY device_type, os, browser
		ORDER BY 4 DESC;
	`, truncateDay(from), truncateDay(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query device totals: %w", err)
	}
	defer rows.Close()

	var results []models.UaRollup
	for rows.Next() {
		var u models.UaRollup
		if err := rows.Scan(&u.DeviceType, &u.OS, &u.Browser, &u.Views, &u.Sessions); err != nil {
			return nil, fmt.Errorf("failed to scan device totals row: %w", err)
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
