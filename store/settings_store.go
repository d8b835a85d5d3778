package store

import (
	"context"
	"database/sql"
	"fmt"
)

const settingAnalyticsEnabled = "analytics_enabled"

// SettingsStore reads the small app_settings table. Currently only the
// analytics kill switch lives there.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// AnalyticsEnabled reports whether ingestion is switched on. An absent row
// means enabled; only an explicit "false" turns collection off.
func (s *SettingsStore) AnalyticsEnabled(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = $1;`, settingAnalyticsEnabled,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("failed to read analytics_enabled setting: %w", err)
	}
	return value != "false", nil
}
