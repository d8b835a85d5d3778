package utils

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// ParseDayRange parses optional start/end query parameters formatted as
// YYYY-MM-DD into an inclusive UTC day range. Missing bounds default to the
// last defaultDays days ending today; ranges wider than maxDays are
// rejected.
func ParseDayRange(startParam, endParam string, defaultDays, maxDays int) (time.Time, time.Time, error) {
	end := dayStart(time.Now())
	if endParam != "" {
		parsed, err := time.Parse(dayLayout, endParam)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'end' date, use YYYY-MM-DD")
		}
		end = dayStart(parsed)
	}

	start := end.AddDate(0, 0, -(defaultDays - 1))
	if startParam != "" {
		parsed, err := time.Parse(dayLayout, startParam)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid 'start' date, use YYYY-MM-DD")
		}
		start = dayStart(parsed)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("'end' precedes 'start'")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxDays {
		return time.Time{}, time.Time{}, fmt.Errorf("range exceeds %d days", maxDays)
	}
	return start, end, nil
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
