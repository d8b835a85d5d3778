package utils

import (
	"testing"
	"time"
)

func TestParseDayRangeExplicitBounds(t *testing.T) {
	start, end, err := ParseDayRange("2026-03-01", "2026-03-07", 7, 90)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, start)
	}
	if want := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("expected end %v, got %v", want, end)
	}
}

func TestParseDayRangeDefaults(t *testing.T) {
	start, end, err := ParseDayRange("", "", 7, 90)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days != 7 {
		t.Errorf("expected default 7-day range, got %d days", days)
	}
	if end.Hour() != 0 || end.Location() != time.UTC {
		t.Errorf("expected end truncated to a UTC day, got %v", end)
	}
}

func TestParseDayRangeDefaultStartFromExplicitEnd(t *testing.T) {
	start, end, err := ParseDayRange("", "2026-03-10", 3, 90)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if want := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, start)
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("expected end %v, got %v", want, end)
	}
}

func TestParseDayRangeRejectsInvalidInput(t *testing.T) {
	if _, _, err := ParseDayRange("March 1st", "", 7, 90); err == nil {
		t.Error("expected malformed start rejected")
	}
	if _, _, err := ParseDayRange("", "2026-13-40", 7, 90); err == nil {
		t.Error("expected malformed end rejected")
	}
	if _, _, err := ParseDayRange("2026-03-10", "2026-03-01", 7, 90); err == nil {
		t.Error("expected inverted range rejected")
	}
	if _, _, err := ParseDayRange("2026-01-01", "2026-06-01", 7, 90); err == nil {
		t.Error("expected over-wide range rejected")
	}
}

func TestParseDayRangeSingleDay(t *testing.T) {
	start, end, err := ParseDayRange("2026-03-05", "2026-03-05", 7, 90)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !start.Equal(end) {
		t.Errorf("expected single-day range, got %v..%v", start, end)
	}
}
