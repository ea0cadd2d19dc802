package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DayLayout is the calendar-day key format used by the daily table.
const DayLayout = "2006-01-02"

// ConfigKeyExecutablePath names the persisted monitoring target.
const ConfigKeyExecutablePath = "executable_path"

var (
	ErrInvalidDate   = errors.New("invalid date, want YYYY-MM-DD")
	ErrNegativeCount = errors.New("negative instance count")
)

// DailyMax is one row of the daily maximum table.
type DailyMax struct {
	Date         string `json:"date"`
	MaxInstances int    `json:"max_instances"`
}

// Store persists configuration values and the highest instance count seen
// per calendar day. Implementations must tolerate several independent
// connections to the same underlying database.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// GetConfig returns ok == false when key has never been set.
	GetConfig(ctx context.Context, key string) (value string, ok bool, err error)
	SetConfig(ctx context.Context, key, value string) error
	// UpdateDailyMax stores count for date unless a greater or equal value is
	// already recorded for that date.
	UpdateDailyMax(ctx context.Context, date string, count int) error
	// GetCountsForRange returns rows with start <= date <= end, ascending by date.
	GetCountsForRange(ctx context.Context, start, end string) ([]DailyMax, error)
	Close() error
}

// Day formats t as a daily table key in t's location.
func Day(t time.Time) string { return t.Format(DayLayout) }

// ParseDay parses a daily table key.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ValidateUpdate checks the arguments of UpdateDailyMax.
func ValidateUpdate(date string, count int) error {
	if _, err := ParseDay(date); err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	return nil
}

// ValidateRange checks the arguments of GetCountsForRange.
func ValidateRange(start, end string) error {
	if _, err := ParseDay(start); err != nil {
		return err
	}
	_, err := ParseDay(end)
	return err
}
