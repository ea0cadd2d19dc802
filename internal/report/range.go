// Package report turns the daily maximum table into the views the
// presentation layer shows: date ranges, per-day listings, a month heatmap
// and a CSV export.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/tally/internal/store"
)

// Preset names a commonly used date range.
type Preset string

const (
	PresetThisMonth Preset = "this-month"
	PresetLastMonth Preset = "last-month"
	PresetLast7     Preset = "last-7"
	PresetLast30    Preset = "last-30"
	PresetAllTime   Preset = "all-time"
)

// Presets lists the supported presets in display order.
var Presets = []Preset{PresetThisMonth, PresetLastMonth, PresetLast7, PresetLast30, PresetAllTime}

var (
	ErrNoData        = errors.New("no data recorded yet")
	ErrUnknownPreset = errors.New("unknown range preset")
)

// Bounds used to query every recorded day.
const (
	minDay = "0000-01-01"
	maxDay = "9999-12-31"
)

// Reader is the part of store.Store reports need.
type Reader interface {
	GetCountsForRange(ctx context.Context, start, end string) ([]store.DailyMax, error)
}

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange parses two day keys. A reversed pair is swapped.
func NewRange(start, end string) (Range, error) {
	s, err := store.ParseDay(start)
	if err != nil {
		return Range{}, err
	}
	e, err := store.ParseDay(end)
	if err != nil {
		return Range{}, err
	}
	if e.Before(s) {
		s, e = e, s
	}
	return Range{Start: s, End: e}, nil
}

// StartDay and EndDay return the range bounds as day keys.
func (r Range) StartDay() string { return store.Day(r.Start) }
func (r Range) EndDay() string   { return store.Day(r.End) }

// Days returns the number of calendar days in the range.
func (r Range) Days() int {
	s := dateOnly(r.Start)
	e := dateOnly(r.End)
	// whole days in UTC are immune to DST shifts
	return int(e.Sub(s).Hours()/24) + 1
}

func (r Range) String() string { return r.StartDay() + ".." + r.EndDay() }

// PresetRange resolves a preset relative to now. PresetAllTime depends on
// the recorded data and must go through Resolve.
func PresetRange(p Preset, now time.Time) (Range, error) {
	y, m, d := now.Date()
	loc := now.Location()
	switch p {
	case PresetThisMonth:
		return Range{Start: time.Date(y, m, 1, 0, 0, 0, 0, loc), End: time.Date(y, m+1, 0, 0, 0, 0, 0, loc)}, nil
	case PresetLastMonth:
		return Range{Start: time.Date(y, m-1, 1, 0, 0, 0, 0, loc), End: time.Date(y, m, 0, 0, 0, 0, 0, loc)}, nil
	case PresetLast7:
		return Range{Start: time.Date(y, m, d-6, 0, 0, 0, 0, loc), End: time.Date(y, m, d, 0, 0, 0, 0, loc)}, nil
	case PresetLast30:
		return Range{Start: time.Date(y, m, d-29, 0, 0, 0, 0, loc), End: time.Date(y, m, d, 0, 0, 0, 0, loc)}, nil
	case PresetAllTime:
		return Range{}, errors.New("all-time range depends on recorded data, use Resolve")
	}
	return Range{}, fmt.Errorf("%w: %q", ErrUnknownPreset, p)
}

// Resolve is PresetRange plus PresetAllTime, which spans the first to the
// last recorded day and fails with ErrNoData on an empty table.
func Resolve(ctx context.Context, r Reader, p Preset, now time.Time) (Range, error) {
	if p != PresetAllTime {
		return PresetRange(p, now)
	}
	rows, err := r.GetCountsForRange(ctx, minDay, maxDay)
	if err != nil {
		return Range{}, err
	}
	if len(rows) == 0 {
		return Range{}, ErrNoData
	}
	return NewRange(rows[0].Date, rows[len(rows)-1].Date)
}

// Load returns the recorded rows inside r.
func Load(ctx context.Context, rd Reader, r Range) ([]store.DailyMax, error) {
	return rd.GetCountsForRange(ctx, r.StartDay(), r.EndDay())
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
