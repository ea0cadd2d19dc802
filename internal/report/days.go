package report

import (
	"time"

	"github.com/loykin/tally/internal/store"
)

// Day is one calendar day of a range listing.
type Day struct {
	Date         string       `json:"date"`
	Weekday      time.Weekday `json:"-"`
	WeekdayName  string       `json:"weekday"`
	MaxInstances int          `json:"max_instances"`
	Recorded     bool         `json:"recorded"`
}

// Fill returns one entry per day of r, in order. Days without a row are
// reported with Recorded false.
func Fill(r Range, rows []store.DailyMax) []Day {
	byDate := make(map[string]int, len(rows))
	for _, row := range rows {
		byDate[row.Date] = row.MaxInstances
	}
	n := r.Days()
	if n <= 0 {
		return nil
	}
	out := make([]Day, 0, n)
	start := dateOnly(r.Start)
	for i := range n {
		d := start.AddDate(0, 0, i)
		key := store.Day(d)
		v, ok := byDate[key]
		out = append(out, Day{
			Date:         key,
			Weekday:      d.Weekday(),
			WeekdayName:  d.Weekday().String(),
			MaxInstances: v,
			Recorded:     ok,
		})
	}
	return out
}

// Summary describes a range listing.
type Summary struct {
	Days     int `json:"days"`
	Recorded int `json:"recorded"`
	Peak     int `json:"peak"`
}

// Summarize counts the days of r and the rows recorded inside it.
func Summarize(r Range, rows []store.DailyMax) Summary {
	s := Summary{Days: r.Days()}
	start, end := r.StartDay(), r.EndDay()
	for _, row := range rows {
		if row.Date < start || row.Date > end {
			continue
		}
		s.Recorded++
		s.Peak = max(s.Peak, row.MaxInstances)
	}
	return s
}
