package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/tally/internal/store"
)

// Cell is one day of a month heatmap.
type Cell struct {
	Date      string  `json:"date"`
	Day       int     `json:"day"`
	Count     int     `json:"count"`
	Recorded  bool    `json:"recorded"`
	Intensity float64 `json:"intensity"`       // Count relative to the month's peak, 0..1
	Color     string  `json:"color,omitempty"` // empty for days with no instances
}

// MonthView is a Monday-first calendar of daily maxima.
type MonthView struct {
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`
	Offset int        `json:"offset"` // empty cells before day 1, Monday = 0
	Peak   int        `json:"peak"`
	Cells  []Cell     `json:"cells"`
}

// Month builds the heatmap for year/month from rows. Rows outside the
// month are ignored.
func Month(year int, month time.Month, rows []store.DailyMax) MonthView {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	v := MonthView{
		Year:   year,
		Month:  month,
		Offset: (int(first.Weekday()) + 6) % 7,
		Cells:  make([]Cell, last.Day()),
	}

	prefix := fmt.Sprintf("%04d-%02d-", year, int(month))
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		if strings.HasPrefix(r.Date, prefix) {
			counts[r.Date] = r.MaxInstances
			v.Peak = max(v.Peak, r.MaxInstances)
		}
	}
	for i := range v.Cells {
		d := first.AddDate(0, 0, i)
		key := store.Day(d)
		n, ok := counts[key]
		c := Cell{Date: key, Day: i + 1, Count: n, Recorded: ok}
		if n > 0 && v.Peak > 0 {
			c.Intensity = float64(n) / float64(v.Peak)
			c.Color = heatColor(c.Intensity)
		}
		v.Cells[i] = c
	}
	return v
}

// Weeks splits the cells into Monday-first rows of seven; nil marks padding.
func (v MonthView) Weeks() [][]*Cell {
	var weeks [][]*Cell
	week := make([]*Cell, v.Offset, 7)
	for i := range v.Cells {
		week = append(week, &v.Cells[i])
		if len(week) == 7 {
			weeks = append(weeks, week)
			week = make([]*Cell, 0, 7)
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, nil)
		}
		weeks = append(weeks, week)
	}
	return weeks
}

// LoadMonth reads the rows of year/month and builds its heatmap.
func LoadMonth(ctx context.Context, r Reader, year int, month time.Month) (MonthView, error) {
	if month < time.January || month > time.December {
		return MonthView{}, fmt.Errorf("invalid month %d", month)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	rows, err := r.GetCountsForRange(ctx, store.Day(first), store.Day(first.AddDate(0, 1, -1)))
	if err != nil {
		return MonthView{}, err
	}
	return Month(year, month, rows), nil
}

// heatColor maps intensity to a green gradient: muted for low, vivid for high.
func heatColor(ratio float64) string {
	r := int(30 + 60*(1-ratio))
	g := int(180 + 55*ratio)
	b := int(50 + 30*(1-ratio))
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
