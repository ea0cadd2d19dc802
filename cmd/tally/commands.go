package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/loykin/tally"
	"github.com/loykin/tally/internal/counter"
	"github.com/loykin/tally/internal/procsnap"
	"github.com/loykin/tally/internal/report"
	"github.com/loykin/tally/internal/store"
)

// openStore loads the configuration at path and opens its store.
func openStore(ctx context.Context, path string) (*tally.Config, tally.Store, error) {
	cfg, err := tally.LoadConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	st, err := tally.OpenStore(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, st, nil
}

type countResult struct {
	Target    string  `json:"target"`
	Count     int     `json:"count"`
	Instances []int32 `json:"instances"`
}

func cmdCount(ctx context.Context, f CountFlags, p procsnap.Provider, out io.Writer) error {
	cfg, err := tally.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	target, err := counter.NewTarget(f.Exe)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target.Path); err != nil {
		return fmt.Errorf("%w: %s", tally.ErrTargetNotFound, target.Path)
	}
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot process table: %w", err)
	}
	pids := cfg.Matcher().Instances(target, snap)
	if f.JSON {
		if pids == nil {
			pids = []int32{}
		}
		return printJSON(out, countResult{Target: target.Path, Count: len(pids), Instances: pids})
	}
	_, err = fmt.Fprintln(out, len(pids))
	return err
}

func cmdSetTarget(ctx context.Context, f SetTargetFlags, out io.Writer) error {
	target, err := counter.NewTarget(f.Path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(target.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", tally.ErrTargetNotFound, target.Path)
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", target.Path)
	}
	_, st, err := openStore(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	if err := st.SetConfig(ctx, store.ConfigKeyExecutablePath, target.Path); err != nil {
		return fmt.Errorf("save target: %w", err)
	}
	_, err = fmt.Fprintf(out, "Target set to %s\n", target.Path)
	return err
}

// resolveRange prefers explicit bounds over the preset.
func resolveRange(ctx context.Context, rd report.Reader, f RangeFlags, now time.Time) (report.Range, error) {
	if f.Start != "" || f.End != "" {
		if f.Start == "" || f.End == "" {
			return report.Range{}, errors.New("--start and --end must be given together")
		}
		return report.NewRange(f.Start, f.End)
	}
	return report.Resolve(ctx, rd, report.Preset(f.Preset), now)
}

type historyResult struct {
	Start   string         `json:"start"`
	End     string         `json:"end"`
	Summary report.Summary `json:"summary"`
	Days    []report.Day   `json:"days"`
}

func cmdHistory(ctx context.Context, f HistoryFlags, now time.Time, out io.Writer) error {
	_, st, err := openStore(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rng, err := resolveRange(ctx, st, f.Range, now)
	if err != nil {
		return err
	}
	rows, err := report.Load(ctx, st, rng)
	if err != nil {
		return err
	}
	return printJSON(out, historyResult{
		Start:   rng.StartDay(),
		End:     rng.EndDay(),
		Summary: report.Summarize(rng, rows),
		Days:    report.Fill(rng, rows),
	})
}

func cmdExport(ctx context.Context, f ExportFlags, now time.Time, out io.Writer) error {
	cfg, st, err := openStore(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rng, err := resolveRange(ctx, st, f.Range, now)
	if err != nil {
		return err
	}
	rows, err := report.Load(ctx, st, rng)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w in %s", report.ErrNoData, rng)
	}
	exe, _, err := cfg.ResolveTarget(ctx, st)
	if err != nil {
		return err
	}

	if f.Out == "-" {
		return report.WriteCSV(out, exe, rows)
	}
	name := f.Out
	if name == "" {
		name = report.SuggestedFilename(exe, rng)
	}
	// #nosec G304 -- user-chosen output path
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := report.WriteCSV(file, exe, rows); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Exported %d day(s) to %s\n", len(rows), name)
	return err
}

func cmdCalendar(ctx context.Context, f CalendarFlags, now time.Time, out io.Writer) error {
	_, st, err := openStore(ctx, f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	year, month := f.Year, time.Month(f.Month)
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}
	view, err := report.LoadMonth(ctx, st, year, month)
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, renderMonth(view))
	return err
}

// renderMonth lays a month out as a Monday-first text calendar. Each cell
// shows the day and its recorded maximum, "-" for days without a row.
func renderMonth(v report.MonthView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d (peak %d)\n", v.Month, v.Year, v.Peak)
	for _, d := range []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"} {
		fmt.Fprintf(&b, "%8s", d)
	}
	b.WriteByte('\n')
	for _, week := range v.Weeks() {
		for _, c := range week {
			switch {
			case c == nil:
				b.WriteString(strings.Repeat(" ", 8))
			case c.Recorded:
				fmt.Fprintf(&b, "%8s", fmt.Sprintf("%d:%d", c.Day, c.Count))
			default:
				fmt.Fprintf(&b, "%8s", fmt.Sprintf("%d:-", c.Day))
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
