package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/loykin/tally/internal/store"
)

const (
	unknownApplication = "Unknown"
	defaultFilePrefix  = "TallyCounter"
)

// CSVHeader is the first record of every export.
var CSVHeader = []string{"Date", "Application", "Max Instances"}

// ApplicationName returns the basename of exePath, or "Unknown".
func ApplicationName(exePath string) string {
	if base := baseName(exePath); base != "" {
		return base
	}
	return unknownApplication
}

// SuggestedFilename names an export of r for exePath:
// <app>_<start>_to_<end>.csv, where app drops the extension.
func SuggestedFilename(exePath string, r Range) string {
	app := baseName(exePath)
	if i := strings.LastIndexByte(app, '.'); i > 0 {
		app = app[:i]
	}
	if app == "" {
		app = defaultFilePrefix
	}
	return app + "_" + r.StartDay() + "_to_" + r.EndDay() + ".csv"
}

// WriteCSV writes the recorded rows, one per line. Dates are written as
// ="YYYY-MM-DD" so spreadsheet applications keep them as text.
func WriteCSV(w io.Writer, exePath string, rows []store.DailyMax) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	app := ApplicationName(exePath)
	for _, r := range rows {
		rec := []string{`="` + r.Date + `"`, app, strconv.Itoa(r.MaxInstances)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// baseName accepts both slash styles so paths recorded on another platform
// still yield a name.
func baseName(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return p
}
