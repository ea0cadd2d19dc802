package client

import "time"

// Status is the monitor state reported by GET /status.
type Status struct {
	Target    string     `json:"target,omitempty"`
	State     string     `json:"state"`
	Session   string     `json:"session,omitempty"`
	Count     *int       `json:"count"` // nil until the session reported a count
	CountAt   *time.Time `json:"count_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	ErrorAt   *time.Time `json:"error_at,omitempty"`
	Today     string     `json:"today"`
	TodayMax  *int       `json:"today_max"`
}

// SetTargetRequest is the body of PUT /target.
type SetTargetRequest struct {
	Path string `json:"path"`
}

// DailyMax is one recorded day.
type DailyMax struct {
	Date         string `json:"date"`
	MaxInstances int    `json:"max_instances"`
}

// Day is one calendar day of a range, recorded or not.
type Day struct {
	Date         string `json:"date"`
	Weekday      string `json:"weekday"`
	MaxInstances int    `json:"max_instances"`
	Recorded     bool   `json:"recorded"`
}

// Counts is the response of GET /counts.
type Counts struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Summary struct {
		Days     int `json:"days"`
		Recorded int `json:"recorded"`
		Peak     int `json:"peak"`
	} `json:"summary"`
	Rows []DailyMax `json:"rows"`
	Days []Day      `json:"days"`
}

// Cell is one day of a month heatmap.
type Cell struct {
	Date      string  `json:"date"`
	Day       int     `json:"day"`
	Count     int     `json:"count"`
	Recorded  bool    `json:"recorded"`
	Intensity float64 `json:"intensity"`
	Color     string  `json:"color,omitempty"`
}

// Month is the response of GET /calendar.
type Month struct {
	Year   int    `json:"year"`
	Month  int    `json:"month"`
	Offset int    `json:"offset"`
	Peak   int    `json:"peak"`
	Cells  []Cell `json:"cells"`
}

// ExportQuery selects the days of a CSV export: either Preset, or Start and End.
type ExportQuery struct {
	Preset string
	Start  string
	End    string
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
