package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
}

type CountFlags struct {
	ConfigPath string
	Exe        string
	JSON       bool
}

type SetTargetFlags struct {
	ConfigPath string
	Path       string
}

// RangeFlags select days either by preset or by explicit bounds.
type RangeFlags struct {
	Preset string
	Start  string
	End    string
}

type HistoryFlags struct {
	ConfigPath string
	Range      RangeFlags
}

type ExportFlags struct {
	ConfigPath string
	Range      RangeFlags
	Out        string // "-" writes to stdout; empty uses the suggested file name
}

type CalendarFlags struct {
	ConfigPath string
	Year       int
	Month      int
}

// RemoteFlags locate a running daemon.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
