// Package procsnap captures point-in-time views of the operating system's
// process table.
package procsnap

import (
	"context"
	"database/sql"
)

// Record is one process as seen by a single snapshot.
// Every field except PID may be unresolved: the process can vanish between
// enumeration and inspection, or the caller may lack permission to read it.
// Unresolved fields have Valid == false.
type Record struct {
	PID  int32
	PPID sql.Null[int32]
	Name sql.Null[string]
	Exe  sql.Null[string]
}

// Provider yields snapshots of the live process table.
// Records for inaccessible processes are included with unresolved fields
// rather than omitted. Only a failure to enumerate the table at all is
// reported as an error.
type Provider interface {
	Snapshot(ctx context.Context) ([]Record, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context) ([]Record, error)

func (f Func) Snapshot(ctx context.Context) ([]Record, error) { return f(ctx) }

// Static always returns the same records. Useful for embedding and tests.
type Static []Record

func (s Static) Snapshot(context.Context) ([]Record, error) {
	out := make([]Record, len(s))
	copy(out, s)
	return out, nil
}

// Some returns a resolved optional value.
func Some[T any](v T) sql.Null[T] { return sql.Null[T]{V: v, Valid: true} }

// New builds a fully resolved record. A ppid <= 0 is treated as "no parent".
func New(pid, ppid int32, name, exe string) Record {
	r := Record{PID: pid, Name: Some(name)}
	if ppid > 0 {
		r.PPID = Some(ppid)
	}
	if exe != "" {
		r.Exe = Some(exe)
	}
	return r
}
