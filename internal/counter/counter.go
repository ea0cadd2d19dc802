// Package counter decides which processes in a snapshot are independent
// top-level instances of a monitored executable.
//
// A process counts when its name matches the target executable, its resolved
// path (if any) refers to the same file, and its parent is not itself a match.
// Children of a matching process are helpers of an already counted instance
// (browser renderers, Electron workers) and are excluded.
package counter

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/loykin/tally/internal/procsnap"
)

// Target is the executable being monitored. It is immutable for the lifetime
// of one monitoring session.
type Target struct {
	Path string // absolute path as configured
	Name string // basename of Path
}

// NewTarget derives a Target from a configured executable path.
// It does not check that the file exists.
func NewTarget(path string) (Target, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return Target{}, errors.New("empty executable path")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Target{}, err
	}
	return Target{Path: abs, Name: filepath.Base(abs)}, nil
}

// Matcher holds the platform rules used to compare processes with a Target.
type Matcher struct {
	// FoldCase compares names and basenames case-insensitively.
	FoldCase bool
}

// DefaultMatcher folds case on platforms whose file systems are case-insensitive
// by default (NTFS, APFS).
func DefaultMatcher() Matcher {
	return Matcher{FoldCase: foldsCase(runtime.GOOS)}
}

func foldsCase(goos string) bool {
	switch goos {
	case "windows", "darwin", "ios":
		return true
	default:
		return false
	}
}

// Count returns the number of independent top-level instances of t in snap.
func (m Matcher) Count(t Target, snap []procsnap.Record) int {
	return len(m.Instances(t, snap))
}

// Instances returns the sorted, de-duplicated pids judged to be top-level instances of t.
func (m Matcher) Instances(t Target, snap []procsnap.Record) []int32 {
	if len(snap) == 0 {
		return nil
	}
	e := newEvaluation(m, t, snap)
	var out []int32
	seen := make(map[int32]struct{})
	for _, r := range snap {
		if _, dup := seen[r.PID]; dup {
			continue
		}
		if !e.matches(r.PID) {
			continue
		}
		if e.parentMatches(r) {
			continue
		}
		seen[r.PID] = struct{}{}
		out = append(out, r.PID)
	}
	slices.Sort(out)
	return out
}

// evaluation caches per-call state: the target's file identity and the
// match verdict for every pid already examined.
type evaluation struct {
	m       Matcher
	t       Target
	byPID   map[int32]procsnap.Record
	verdict map[int32]bool
	target  os.FileInfo
}

func newEvaluation(m Matcher, t Target, snap []procsnap.Record) *evaluation {
	e := &evaluation{
		m:       m,
		t:       t,
		byPID:   make(map[int32]procsnap.Record, len(snap)),
		verdict: make(map[int32]bool),
	}
	for _, r := range snap {
		if _, ok := e.byPID[r.PID]; !ok {
			e.byPID[r.PID] = r
		}
	}
	if fi, err := os.Stat(t.Path); err == nil {
		e.target = fi
	}
	return e
}

func (e *evaluation) matches(pid int32) bool {
	if v, ok := e.verdict[pid]; ok {
		return v
	}
	r, ok := e.byPID[pid]
	v := ok && e.match(r)
	e.verdict[pid] = v
	return v
}

func (e *evaluation) match(r procsnap.Record) bool {
	if !r.Name.Valid || !e.m.sameName(r.Name.V, e.t.Name) {
		return false
	}
	// Unresolved path: name-only match. Path resolution fails for reasons
	// unrelated to identity (transient permission issues).
	if !r.Exe.Valid {
		return true
	}
	return e.sameFile(r.Exe.V)
}

func (e *evaluation) parentMatches(r procsnap.Record) bool {
	if !r.PPID.Valid || r.PPID.V == r.PID {
		return false
	}
	return e.matches(r.PPID.V)
}

func (m Matcher) sameName(a, b string) bool {
	if m.FoldCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// sameFile reports whether exe refers to the target file. File identity is
// authoritative when both paths can be stat'ed. Otherwise it falls back to a
// case-insensitive basename comparison, so packaged apps whose reported path
// differs from the configured one keep being counted. Two different
// executables sharing a file name in different locations are conflated by
// that fallback.
func (e *evaluation) sameFile(exe string) bool {
	if filepath.Clean(exe) == e.t.Path || (e.m.FoldCase && strings.EqualFold(filepath.Clean(exe), e.t.Path)) {
		return true
	}
	if e.target != nil {
		if fi, err := os.Stat(exe); err == nil {
			return os.SameFile(fi, e.target)
		}
	}
	return strings.EqualFold(filepath.Base(exe), filepath.Base(e.t.Path))
}
