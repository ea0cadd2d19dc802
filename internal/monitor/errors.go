package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound is returned by Start when the executable does not exist.
	ErrTargetNotFound = errors.New("target executable not found")
	// ErrStopTimeout is returned by Stop when the loop did not exit within the
	// bounded wait. The loop is abandoned and its later events are dropped.
	ErrStopTimeout = errors.New("monitor loop did not stop in time")
	// ErrClosed is returned by a Controller after Shutdown.
	ErrClosed = errors.New("monitor controller is shut down")
	// ErrAlreadyStarted is returned when Start is called on a used Loop.
	ErrAlreadyStarted = errors.New("monitor loop already started")
)

// ErrorKind classifies a failed tick.
type ErrorKind int

const (
	KindSnapshot ErrorKind = iota + 1
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// TickError reports a non-fatal failure of a single tick. The loop keeps running.
type TickError struct {
	Kind ErrorKind
	Err  error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *TickError) Unwrap() error { return e.Err }

// IsSnapshotError reports whether err is a TickError from the process snapshot.
func IsSnapshotError(err error) bool { return isKind(err, KindSnapshot) }

// IsPersistenceError reports whether err is a TickError from the store.
func IsPersistenceError(err error) bool { return isKind(err, KindPersistence) }

func isKind(err error, k ErrorKind) bool {
	var te *TickError
	return errors.As(err, &te) && te.Kind == k
}
