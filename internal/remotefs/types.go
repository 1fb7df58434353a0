// Package remotefs defines the uniform interface exposed by every remote
// transport (spec §4.1: "Two concrete adapters expose the same capability
// set").
package remotefs

import (
	"errors"
	"strings"
	"time"
)

// ErrKind is the closed taxonomy of error kinds an adapter may surface
// (spec §4.1, §7). Stages convert these into job-level failures without
// string matching.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindNotFound
	KindForbidden
	KindTimeout
	KindConnectionLost
	KindCorrupt
	KindTransient
	KindFatal
)

func (k ErrKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindTimeout:
		return "Timeout"
	case KindConnectionLost:
		return "ConnectionLost"
	case KindCorrupt:
		return "Corrupt"
	case KindTransient:
		return "Transient"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is a typed remote-filesystem error carrying its kind through stage
// boundaries (spec §9: "carry the kind through stage boundaries rather than
// rely on string matching").
type Error struct {
	Kind    ErrKind
	Adapter string
	Op      string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Adapter != "" {
		b.WriteString(" [" + e.Adapter + "]")
	}
	if e.Op != "" {
		b.WriteString(": " + e.Op)
	}
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind, adapter name, operation, and path.
func NewError(kind ErrKind, adapter, op, path string, err error) *Error {
	return &Error{Kind: kind, Adapter: adapter, Op: op, Path: path, Err: err}
}

// KindOf extracts the ErrKind carried by err, defaulting to KindUnknown.
func KindOf(err error) ErrKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}

// EntryType distinguishes files from directories in a listing.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDir
)

// Entry is one row returned by List.
type Entry struct {
	Name    string
	Type    EntryType
	Size    int64
	ModTime time.Time
}

// Stat describes the current state of a remote path.
type Stat struct {
	Size    int64
	ModTime time.Time
	Exists  bool
}

// ProgressFunc is invoked during a stream at >=500ms cadence (spec §4.1).
type ProgressFunc func(transferred, total int64, speed float64, eta time.Duration)
