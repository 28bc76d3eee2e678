package common

import (
	"errors"
	"fmt"
)

// Common error values used across optimizer packages
var (
	ErrPathEmpty        = errors.New("path cannot be empty")
	ErrSourceNotExist   = errors.New("source does not exist")
	ErrNotADirectory    = errors.New("path is not a directory")
	ErrLedgerCorrupt    = errors.New("ledger file is corrupt")
	ErrEncoderNoOutput  = errors.New("encoder produced no output file")
	ErrReplaceIncomplete = errors.New("replace aborted, original restored from backup")
)

// Kind classifies an optimizer error for propagation policy decisions:
// per-file kinds are counted and reported, run-level kinds abort the run.
type Kind string

const (
	KindIo                Kind = "io"
	KindEncoder           Kind = "encoder"
	KindTimeout           Kind = "timeout"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindValidation        Kind = "validation"
	KindMissingDependency Kind = "missing_dependency"
	KindState             Kind = "state"
)

// Fatal reports whether this kind aborts the whole run rather than a single file.
func (k Kind) Fatal() bool {
	return k == KindValidation || k == KindMissingDependency
}

// Error carries a kind and the offending path alongside the underlying cause.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and path. Returns nil when err is nil.
func E(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// Ef wraps a formatted message as a classified error.
func Ef(kind Kind, path, format string, args ...interface{}) error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindIo for plain errors.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindIo
}
