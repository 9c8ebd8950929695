package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports a missing field, a malformed URL or a malformed category token.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfig reports an unreadable squidGuard config or a missing rule-set root key.
	ErrConfig = errors.New("configuration error")
	// ErrNotADirectory reports a rule-set root that is absent, unreadable or not a directory.
	ErrNotADirectory = errors.New("rule-set root is not a directory")
	// ErrPathEscape reports a category token that would resolve outside the rule-set root.
	ErrPathEscape = errors.New("path escapes rule-set root")
	// ErrOpenFailed reports a blacklist file that could not be opened for append.
	ErrOpenFailed = errors.New("cannot open blacklist file")
	// ErrShortWrite reports a write that persisted fewer bytes than the record holds.
	ErrShortWrite = errors.New("short write")
	// ErrSyncFailed reports a complete write whose flush to stable storage failed.
	ErrSyncFailed = errors.New("sync failed")
)

// ErrorKind classifies errors at the request boundary.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindInvalidInput
	KindConfig
	KindNotADirectory
	KindPathEscape
	KindOpenFailed
	KindShortWrite
	KindSyncFailed
	KindInternal
)

var kindCodes = map[ErrorKind]string{
	KindNone:          "ok",
	KindInvalidInput:  "invalid_input",
	KindConfig:        "config_error",
	KindNotADirectory: "not_a_directory",
	KindPathEscape:    "path_escape",
	KindOpenFailed:    "open_failed",
	KindShortWrite:    "short_write",
	KindSyncFailed:    "sync_failed",
	KindInternal:      "internal",
}

// String returns the stable wire code for the kind.
func (k ErrorKind) String() string {
	if s, ok := kindCodes[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// KindOf maps err onto the error taxonomy. Unrecognised errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrNotADirectory):
		return KindNotADirectory
	case errors.Is(err, ErrPathEscape):
		return KindPathEscape
	case errors.Is(err, ErrOpenFailed):
		return KindOpenFailed
	case errors.Is(err, ErrShortWrite):
		return KindShortWrite
	case errors.Is(err, ErrSyncFailed):
		return KindSyncFailed
	default:
		return KindInternal
	}
}

// ShortWriteError carries the byte counts of an incomplete append.
type ShortWriteError struct {
	Path    string
	Written int
	Want    int
	Err     error // underlying write error, if any
}

// Error reports the path and byte counts.
func (e *ShortWriteError) Error() string {
	msg := fmt.Sprintf("short write to %s: wrote %d of %d bytes", e.Path, e.Written, e.Want)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is lets errors.Is(err, ErrShortWrite) match.
func (e *ShortWriteError) Is(target error) bool { return target == ErrShortWrite }

// Unwrap returns the underlying write error.
func (e *ShortWriteError) Unwrap() error { return e.Err }
