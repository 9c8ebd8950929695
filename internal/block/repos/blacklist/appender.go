// Package blacklist appends URL records to squidGuard blacklist files.
package blacklist

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"

	logpkg "github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/domain"
)

// DefaultMode is the permission used when a blacklist file is created.
const DefaultMode fs.FileMode = 0o644

// handle is the subset of *os.File the appender needs.
type handle interface {
	io.WriteCloser
	Stat() (fs.FileInfo, error)
	Sync() error
	Fd() uintptr
}

var (
	// openFile is swapped in tests to simulate short writes and open failures.
	openFile = func(name string, flag int, perm fs.FileMode) (handle, error) {
		f, err := os.OpenFile(name, flag, perm)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	flock = unix.Flock
)

// O_NONBLOCK keeps a FIFO planted at the target from blocking the open.
// O_NOFOLLOW refuses a symlink swapped in after the path was resolved.
const openFlags = os.O_WRONLY | os.O_APPEND | os.O_CREATE | unix.O_NONBLOCK | unix.O_NOFOLLOW

// Options configures an Appender.
type Options struct {
	// Lock takes an exclusive advisory flock around each write.
	Lock bool
	// Sync fsyncs the file after each complete write.
	Sync bool
	// Mode is used when the file is created. Zero means DefaultMode.
	Mode   fs.FileMode
	Logger logpkg.Logger
}

// Appender writes one record per call using append-create semantics.
type Appender struct {
	lock   bool
	sync   bool
	mode   fs.FileMode
	logger logpkg.Logger
}

// NewAppender returns an Appender for opts.
func NewAppender(opts Options) *Appender {
	a := &Appender{lock: opts.Lock, sync: opts.Sync, mode: opts.Mode, logger: opts.Logger}
	if a.mode == 0 {
		a.mode = DefaultMode
	}
	if a.logger == nil {
		a.logger = logpkg.NewNoopLogger()
	}
	return a
}

// Append writes rec to the end of path, creating the file if needed.
//
// The record is written with a single Write call. When fewer than rec.Len()
// bytes are accepted the returned error is a *domain.ShortWriteError; nothing
// is rolled back. A target that cannot be opened, is a symlink, or is not a
// regular file once opened fails with domain.ErrOpenFailed. When syncing is
// enabled and the flush fails after a complete write, the error wraps
// domain.ErrSyncFailed: the record is in the file but may not be durable.
func (a *Appender) Append(path string, rec domain.URLRecord) error {
	if rec.IsZero() {
		return fmt.Errorf("%w: empty record", domain.ErrInvalidInput)
	}
	if path == "" {
		return fmt.Errorf("%w: no target path", domain.ErrOpenFailed)
	}

	f, err := openFile(path, openFlags, a.mode)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrOpenFailed, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn(map[string]any{"path": path, "error": cerr}, "blacklist_close_failed")
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrOpenFailed, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file (%s)", domain.ErrOpenFailed, path, info.Mode().Type())
	}

	if a.lock {
		fd := int(f.Fd())
		if err := flock(fd, unix.LOCK_EX); err != nil {
			return fmt.Errorf("%w: lock %s: %v", domain.ErrOpenFailed, path, err)
		}
		defer func() { _ = flock(fd, unix.LOCK_UN) }()
	}

	want := rec.Len()
	n, werr := f.Write(rec.Bytes())
	if werr != nil || n != want {
		a.logger.Error(map[string]any{"path": path, "written": n, "want": want, "error": werr}, "blacklist_short_write")
		return &domain.ShortWriteError{Path: path, Written: n, Want: want, Err: werr}
	}

	if a.sync {
		if err := f.Sync(); err != nil {
			a.logger.Error(map[string]any{"path": path, "bytes": n, "error": err}, "blacklist_sync_failed")
			return fmt.Errorf("%w: %s: %w", domain.ErrSyncFailed, path, err)
		}
	}

	a.logger.Debug(map[string]any{"path": path, "bytes": n}, "blacklist_appended")
	return nil
}
