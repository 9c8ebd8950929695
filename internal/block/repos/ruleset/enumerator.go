// Package ruleset discovers squidGuard blacklist categories under a rule-set
// root and maps a selected category back to its file path.
package ruleset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"

	logpkg "github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/domain"
)

// readDir is swapped in tests to simulate unreadable directories.
var readDir = os.ReadDir

// Options configures an Enumerator.
type Options struct {
	// Exclude holds glob patterns matched against category names, e.g.
	// "*.db" to hide squidGuard's compiled databases. Empty lists everything.
	Exclude []string
	Logger  logpkg.Logger
}

// Enumerator lists the categories found two levels below a rule-set root.
// It keeps no state between calls; the directory tree is read every time.
type Enumerator struct {
	exclude []glob.Glob
	logger  logpkg.Logger
}

// NewEnumerator compiles the exclude patterns.
func NewEnumerator(opts Options) (*Enumerator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	e := &Enumerator{logger: logger}
	for _, p := range opts.Exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		e.exclude = append(e.exclude, g)
	}
	return e, nil
}

// List walks root/<group>/<name> and returns one Category per entry found in
// each group directory. Files directly under root are ignored, as are names
// that could never be selected back through ParseCategoryToken. Categories of
// the same group are returned contiguously.
//
// An absent, unreadable or non-directory root yields ErrNotADirectory. A root
// without any qualifying entries yields an empty result and no error.
func (e *Enumerator) List(root string) ([]domain.Category, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNotADirectory, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotADirectory, root)
	}

	groups, err := readDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read %s: %v", domain.ErrNotADirectory, root, err)
	}

	var out []domain.Category
	for _, g := range groups {
		if !g.IsDir() {
			e.logger.Debug(map[string]any{"entry": g.Name()}, "ruleset_skip_non_directory")
			continue
		}
		if !domain.ValidSegment(g.Name()) {
			e.logger.Debug(map[string]any{"group": g.Name()}, "ruleset_skip_invalid_group")
			continue
		}
		groupDir := filepath.Join(root, g.Name())
		entries, err := readDir(groupDir)
		if err != nil {
			e.logger.Warn(map[string]any{"group": g.Name(), "error": err}, "ruleset_group_unreadable")
			continue
		}
		for _, c := range entries {
			name := c.Name()
			if c.Type()&fs.ModeSymlink != 0 {
				e.logger.Debug(map[string]any{"group": g.Name(), "name": name}, "ruleset_skip_symlink")
				continue
			}
			if !domain.ValidSegment(name) {
				e.logger.Debug(map[string]any{"group": g.Name(), "name": name}, "ruleset_skip_invalid_name")
				continue
			}
			if e.excluded(name) {
				e.logger.Debug(map[string]any{"group": g.Name(), "name": name}, "ruleset_skip_excluded")
				continue
			}
			out = append(out, domain.Category{Group: g.Name(), Name: name})
		}
	}
	e.logger.Debug(map[string]any{"root": root, "count": len(out)}, "ruleset_list_done")
	return out, nil
}

func (e *Enumerator) excluded(name string) bool {
	for _, g := range e.exclude {
		if g.Match(name) {
			return true
		}
	}
	return false
}
