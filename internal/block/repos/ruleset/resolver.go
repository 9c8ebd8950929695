package ruleset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logpkg "github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/domain"
)

var evalSymlinks = filepath.EvalSymlinks

// Resolver maps category tokens to blacklist paths.
type Resolver struct {
	logger logpkg.Logger
}

// NewResolver returns a Resolver that logs rejected tokens.
func NewResolver(logger logpkg.Logger) *Resolver {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	return &Resolver{logger: logger}
}

// Resolve implements the service's path resolver contract.
func (r *Resolver) Resolve(root, token string) (string, error) {
	p, err := Resolve(root, token)
	if err != nil {
		r.logger.Warn(map[string]any{"root": root, "token": token, "error": err}, "ruleset_resolve_rejected")
		return "", err
	}
	r.logger.Debug(map[string]any{"token": token, "path": p}, "ruleset_resolved")
	return p, nil
}

// Resolve returns root/group/name for a "group/name" token.
//
// The result is guaranteed to be a strict descendant of root, both lexically
// and after following any symlinks that already exist on the way to it.
// The category file itself must not be a symlink, since the appender opens
// it without following one. Traversal attempts and links fail with
// ErrPathEscape; malformed tokens with ErrInvalidInput. The target itself
// need not exist.
func Resolve(root, token string) (string, error) {
	cat, err := domain.ParseCategoryToken(token)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%w: rule-set root %q is not absolute", domain.ErrConfig, root)
	}
	root = filepath.Clean(root)
	target := filepath.Join(root, cat.Group, cat.Name)
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", domain.ErrPathEscape, token)
	}

	realRoot, err := evalSymlinks(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// nothing below a missing root can be a link out of it
			return target, nil
		}
		return "", fmt.Errorf("%w: cannot verify %s: %v", domain.ErrPathEscape, root, err)
	}

	if err := checkLink(realRoot, filepath.Join(root, cat.Group)); err != nil {
		return "", fmt.Errorf("%w: group %q: %v", domain.ErrPathEscape, cat.Group, err)
	}
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: category %q is a symbolic link", domain.ErrPathEscape, token)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: category %q: %v", domain.ErrPathEscape, token, err)
	}
	return target, nil
}

// checkLink verifies that p, if it exists, resolves inside realRoot.
func checkLink(realRoot, p string) error {
	if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	resolved, err := evalSymlinks(p)
	if err != nil {
		return fmt.Errorf("unresolvable link: %v", err)
	}
	if !within(realRoot, resolved) {
		return fmt.Errorf("resolves to %s outside %s", resolved, realRoot)
	}
	return nil
}

// within reports whether p is strictly below base.
func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
