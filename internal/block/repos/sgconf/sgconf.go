// Package sgconf reads settings out of a squidGuard configuration file.
// The file is treated as read-only input; only "<key> <value>" lines are
// inspected and everything else is ignored.
package sgconf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	logpkg "github.com/haukened/sg-block/internal/block/common/log"
	"github.com/haukened/sg-block/internal/block/domain"
)

// DefaultKey is the squidGuard setting naming the blacklist database root.
const DefaultKey = "dbhome"

// openConfig is swapped in tests.
var openConfig = func(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Reader binds a logger to ReadRuleSetRoot.
type Reader struct {
	Logger logpkg.Logger
}

// ReadRuleSetRoot calls the package function with r's logger.
func (r Reader) ReadRuleSetRoot(path, key string) (string, error) {
	return ReadRuleSetRoot(path, key, r.Logger)
}

// ReadRuleSetRoot opens the squidGuard config at path and returns the
// rule-set root named by key. The file is reopened on every call.
func ReadRuleSetRoot(path, key string, logger logpkg.Logger) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: squidGuard config path is not set", domain.ErrConfig)
	}
	f, err := openConfig(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot open %s: %v", domain.ErrConfig, path, err)
	}
	defer func() { _ = f.Close() }()

	root, err := Parse(f, key, logger)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return root, nil
}

// Parse folds over the lines of r and returns the value of the last line
// whose first field equals key (case-insensitive).
//
// Behavior:
// - Skips blank lines and lines whose first field starts with '#'
// - Takes the second whitespace-delimited field as the value
// - Removes any whitespace left in the value
// - Requires the final value to be an absolute path
func Parse(r io.Reader, key string, logger logpkg.Logger) (string, error) {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	scanner := bufio.NewScanner(r)

	var (
		value   string
		matched bool
		lineNum int
	)
	logger.Debug(map[string]any{"key": key}, "parse_sgconf_start")
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		if len(fields) == 0 {
			continue
		}
		if strings.HasPrefix(fields[0], "#") {
			logger.Debug(map[string]any{"line": lineNum}, "sgconf_skip_comment")
			continue
		}
		if !strings.EqualFold(fields[0], key) {
			continue
		}
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "sgconf_skip_missing_value")
			continue
		}
		if len(fields) > 2 {
			logger.Warn(map[string]any{"line": lineNum, "key": key, "extra": fields[2:]}, "sgconf_extra_fields_ignored")
		}
		value = stripWhitespace(fields[1])
		matched = true
		logger.Debug(map[string]any{"line": lineNum, "value": value}, "sgconf_match")
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read error: %v", domain.ErrConfig, err)
	}
	if !matched {
		return "", fmt.Errorf("%w: no %q setting found", domain.ErrConfig, key)
	}
	if !filepath.IsAbs(value) {
		return "", fmt.Errorf("%w: %s %q is not an absolute path", domain.ErrConfig, key, value)
	}
	value = filepath.Clean(value)
	logger.Debug(map[string]any{"key": key, "value": value}, "parse_sgconf_done")
	return value, nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
