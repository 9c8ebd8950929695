package domain

import (
	"fmt"
	"strings"
)

// maxSegmentLength matches NAME_MAX on common filesystems.
const maxSegmentLength = 255

// Category identifies one selectable blacklist file under the rule-set root:
// Group is a first-level directory, Name an entry inside it.
type Category struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

// Token returns the "group/name" selection string.
func (c Category) Token() string {
	return c.Group + "/" + c.Name
}

// CategoryGroup is the display form of all categories sharing a group.
type CategoryGroup struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// GroupCategories folds a flat category list into groups, keeping the order in
// which each group was first seen so that a group's entries stay contiguous.
func GroupCategories(cats []Category) []CategoryGroup {
	if len(cats) == 0 {
		return nil
	}
	index := make(map[string]int)
	out := make([]CategoryGroup, 0)
	for _, c := range cats {
		i, ok := index[c.Group]
		if !ok {
			i = len(out)
			index[c.Group] = i
			out = append(out, CategoryGroup{Name: c.Group})
		}
		out[i].Categories = append(out[i].Categories, c.Name)
	}
	return out
}

// ParseCategoryToken parses a client supplied "group/name" selection.
//
// Traversal attempts (absolute paths, backslashes, "." or ".." segments) fail
// with ErrPathEscape. Anything else that is not exactly two segments drawn
// from the allowed character set fails with ErrInvalidInput.
func ParseCategoryToken(token string) (Category, error) {
	if token == "" {
		return Category{}, fmt.Errorf("%w: category is empty", ErrInvalidInput)
	}
	if strings.HasPrefix(token, "/") || strings.Contains(token, `\`) {
		return Category{}, fmt.Errorf("%w: category %q is not a relative path", ErrPathEscape, token)
	}
	segments := strings.Split(token, "/")
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			return Category{}, fmt.Errorf("%w: category %q contains a %q segment", ErrPathEscape, token, seg)
		}
	}
	if len(segments) != 2 {
		return Category{}, fmt.Errorf("%w: category %q must be group/name", ErrInvalidInput, token)
	}
	for _, seg := range segments {
		if !ValidSegment(seg) {
			return Category{}, fmt.Errorf("%w: category %q has an invalid segment %q", ErrInvalidInput, token, seg)
		}
	}
	return Category{Group: segments[0], Name: segments[1]}, nil
}

// ValidSegment reports whether s may be used as a group or category name.
// The allow-list is [A-Za-z0-9._+-]; "." and ".." are never valid.
func ValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > maxSegmentLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '+', c == '-':
		default:
			return false
		}
	}
	return true
}
