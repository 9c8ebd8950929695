package domain

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/haukened/sg-block/internal/block/common/utils"
)

// MaxURLLength bounds a single blacklist entry.
const MaxURLLength = 4096

var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"ftp":   {},
}

// CanonicalURL is a validated blacklist entry. squidGuard lists carry no
// scheme, so String renders host[:port] followed by the path and query.
type CanonicalURL struct {
	Host string // lowercase ASCII hostname or IP literal
	Port string // empty when not given
	Path string // escaped path plus "?query"; may be empty
	Apex string // registrable domain of Host, informational only
}

// String renders the entry exactly as it is written to a blacklist file.
func (u CanonicalURL) String() string {
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if u.Port != "" {
		host += ":" + u.Port
	}
	return host + u.Path
}

// Record returns the newline-terminated record for u.
func (u CanonicalURL) Record() URLRecord {
	return NewURLRecord(u)
}

// ValidateURL checks raw and returns its canonical blacklist form.
//
// Rules, in order:
//   - no control characters anywhere (this includes CR, LF, NUL and the
//     unicode line/paragraph separators), checked before any trimming
//   - not empty after trimming surrounding spaces, and no inner whitespace
//   - an optional scheme, which must be http, https or ftp; scheme, userinfo
//     and fragment are dropped
//   - a valid hostname or IP literal, and a numeric port if one is present
//
// Every failure wraps ErrInvalidInput.
func ValidateURL(raw string) (CanonicalURL, error) {
	if !utf8.ValidString(raw) {
		return CanonicalURL{}, fmt.Errorf("%w: url is not valid UTF-8", ErrInvalidInput)
	}
	if i := strings.IndexFunc(raw, isForbiddenRune); i >= 0 {
		return CanonicalURL{}, fmt.Errorf("%w: url contains a control character at offset %d", ErrInvalidInput, i)
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return CanonicalURL{}, fmt.Errorf("%w: url is empty", ErrInvalidInput)
	}
	if len(s) > MaxURLLength {
		return CanonicalURL{}, fmt.Errorf("%w: url longer than %d bytes", ErrInvalidInput, MaxURLLength)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return CanonicalURL{}, fmt.Errorf("%w: url contains whitespace", ErrInvalidInput)
	}

	withScheme := s
	if scheme, ok := schemePrefix(s); ok {
		if _, allowed := allowedSchemes[strings.ToLower(scheme)]; !allowed {
			return CanonicalURL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidInput, scheme)
		}
	} else {
		withScheme = "http://" + strings.TrimPrefix(s, "//")
	}

	u, err := url.Parse(withScheme)
	if err != nil {
		return CanonicalURL{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Opaque != "" {
		return CanonicalURL{}, fmt.Errorf("%w: opaque url %q", ErrInvalidInput, s)
	}

	out := CanonicalURL{Port: u.Port()}
	if out.Port != "" {
		if p, err := strconv.ParseUint(out.Port, 10, 16); err != nil || p == 0 {
			return CanonicalURL{}, fmt.Errorf("%w: invalid port %q", ErrInvalidInput, out.Port)
		}
	}

	host := u.Hostname()
	if host == "" {
		return CanonicalURL{}, fmt.Errorf("%w: url has no host", ErrInvalidInput)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.Zone() != "" {
			return CanonicalURL{}, fmt.Errorf("%w: ip zone not allowed in %q", ErrInvalidInput, host)
		}
		out.Host = addr.String()
		out.Apex = out.Host
	} else {
		canon, err := utils.CanonicalHost(host)
		if err != nil {
			return CanonicalURL{}, fmt.Errorf("%w: invalid host %q: %v", ErrInvalidInput, host, err)
		}
		if err := validateHostname(canon); err != nil {
			return CanonicalURL{}, err
		}
		out.Host = canon
		out.Apex = utils.ApexDomain(canon)
	}

	out.Path = u.EscapedPath()
	if u.RawQuery != "" || u.ForceQuery {
		out.Path += "?" + u.RawQuery
	}
	// decoding may surface bytes the raw checks never saw
	if s := out.String(); strings.IndexFunc(s, unicode.IsSpace) >= 0 || strings.IndexFunc(s, isForbiddenRune) >= 0 {
		return CanonicalURL{}, fmt.Errorf("%w: canonical form contains whitespace or a control character", ErrInvalidInput)
	}
	return out, nil
}

// schemePrefix returns the text before "://" when it is shaped like a scheme,
// so "host/a://b" is treated as scheme-less.
func schemePrefix(s string) (string, bool) {
	i := strings.Index(s, "://")
	if i <= 0 {
		return "", false
	}
	for _, c := range s[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return "", false
		}
	}
	return s[:i], true
}

// isForbiddenRune reports C0/C1 controls, DEL and the unicode line breaks that
// some consumers treat as newlines.
func isForbiddenRune(r rune) bool {
	return unicode.IsControl(r) || r == '\u2028' || r == '\u2029'
}

// validateHostname applies length and label rules to an ASCII hostname.
// Single-label names are allowed since blacklists often target intranet hosts.
func validateHostname(host string) error {
	if len(host) > 253 {
		return fmt.Errorf("%w: hostname longer than 253 bytes", ErrInvalidInput)
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return fmt.Errorf("%w: invalid label in hostname %q", ErrInvalidInput, host)
		}
		if label[0] == '-' {
			return fmt.Errorf("%w: label starts with '-' in hostname %q", ErrInvalidInput, host)
		}
		for i := 0; i < len(label); i++ {
			if !isHostByte(label[i]) {
				return fmt.Errorf("%w: invalid character %q in hostname %q", ErrInvalidInput, label[i], host)
			}
		}
	}
	return nil
}

func isHostByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
