package utils

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// hostProfile maps to the ASCII form without the strict STD3 rules, so
// underscores (common in tracker hostnames) survive.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// CanonicalHost lowercases a hostname, strips trailing dots and converts any
// unicode labels to their punycode form.
func CanonicalHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	for strings.HasSuffix(host, ".") {
		host = strings.TrimSuffix(host, ".")
	}
	if host == "" {
		return "", nil
	}
	ascii, err := hostProfile.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// ApexDomain returns the registrable domain (eTLD+1) for host, or host itself
// when the public suffix list has no answer.
func ApexDomain(host string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return apex
}
