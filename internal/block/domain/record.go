package domain

// URLRecord is one blacklist line: a canonical URL plus a single trailing
// newline. It can only be built from a CanonicalURL, so the text never holds a
// line break of its own.
type URLRecord struct {
	text string
}

// NewURLRecord builds the record for a validated URL.
func NewURLRecord(u CanonicalURL) URLRecord {
	return URLRecord{text: u.String()}
}

// URL returns the entry without its newline.
func (r URLRecord) URL() string { return r.text }

// Bytes returns the exact bytes to append.
func (r URLRecord) Bytes() []byte {
	b := make([]byte, 0, len(r.text)+1)
	b = append(b, r.text...)
	return append(b, '\n')
}

// Len is the number of bytes a complete append must persist.
func (r URLRecord) Len() int { return len(r.text) + 1 }

// IsZero reports a record that was not built from a URL.
func (r URLRecord) IsZero() bool { return r.text == "" }
