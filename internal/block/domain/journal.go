package domain

import (
	"fmt"
	"strings"
	"time"
)

// JournalEntry records one successful append for the operator's audit trail.
//
// Notes:
// - Category is empty for appends to the fixed direct blacklist.
// - Seq is assigned by the journal store and is zero until persisted.
type JournalEntry struct {
	Seq      uint64    `json:"seq"`
	URL      string    `json:"url"`
	Target   string    `json:"target"`
	Category string    `json:"category,omitempty"`
	Remote   string    `json:"remote,omitempty"`
	Bytes    int       `json:"bytes"`
	AddedAt  time.Time `json:"added_at"`
}

// NewJournalEntry builds and validates an entry for a completed append.
func NewJournalEntry(rec URLRecord, target, category, remote string, at time.Time) (JournalEntry, error) {
	e := JournalEntry{
		URL:      rec.URL(),
		Target:   strings.TrimSpace(target),
		Category: category,
		Remote:   remote,
		Bytes:    rec.Len(),
		AddedAt:  at,
	}
	if err := e.Validate(); err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

// Validate checks the entry for required fields.
func (e JournalEntry) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("journal entry url must not be empty")
	}
	if e.Target == "" {
		return fmt.Errorf("journal entry target must not be empty")
	}
	if e.AddedAt.IsZero() {
		return fmt.Errorf("journal entry addedAt must be set")
	}
	if e.Bytes != len(e.URL)+1 {
		return fmt.Errorf("journal entry bytes %d do not match url length %d", e.Bytes, len(e.URL)+1)
	}
	return nil
}
