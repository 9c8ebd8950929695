// Package journal keeps the audit trail of completed blacklist appends.
package journal

import "github.com/haukened/sg-block/internal/block/domain"

// Noop discards entries. It is used when no journal database is configured.
type Noop struct{}

// Record discards the entry and reports sequence zero.
func (Noop) Record(domain.JournalEntry) (uint64, error) { return 0, nil }

// Recent always returns no entries.
func (Noop) Recent(int) ([]domain.JournalEntry, error) { return nil, nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
