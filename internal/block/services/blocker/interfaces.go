package blocker

import "github.com/haukened/sg-block/internal/block/domain"

// RootReader extracts the rule-set root from the squidGuard config.
type RootReader interface {
	ReadRuleSetRoot(path, key string) (string, error)
}

// CategoryLister discovers the categories under a rule-set root.
type CategoryLister interface {
	List(root string) ([]domain.Category, error)
}

// PathResolver maps a "group/name" token to a blacklist file under root.
type PathResolver interface {
	Resolve(root, token string) (string, error)
}

// Appender appends one record to a blacklist file.
type Appender interface {
	Append(path string, rec domain.URLRecord) error
}

// Journal records completed appends. Implementations must be safe for
// concurrent use.
type Journal interface {
	Record(e domain.JournalEntry) (uint64, error)
	Recent(limit int) ([]domain.JournalEntry, error)
}
