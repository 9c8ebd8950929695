// Package bolt persists the append journal in a bbolt database.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/sg-block/internal/block/domain"
)

var (
	bucketAppends = []byte("appends")
	bucketMeta    = []byte("meta")
	keyCreated    = []byte("created")
)

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
const DefaultRecentLimit = 50

// Store is a bbolt-backed journal. Keys are big-endian sequence numbers so a
// reverse cursor walk yields newest entries first.
type Store struct {
	db *bbolt.DB
}

// Stats summarises the journal contents.
type Stats struct {
	Entries     int
	LastSeq     uint64
	CreatedUnix int64
}

// New opens (or creates) the journal at path and ensures buckets exist.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAppends); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get(keyCreated) == nil {
			return meta.Put(keyCreated, u64(uint64(time.Now().Unix())))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database and its file lock.
func (s *Store) Close() error { return s.db.Close() }

// Record validates e, assigns it the next sequence number and stores it.
func (s *Store) Record(e domain.JournalEntry) (uint64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	var seq uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAppends)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = next
		v, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(u64(next), v); err != nil {
			return err
		}
		seq = next
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal record: %w", err)
	}
	return seq, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	var out []domain.JournalEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAppends).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e domain.JournalEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats reports entry count, the last assigned sequence and creation time.
func (s *Store) Stats() Stats {
	st := Stats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketAppends); b != nil {
			st.Entries = b.Stats().KeyN
			st.LastSeq = b.Sequence()
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyCreated); len(v) == 8 {
				st.CreatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
