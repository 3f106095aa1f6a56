package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// Entry is the stored envelope. Expiry lives in the envelope rather than in
// badger's native TTL so expired entries stay countable until cleanup and a
// zero TTL means already-expired instead of never-expiring.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at t.
func (e *Entry) Expired(t time.Time) bool {
	return !e.ExpiresAt.After(t)
}

// Stats summarizes the store contents.
type Stats struct {
	TotalEntries   int   `json:"total_entries"`
	ValidEntries   int   `json:"valid_entries"`
	ExpiredEntries int   `json:"expired_entries"`
	SizeBytes      int64 `json:"size_bytes"`
}

// Store is a durable key-value cache on a local badger database. Safe for
// concurrent use; the screening workers all share one store.
type Store struct {
	db         *badger.DB
	logger     *logger.Logger
	defaultTTL time.Duration
}

// Open opens or creates the store at path.
func Open(path string, defaultTTL time.Duration, log *logger.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrCache, path, err)
	}

	s := &Store{
		db:         db,
		logger:     log.WithField("module", "cache"),
		defaultTTL: defaultTTL,
	}
	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"ttl":  defaultTTL,
	}).Info("Cache opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set stores a value under the default TTL.
func (s *Store) Set(key string, value interface{}) error {
	return s.SetTTL(key, value, s.defaultTTL)
}

// SetTTL stores a value with an explicit TTL. A zero or negative TTL writes
// an entry that is already expired.
func (s *Store) SetTTL(key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", domain.ErrCache, key, err)
	}

	now := time.Now()
	entry := Entry{
		Key:       key,
		Value:     raw,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	encoded, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("%w: marshal entry %s: %v", domain.ErrCache, key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encoded)
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrCache, key, err)
	}
	return nil
}

// Get loads a value into out. It returns false on a miss; an expired entry
// is a miss and is deleted on the way out.
func (s *Store) Get(key string, out interface{}) (bool, error) {
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", domain.ErrCache, key, err)
	}

	if entry.Expired(time.Now()) {
		if err := s.Delete(key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to drop expired entry")
		}
		return false, nil
	}

	if err := json.Unmarshal(entry.Value, out); err != nil {
		return false, fmt.Errorf("%w: unmarshal %s: %v", domain.ErrCache, key, err)
	}
	return true, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrCache, key, err)
	}
	return nil
}

// Cleanup removes all expired entries and returns how many were dropped.
func (s *Store) Cleanup() (int, error) {
	expired, err := s.collectKeys(func(e *Entry, now time.Time) bool {
		return e.Expired(now)
	})
	if err != nil {
		return 0, err
	}
	if err := s.deleteKeys(expired); err != nil {
		return 0, err
	}

	s.logger.WithField("removed", len(expired)).Info("Cache cleanup finished")
	return len(expired), nil
}

// Clear removes every entry and returns how many were dropped.
func (s *Store) Clear() (int, error) {
	all, err := s.collectKeys(func(*Entry, time.Time) bool { return true })
	if err != nil {
		return 0, err
	}
	if err := s.deleteKeys(all); err != nil {
		return 0, err
	}

	s.logger.WithField("removed", len(all)).Info("Cache cleared")
	return len(all), nil
}

// Stats scans the store and reports entry counts and on-disk size.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	now := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			stats.TotalEntries++
			err := it.Item().Value(func(val []byte) error {
				var entry Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					// Unreadable entries count as expired.
					stats.ExpiredEntries++
					return nil
				}
				if entry.Expired(now) {
					stats.ExpiredEntries++
				} else {
					stats.ValidEntries++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: stats: %v", domain.ErrCache, err)
	}

	lsm, vlog := s.db.Size()
	stats.SizeBytes = lsm + vlog
	return stats, nil
}

// collectKeys returns the keys whose entries match the predicate.
func (s *Store) collectKeys(match func(*Entry, time.Time) bool) ([][]byte, error) {
	var keys [][]byte
	now := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var entry Entry
				if err := json.Unmarshal(val, &entry); err != nil {
					keys = append(keys, item.KeyCopy(nil))
					return nil
				}
				if match(&entry, now) {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", domain.ErrCache, err)
	}
	return keys, nil
}

// deleteKeys drops keys in batches.
func (s *Store) deleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("%w: batch delete: %v", domain.ErrCache, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("%w: batch flush: %v", domain.ErrCache, err)
	}
	return nil
}
