// Package boltstore persists the LinkStateStore in a bbolt file, the
// Go-ecosystem analogue of the original's RocksDB column family.
package boltstore

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/FranksOps/burr/internal/linkstate"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("link_state")

const stripeCount = 256

// Store is a bbolt-backed linkstate.Store. Per-key locking is striped
// across stripeCount mutexes keyed by an FNV hash of the URL, so writes
// to distinct keys never block each other while writes to the same key
// are serialized ("LinkState transitions on a single URL are
// serialized by the store's per-key lock").
type Store struct {
	db      *bolt.DB
	stripes [stripeCount]sync.Mutex
}

// Open creates or opens a bbolt database at path for link-state storage.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) stripeFor(url string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	return &s.stripes[h.Sum32()%stripeCount]
}

// Upsert applies fn under the per-key stripe lock and persists the result.
func (s *Store) Upsert(url string, fn func(current linkstate.State, exists bool) (linkstate.State, error)) (linkstate.State, error) {
	mu := s.stripeFor(url)
	mu.Lock()
	defer mu.Unlock()

	current, exists, err := s.getLocked(url)
	if err != nil {
		return linkstate.State{}, err
	}

	next, err := fn(current, exists)
	if err != nil {
		return linkstate.State{}, err
	}

	data, err := linkstate.Marshal(next)
	if err != nil {
		return linkstate.State{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(url), data)
	})
	if err != nil {
		return linkstate.State{}, fmt.Errorf("context: %w", err)
	}

	return next, nil
}

func (s *Store) getLocked(url string) (linkstate.State, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(url))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return linkstate.State{}, false, fmt.Errorf("context: %w", err)
	}
	if data == nil {
		return linkstate.State{}, false, nil
	}
	st, err := linkstate.Unmarshal(data)
	if err != nil {
		return linkstate.State{}, false, err
	}
	return st, true, nil
}

// Get returns the current state of url.
func (s *Store) Get(url string) (linkstate.State, bool, error) {
	mu := s.stripeFor(url)
	mu.Lock()
	defer mu.Unlock()
	return s.getLocked(url)
}

// IterByPrefix calls fn for every URL beginning with prefix.
func (s *Store) IterByPrefix(prefix string, fn func(url string, st linkstate.State) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			st, err := linkstate.Unmarshal(v)
			if err != nil {
				return err
			}
			if !fn(string(k), st) {
				break
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// CountByKind returns the number of records currently in each kind.
func (s *Store) CountByKind() (map[linkstate.Kind]int, error) {
	counts := make(map[linkstate.Kind]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(_, v []byte) error {
			st, err := linkstate.Unmarshal(v)
			if err != nil {
				return err
			}
			counts[st.Kind]++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return counts, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ linkstate.Store = (*Store)(nil)
