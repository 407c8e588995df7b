// Package recrawl tracks the last time each origin was crawled, so the
// queue can cool down origins that were visited too recently
// (request_interval/recrawl_interval pacing).
package recrawl

import (
	"fmt"
	"time"

	"github.com/FranksOps/burr/internal/origin"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("last_crawled")

// Manager is a bbolt-backed origin->timestamp store, reusing the same
// storage engine internal/linkstate/boltstore already introduces rather
// than adding a third embedded database for the same keyed-store shape.
type Manager struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at path for last-crawled timestamps.
func Open(path string) (*Manager, error) {
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

	return &Manager{db: db}, nil
}

// MarkCrawled records that key was just crawled at the given time.
func (m *Manager) MarkCrawled(key origin.Key, at time.Time) error {
	stamp, err := at.MarshalBinary()
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	err = m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key.String()), stamp)
	})
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

// LastCrawled returns the last recorded crawl time for key, and whether
// one was found.
func (m *Manager) LastCrawled(key origin.Key) (time.Time, bool, error) {
	var stamp []byte
	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key.String()))
		if v != nil {
			stamp = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("context: %w", err)
	}
	if stamp == nil {
		return time.Time{}, false, nil
	}
	var t time.Time
	if err := t.UnmarshalBinary(stamp); err != nil {
		return time.Time{}, false, fmt.Errorf("context: %w", err)
	}
	return t, true, nil
}

// IsCoolingDown reports whether key was crawled more recently than
// interval ago (the poll algorithm's "now - last < request_interval" check).
func (m *Manager) IsCoolingDown(key origin.Key, interval time.Duration, now time.Time) (bool, error) {
	last, found, err := m.LastCrawled(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return now.Sub(last) < interval, nil
}

// Close releases the underlying database file.
func (m *Manager) Close() error {
	return m.db.Close()
}
