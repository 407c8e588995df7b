// Package sqlitestore persists the LinkStateStore using the same
// modernc.org/sqlite driver internal/storage/sqlite already uses for
// archived results, letting a crawl share one SQLite file across
// concerns.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/FranksOps/burr/internal/linkstate"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS link_state (
	url TEXT PRIMARY KEY,
	data TEXT NOT NULL
);
`

const stripeCount = 256

// Store is a SQLite-backed linkstate.Store.
type Store struct {
	db      *sql.DB
	stripes [stripeCount]sync.Mutex
}

// New opens (creating if absent) a SQLite-backed link-state store at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
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

func (s *Store) getLocked(url string) (linkstate.State, bool, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM link_state WHERE url = ?`, url).Scan(&data)
	if err == sql.ErrNoRows {
		return linkstate.State{}, false, nil
	}
	if err != nil {
		return linkstate.State{}, false, fmt.Errorf("context: %w", err)
	}
	st, err := linkstate.Unmarshal([]byte(data))
	if err != nil {
		return linkstate.State{}, false, err
	}
	return st, true, nil
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

	_, err = s.db.Exec(
		`INSERT INTO link_state (url, data) VALUES (?, ?)
		 ON CONFLICT(url) DO UPDATE SET data = excluded.data`,
		url, string(data),
	)
	if err != nil {
		return linkstate.State{}, fmt.Errorf("context: %w", err)
	}

	return next, nil
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
	rows, err := s.db.Query(`SELECT url, data FROM link_state WHERE url LIKE ? ESCAPE '\' ORDER BY url`, escapeLike(prefix)+"%")
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url, data string
		if err := rows.Scan(&url, &data); err != nil {
			return fmt.Errorf("context: %w", err)
		}
		st, err := linkstate.Unmarshal([]byte(data))
		if err != nil {
			return err
		}
		if !fn(url, st) {
			break
		}
	}
	return rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer("%", "\\%", "_", "\\_")
	return r.Replace(s)
}

// CountByKind returns the number of records currently in each kind.
func (s *Store) CountByKind() (map[linkstate.Kind]int, error) {
	rows, err := s.db.Query(`SELECT data FROM link_state`)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer rows.Close()

	counts := make(map[linkstate.Kind]int)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		st, err := linkstate.Unmarshal([]byte(data))
		if err != nil {
			return nil, err
		}
		counts[st.Kind]++
	}
	return counts, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ linkstate.Store = (*Store)(nil)
