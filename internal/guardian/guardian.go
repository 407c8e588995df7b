// Package guardian implements the OriginGuardian: an
// in-memory reservation table enforcing at-most-one-active-worker per
// origin, with scoped guards and poison detection.
package guardian

import (
	"fmt"
	"sync"
	"time"

	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/origin"
)

// Entry is the per-origin record held inside the Guardian.
type Entry struct {
	InUse          bool
	LastModified   time.Time
	DeepestCrawled crawlurl.Depth
}

// PoisonError is returned by CheckPoison when a guard's invariants no
// longer hold - missing entry, cleared in_use, or a timestamp mismatch.
type PoisonError struct {
	Origin origin.Key
	Reason string
}

func (e *PoisonError) Error() string {
	return fmt.Sprintf("context: guard for origin %q poisoned: %s", e.Origin, e.Reason)
}

// AlreadyOccupiedError is returned by TryReserve when another worker
// already holds the origin's guard.
type AlreadyOccupiedError struct {
	Origin origin.Key
}

func (e *AlreadyOccupiedError) Error() string {
	return fmt.Sprintf("context: origin %q already occupied", e.Origin)
}

// NoOriginError is returned when a URL has no extractable origin.
type NoOriginError struct {
	URL string
}

func (e *NoOriginError) Error() string {
	return fmt.Sprintf("context: no origin for url %q", e.URL)
}

// Guardian is the shared reservation table. Safe for concurrent use.
type Guardian struct {
	mu      sync.Mutex
	entries map[origin.Key]*Entry
}

// New creates an empty Guardian.
func New() *Guardian {
	return &Guardian{entries: make(map[origin.Key]*Entry)}
}

// Guard is a scoped reservation over an OriginKey, exclusive for its
// lifetime. Guard carries a non-owning back-reference to the Guardian
// that issued it - the Guardian always outlives every guard it issues,
// because the Orchestrator owns the Guardian and only drops it after
// every worker has exited. Release is idempotent and safe to call from
// any exit path; callers are expected to `defer guard.Release()`
// immediately after a successful TryReserve.
type Guard struct {
	g        *Guardian
	origin   origin.Key
	stamp    time.Time
	released sync.Once
}

// Origin returns the OriginKey this guard reserves.
func (gd *Guard) Origin() origin.Key { return gd.origin }

// Release clears the origin's in_use flag and updates its
// deepest-crawled depth if depth is deeper than what is recorded. It is
// always safe to call, including multiple times or on a nil depth.
func (gd *Guard) Release(deepestCrawled *crawlurl.Depth) {
	gd.released.Do(func() {
		gd.g.release(gd.origin, deepestCrawled)
	})
}

// TryReserve atomically checks and sets the in_use flag for url's
// origin, creating the entry on first sight. Returns AlreadyOccupiedError
// if another guard already holds the origin, or NoOriginError if url has
// no origin key.
func (g *Guardian) TryReserve(rawURL string) (*Guard, error) {
	key, err := origin.Of(rawURL)
	if err != nil {
		return nil, &NoOriginError{URL: rawURL}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		e = &Entry{}
		g.entries[key] = e
	}
	if e.InUse {
		return nil, &AlreadyOccupiedError{Origin: key}
	}

	now := time.Now().UTC()
	e.InUse = true
	e.LastModified = now

	return &Guard{g: g, origin: key, stamp: now}, nil
}

// release is the lazy, fail-open release operation: it never fails, but
// a concurrent holder may observe a poisoned entry if invariants were
// violated beforehand.
func (g *Guardian) release(key origin.Key, deepestCrawled *crawlurl.Depth) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if !ok {
		return
	}
	e.InUse = false
	e.LastModified = time.Now().UTC()
	if deepestCrawled != nil && deepestCrawled.FromSeed > e.DeepestCrawled.FromSeed {
		e.DeepestCrawled = *deepestCrawled
	}
}

// CanProvideAdditionalValue reports whether crawling url would deepen
// coverage of its origin: true iff url's depth is strictly less than the
// deepest depth already crawled for that origin, or no record exists yet.
func (g *Guardian) CanProvideAdditionalValue(u crawlurl.URL) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[u.Origin()]
	if !ok {
		return true
	}
	return u.Depth().FromSeed < e.DeepestCrawled.FromSeed
}

// KnowsOrigin reports whether rawURL has an extractable origin and, if
// so, whether the Guardian has an entry for it. The first return value is
// false when rawURL has no origin.
func (g *Guardian) KnowsOrigin(rawURL string) (known bool, hasOrigin bool) {
	key, err := origin.Of(rawURL)
	if err != nil {
		return false, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.entries[key]
	return ok, true
}

// CurrentState returns a snapshot of the entry for key, or false if no
// entry exists.
func (g *Guardian) CurrentState(key origin.Key) (Entry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// CurrentlyReserved returns the OriginKeys presently in use.
func (g *Guardian) CurrentlyReserved() []origin.Key {
	g.mu.Lock()
	defer g.mu.Unlock()

	var keys []origin.Key
	for k, e := range g.entries {
		if e.InUse {
			keys = append(keys, k)
		}
	}
	return keys
}

// CheckPoison detects tampering with guard's entry: a missing entry, a
// cleared in_use flag, or a last-modified timestamp that no longer
// matches what was stamped at reservation time.
func (g *Guardian) CheckPoison(gd *Guard) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[gd.origin]
	if !ok {
		return &PoisonError{Origin: gd.origin, Reason: "entry missing"}
	}
	if !e.InUse {
		return &PoisonError{Origin: gd.origin, Reason: "in_use flag cleared"}
	}
	if !e.LastModified.Equal(gd.stamp) {
		return &PoisonError{Origin: gd.origin, Reason: fmt.Sprintf("timestamp is %v, expected %v", e.LastModified, gd.stamp)}
	}
	return nil
}
