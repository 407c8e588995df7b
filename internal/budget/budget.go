// Package budget tracks default and per-origin crawl budgets: depth
// limits, page caps, and recrawl/request pacing.
package budget

import (
	"sync"
	"time"

	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/origin"
)

// Setting bounds how aggressively a crawl may pursue a single origin.
type Setting struct {
	MaxDepthFromSeed   int
	MaxDistinctHosts   int
	MaxDistinctOrigins int
	MaxPagesPerOrigin  int
	RecrawlInterval    time.Duration
	RequestInterval    time.Duration
}

// DefaultSetting returns conservative defaults used when a crawl
// supplies no explicit configuration.
func DefaultSetting() Setting {
	return Setting{
		MaxDepthFromSeed:   10,
		MaxDistinctHosts:   50,
		MaxDistinctOrigins: 20,
		MaxPagesPerOrigin:  10000,
		RecrawlInterval:    24 * time.Hour,
		RequestInterval:    time.Second,
	}
}

// Manager holds a default Setting plus per-origin overrides, using a
// read-mostly in-memory map guarded by a RWMutex.
type Manager struct {
	mu        sync.RWMutex
	def       Setting
	perOrigin map[origin.Key]Setting
}

// New creates a Manager whose default is def.
func New(def Setting) *Manager {
	return &Manager{def: def, perOrigin: make(map[origin.Key]Setting)}
}

// GetFor returns the Setting that applies to key, falling back to the
// default when no override has been set.
func (m *Manager) GetFor(key origin.Key) Setting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.perOrigin[key]; ok {
		return s
	}
	return m.def
}

// GetDefault returns the default Setting.
func (m *Manager) GetDefault() Setting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.def
}

// SetDefault replaces the default Setting.
func (m *Manager) SetDefault(s Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.def = s
}

// Set installs a per-origin override.
func (m *Manager) Set(key origin.Key, s Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perOrigin[key] = s
}

// AllowsDepth reports whether depth stays within the budget that
// applies to key: no worker begins fetching a URL whose depth exceeds
// its origin's max_depth.
func (m *Manager) AllowsDepth(key origin.Key, depth crawlurl.Depth) bool {
	s := m.GetFor(key)
	if s.MaxDepthFromSeed > 0 && depth.FromSeed > s.MaxDepthFromSeed {
		return false
	}
	if s.MaxDistinctHosts > 0 && depth.DistinctHosts > s.MaxDistinctHosts {
		return false
	}
	if s.MaxDistinctOrigins > 0 && depth.DistinctOrigins > s.MaxDistinctOrigins {
		return false
	}
	return true
}
