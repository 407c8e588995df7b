// Package blacklist maintains a versioned set of URL patterns a crawl
// must refuse to enqueue or fetch.
package blacklist

import (
	"errors"
	"path"
	"strings"
	"sync"
)

// ErrNewlineNotAllowed is returned when a pattern contains a newline.
var ErrNewlineNotAllowed = errors.New("blacklist: pattern must not contain a newline")

// ErrEmptyPattern is returned when an empty pattern is added.
var ErrEmptyPattern = errors.New("blacklist: pattern must not be empty")

// Manager holds a versioned set of blacklist patterns. Each successful
// Add or ApplyPatch call bumps the version so callers can pull
// incremental patches via GetPatch.
type Manager struct {
	mu       sync.RWMutex
	version  uint64
	patterns map[string]struct{}
}

// New creates an empty Manager at version 0.
func New() *Manager {
	return &Manager{patterns: make(map[string]struct{})}
}

// CurrentVersion returns the version of the currently held pattern set.
func (m *Manager) CurrentVersion() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Add inserts pattern into the blacklist, bumping the version if it was
// not already present. Returns whether the pattern was newly added.
func (m *Manager) Add(pattern string) (bool, error) {
	if strings.Contains(pattern, "\n") {
		return false, ErrNewlineNotAllowed
	}
	if pattern == "" {
		return false, ErrEmptyPattern
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.patterns[pattern]; exists {
		return false, nil
	}
	m.patterns[pattern] = struct{}{}
	m.version++
	return true, nil
}

// ApplyPatch adds every pattern in patch, skipping empty or invalid
// ones rather than failing the whole batch.
func (m *Manager) ApplyPatch(patch []string) {
	for _, p := range patch {
		_, _ = m.Add(p)
	}
}

// GetPatch returns the full current pattern set, or ok=false if
// sinceVersion is ahead of or equal to the current version. The manager
// does not record which version added which pattern, so a patch is not
// narrowed to the patterns added since sinceVersion: any sinceVersion
// behind the current version gets every pattern currently held.
func (m *Manager) GetPatch(sinceVersion uint64) (patch []string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sinceVersion >= m.version {
		return nil, false
	}
	patch = make([]string, 0, len(m.patterns))
	for p := range m.patterns {
		patch = append(patch, p)
	}
	return patch, true
}

// IsEmpty reports whether the blacklist currently has no patterns.
func (m *Manager) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns) == 0
}

// HasMatchFor reports whether rawURL matches any blacklisted pattern.
// A pattern matches if it is a literal substring of rawURL or a
// path.Match glob against it (stdlib path.Match/strings.Contains: no
// pack dependency offers URL-glob matching).
func (m *Manager) HasMatchFor(rawURL string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for p := range m.patterns {
		if strings.Contains(rawURL, p) {
			return true
		}
		if matched, err := path.Match(p, rawURL); err == nil && matched {
			return true
		}
	}
	return false
}
