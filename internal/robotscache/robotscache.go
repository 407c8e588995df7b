// Package robotscache is a TTL-bounded, origin-keyed robots.txt cache
// so politeness state does not have to be re-fetched every time a
// worker visits a known origin.
package robotscache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/burr/internal/origin"
	"github.com/FranksOps/burr/internal/scraper"
	"github.com/temoto/robotstxt"
)

// record is a cached robots.txt parse (or a tombstone on fetch failure).
type record struct {
	fetchedAt time.Time
	expiresAt time.Time
	data      *robotstxt.RobotsData
	tombstone bool
}

func (r record) expired(now time.Time) bool {
	return now.After(r.expiresAt)
}

// Cache caches robots.txt decisions per origin, with a TTL bounding how
// long a fetch (successful or not) is trusted.
type Cache struct {
	fetcher *scraper.Fetcher
	ttl     time.Duration
	failTTL time.Duration

	mu    sync.RWMutex
	cache map[origin.Key]*record
}

// New creates a Cache. ttl bounds how long a successful parse is
// trusted; failTTL bounds how long a fetch failure is remembered before
// retrying (shorter, so a transient outage self-heals).
func New(fetcher *scraper.Fetcher, ttl, failTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if failTTL <= 0 {
		failTTL = 5 * time.Minute
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		failTTL: failTTL,
		cache:   make(map[origin.Key]*record),
	}
}

// Allows reports whether agent may fetch targetURL under the robots.txt
// rules currently cached (fetching/refreshing as needed) for its origin.
// A fetch error defaults to allow (fail-open).
func (c *Cache) Allows(ctx context.Context, key origin.Key, targetURL, agent string) (bool, error) {
	data, err := c.getOrFetch(ctx, key, targetURL)
	if err != nil {
		return true, nil
	}
	if data == nil {
		return true, nil
	}
	path := targetURL
	if idx := strings.Index(targetURL, "://"); idx != -1 {
		if slash := strings.Index(targetURL[idx+3:], "/"); slash != -1 {
			path = targetURL[idx+3+slash:]
		} else {
			path = "/"
		}
	}
	group := data.FindGroup(agent)
	return group.Test(path), nil
}

func (c *Cache) getOrFetch(ctx context.Context, key origin.Key, sampleURL string) (*robotstxt.RobotsData, error) {
	now := time.Now()

	c.mu.RLock()
	rec, exists := c.cache[key]
	c.mu.RUnlock()

	if exists && !rec.expired(now) {
		if rec.tombstone {
			return nil, fmt.Errorf("robots fetch previously failed for %s", key)
		}
		return rec.data, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, exists = c.cache[key]
	if exists && !rec.expired(now) {
		if rec.tombstone {
			return nil, fmt.Errorf("robots fetch previously failed for %s", key)
		}
		return rec.data, nil
	}

	robotsURL := robotsURLFor(sampleURL)
	result, err := c.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		c.cache[key] = &record{fetchedAt: now, expiresAt: now.Add(c.failTTL), tombstone: true}
		return nil, fmt.Errorf("context: %w", err)
	}
	if result.Error != "" {
		c.cache[key] = &record{fetchedAt: now, expiresAt: now.Add(c.failTTL), tombstone: true}
		return nil, fmt.Errorf("fetch error: %s", result.Error)
	}
	if result.StatusCode >= 400 {
		c.cache[key] = &record{fetchedAt: now, expiresAt: now.Add(c.failTTL)}
		return nil, nil
	}

	parsed, err := robotstxt.FromBytes(result.Body)
	if err != nil {
		c.cache[key] = &record{fetchedAt: now, expiresAt: now.Add(c.failTTL), tombstone: true}
		return nil, fmt.Errorf("context: %w", err)
	}

	c.cache[key] = &record{fetchedAt: now, expiresAt: now.Add(c.ttl), data: parsed}
	return parsed, nil
}

// SitemapExtracts returns the sitemap URLs declared in the cached
// robots.txt for key, fetching it first if necessary. Feeds
// internal/seed for sitemap-seeded crawls.
func (c *Cache) SitemapExtracts(ctx context.Context, key origin.Key, sampleURL string) ([]string, error) {
	data, err := c.getOrFetch(ctx, key, sampleURL)
	if err != nil || data == nil {
		return nil, nil
	}
	return data.Sitemaps, nil
}

func robotsURLFor(sampleURL string) string {
	scheme := "http"
	host := sampleURL
	if idx := strings.Index(sampleURL, "://"); idx != -1 {
		scheme = sampleURL[:idx]
		rest := sampleURL[idx+3:]
		if slash := strings.Index(rest, "/"); slash != -1 {
			host = rest[:slash]
		} else {
			host = rest
		}
	}
	return fmt.Sprintf("%s://%s/robots.txt", scheme, host)
}
