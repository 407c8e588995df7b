// Package seed reads seed URL files and materializes them into the
// link-state store and crawl queue as the starting frontier.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/FranksOps/burr/internal/budget"
	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/linkstate"
	"github.com/FranksOps/burr/internal/origin"
	"github.com/FranksOps/burr/internal/robotscache"
	"github.com/FranksOps/burr/internal/scraper"
)

// ReadSeeds reads one URL per line from path. Blank lines and lines
// starting with '#' are ignored; a literal leading '#' is written as
// '\#'. Duplicate lines collapse to one seed.
func ReadSeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var seeds []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, `\#`) {
			line = line[1:]
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		seeds = append(seeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return seeds, nil
}

// Enqueuer is the subset of UrlQueue.Enqueue that Materialize needs.
type Enqueuer interface {
	Enqueue(u crawlurl.URL) error
}

// Materialize parses each raw seed URL, records it Discovered in store,
// and enqueues it at zero depth. A URL that fails to parse or whose
// link-state transition is rejected is skipped and reported, not fatal
// to the whole batch.
func Materialize(rawSeeds []string, store linkstate.Store, queue Enqueuer) (enqueued int, skipped []error) {
	for _, raw := range rawSeeds {
		u, err := crawlurl.New(raw, crawlurl.Depth{})
		if err != nil {
			skipped = append(skipped, fmt.Errorf("seed %q: %w", raw, err))
			continue
		}

		_, err = store.Upsert(u.String(), func(current linkstate.State, exists bool) (linkstate.State, error) {
			if exists {
				return current, nil
			}
			return linkstate.NewDiscovered(u.Depth(), true), nil
		})
		if err != nil {
			skipped = append(skipped, fmt.Errorf("seed %q: %w", raw, err))
			continue
		}

		if err := queue.Enqueue(u); err != nil {
			skipped = append(skipped, fmt.Errorf("seed %q: %w", raw, err))
			continue
		}
		enqueued++
	}
	return enqueued, skipped
}

// RescanExpired finds every Crawled URL whose origin's recrawl window
// (budgetMgr's per-origin Setting.RecrawlInterval) has elapsed since its
// last-significant timestamp, transitions it back to Discovered, and
// re-enqueues it. It is the only code path that ever takes the
// Crawled->Discovered lifecycle edge. Returns how many URLs were
// requeued.
func RescanExpired(store linkstate.Store, budgetMgr *budget.Manager, queue Enqueuer) (int, error) {
	now := time.Now().UTC()

	var candidates []string
	err := store.IterByPrefix("", func(url string, st linkstate.State) bool {
		if st.Kind != linkstate.Crawled {
			return true
		}
		u, err := crawlurl.New(url, st.Depth)
		if err != nil {
			return true
		}
		interval := budgetMgr.GetFor(u.Origin()).RecrawlInterval
		if interval > 0 && now.Sub(st.Timestamp) >= interval {
			candidates = append(candidates, url)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}

	var requeued int
	for _, rawURL := range candidates {
		next, err := store.Upsert(rawURL, func(current linkstate.State, exists bool) (linkstate.State, error) {
			if !exists || current.Kind != linkstate.Crawled {
				return current, nil
			}
			transitioned, err := current.TransitionTo(linkstate.Discovered)
			if err != nil {
				return current, err
			}
			transitioned.Recrawl = true
			return transitioned, nil
		})
		if err != nil || next.Kind != linkstate.Discovered {
			continue
		}

		u, err := crawlurl.New(rawURL, next.Depth)
		if err != nil {
			continue
		}
		if err := queue.Enqueue(u); err != nil {
			continue
		}
		requeued++
	}
	return requeued, nil
}

// DiscoverFromSitemap expands a seed URL's sitemap(s) into additional
// candidate URLs, for operators who want a fuller frontier than the
// explicit seed file alone. It reads the Sitemap: directives from
// robots.txt (via robots) for sampleURL's origin, then fetches and
// recursively parses each one (including nested sitemap indexes) via
// sitemapFetcher. A sitemap that fails to fetch or parse is skipped,
// not fatal.
func DiscoverFromSitemap(ctx context.Context, sampleURL string, robots *robotscache.Cache, sitemapFetcher *scraper.SitemapFetcher) ([]string, error) {
	key, err := origin.Of(sampleURL)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	sitemapURLs, err := robots.SitemapExtracts(ctx, key, sampleURL)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}

	var discovered []string
	for _, sm := range sitemapURLs {
		urls, err := sitemapFetcher.FetchSitemap(ctx, sm)
		if err != nil {
			continue
		}
		discovered = append(discovered, urls...)
	}
	return discovered, nil
}
