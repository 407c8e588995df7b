// Package worker implements the CrawlWorker outer loop:
// poll, filter, fetch, extract, archive, and record one URL per
// iteration, releasing its OriginGuard on every exit path.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/burr/internal/analyzer"
	"github.com/FranksOps/burr/internal/blacklist"
	"github.com/FranksOps/burr/internal/budget"
	"github.com/FranksOps/burr/internal/bypass"
	"github.com/FranksOps/burr/internal/crawlerr"
	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/guardian"
	"github.com/FranksOps/burr/internal/linkstate"
	"github.com/FranksOps/burr/internal/metrics"
	"github.com/FranksOps/burr/internal/origin"
	"github.com/FranksOps/burr/internal/queue"
	"github.com/FranksOps/burr/internal/recrawl"
	"github.com/FranksOps/burr/internal/robotscache"
	"github.com/FranksOps/burr/internal/scraper"
	"github.com/FranksOps/burr/internal/storage"
	"github.com/FranksOps/burr/internal/warcwriter"
	"github.com/FranksOps/burr/pkg/ratelimit"
	"github.com/PuerkitoBio/goquery"
)

// Config bundles the shared collaborators a CrawlWorker consults on
// every dispatch decision. Shared resources own their
// own internal synchronization; nothing here needs extra locking.
type Config struct {
	Queue       *queue.Queue
	Guardian    *guardian.Guardian
	Store       linkstate.Store
	Blacklist   *blacklist.Manager
	Robots      *robotscache.Cache
	Budget      *budget.Manager
	LastCrawled *recrawl.Manager
	Fetcher     *scraper.Fetcher
	Archive     *warcwriter.Writer
	Index       storage.Backend
	SearchTerms []string
	UserAgent   string
	MaxRetries  int
	Logger      *slog.Logger
	Errors      *crawlerr.Consumer
}

// CrawlWorker runs the eight-step fetch/extract/archive cycle in a loop.
// Multiple CrawlWorkers built from the same Config run concurrently
// across goroutines, so limiters is synchronized independently of cfg.
type CrawlWorker struct {
	cfg      Config
	limiters sync.Map // origin.Key -> *ratelimit.Limiter
}

// New creates a CrawlWorker from cfg, defaulting an unset logger/UA.
func New(cfg Config) *CrawlWorker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Errors == nil {
		cfg.Errors = crawlerr.NewConsumer(cfg.Logger)
	}
	return &CrawlWorker{cfg: cfg}
}

// limiterFor lazily builds and caches one jittered ratelimit.Limiter per
// origin, paced from that origin's budget.Setting.RequestInterval. A
// zero interval yields a non-blocking Limiter.
func (w *CrawlWorker) limiterFor(key origin.Key) *ratelimit.Limiter {
	if v, ok := w.limiters.Load(key); ok {
		return v.(*ratelimit.Limiter)
	}
	interval := w.cfg.Budget.GetFor(key).RequestInterval
	var rps float64
	if interval > 0 {
		rps = float64(time.Second) / float64(interval)
	}
	lim := ratelimit.NewLimiter(rps, 0.1)
	actual, loaded := w.limiters.LoadOrStore(key, lim)
	if loaded {
		lim.Stop()
	}
	return actual.(*ratelimit.Limiter)
}

// RunOnce drives one full poll/process cycle. It returns
// *queue.AbortError unwrapped when Poll aborts (QueueIsEmpty,
// TooManyMisses, and so on), so the caller's barrier/backoff logic can
// inspect the cause without re-wrapping it.
func (w *CrawlWorker) RunOnce(ctx context.Context) error {
	seed, err := w.cfg.Queue.Poll(ctx, w.cfg.Guardian, w.cfg.LastCrawled, w.cfg.Budget, w.cfg.MaxRetries)
	if err != nil {
		return err
	}
	w.process(ctx, seed.URL, seed.Guard)
	return nil
}

func (w *CrawlWorker) process(ctx context.Context, u crawlurl.URL, guard *guardian.Guard) {
	// Step 2: blacklist
	if w.cfg.Blacklist != nil && w.cfg.Blacklist.HasMatchFor(u.String()) {
		w.markState(u, linkstate.Skipped)
		guard.Release(nil)
		return
	}

	// Step 3: robots
	key := u.Origin()
	if w.cfg.Robots != nil {
		allowed, err := w.cfg.Robots.Allows(ctx, key, u.String(), w.cfg.UserAgent)
		if err != nil {
			w.cfg.Errors.ConsumeCrawlError(crawlerr.New(crawlerr.Protocol, u.String(), err))
		} else if !allowed {
			w.markState(u, linkstate.ForbiddenByRobots)
			guard.Release(nil)
			return
		}
	}

	// Step 4: Discovered -> Reserved -> InProgress, one CAS
	_, err := w.cfg.Store.Upsert(u.String(), func(current linkstate.State, exists bool) (linkstate.State, error) {
		if !exists {
			current = linkstate.NewDiscovered(u.Depth(), false)
		}
		reserved, err := current.TransitionTo(linkstate.Reserved)
		if err != nil {
			return linkstate.State{}, err
		}
		return reserved.TransitionTo(linkstate.InProgress)
	})
	if err != nil {
		// lost the race or illegal transition: another worker got here first
		guard.Release(nil)
		return
	}

	// Step 5: fetch, paced per-origin on top of the coarser
	// origin-cooldown gate Poll already enforces before dispatch
	if err := w.limiterFor(key).Wait(ctx); err != nil {
		guard.Release(nil)
		return
	}
	result, err := w.cfg.Fetcher.Fetch(ctx, u.String())
	if err != nil {
		w.cfg.Errors.ConsumeCrawlError(crawlerr.New(crawlerr.Transport, u.String(), err))
		w.markState(u, linkstate.Failed)
		guard.Release(nil)
		return
	}
	if result.Error != "" {
		w.markState(u, linkstate.Failed)
		guard.Release(nil)
		return
	}

	bypass.Analyze(result, bypass.DefaultDetectors())
	metrics.RecordScrape(hostOf(u.String()), result)

	// Step 6: extract + enqueue
	deepest := u.Depth()
	if isHTML(result.Headers) {
		links := extractLinks(u.String(), result.Body, u.Depth())
		for _, link := range links {
			if !w.cfg.Budget.AllowsDepth(link.Origin(), link.Depth()) {
				continue
			}
			_, err := w.cfg.Store.Upsert(link.String(), func(current linkstate.State, exists bool) (linkstate.State, error) {
				if exists {
					return current, nil
				}
				return linkstate.NewDiscovered(link.Depth(), false), nil
			})
			if err != nil {
				continue
			}
			_ = w.cfg.Queue.Enqueue(link)
		}
	}

	// Optional: term-matching pass over the page body, archived
	// alongside the WARC index when search terms are configured.
	if len(w.cfg.SearchTerms) > 0 && w.cfg.Index != nil && isHTML(result.Headers) {
		matches := analyzer.FindTermMatchesOptimized(string(result.Body), u.String(), hostOf(u.String()), w.cfg.SearchTerms)
		if len(matches) > 0 {
			if err := w.saveTermMatches(ctx, u, matches); err != nil {
				w.cfg.Errors.ConsumeCrawlError(crawlerr.New(crawlerr.Storage, u.String(), err))
			}
		}
	}

	// Step 7: archive
	if w.cfg.Archive != nil {
		loc, err := w.cfg.Archive.Write(warcwriter.Record{
			TargetURI:  u.String(),
			Timestamp:  time.Now(),
			StatusCode: result.StatusCode,
			Headers:    result.Headers,
			Body:       result.Body,
		})
		if err != nil {
			w.cfg.Errors.ConsumeCrawlError(crawlerr.New(crawlerr.Storage, u.String(), err))
			w.markState(u, linkstate.Failed)
			guard.Release(nil)
			return
		}
		if w.cfg.Index != nil {
			_ = w.saveIndex(ctx, u, loc, result)
		}
	}

	// Step 8: InProgress -> Crawled
	now := time.Now()
	_ = w.cfg.LastCrawled.MarkCrawled(key, now)
	_, _ = w.cfg.Store.Upsert(u.String(), func(current linkstate.State, exists bool) (linkstate.State, error) {
		return current.TransitionTo(linkstate.Crawled)
	})
	guard.Release(&deepest)
}

func (w *CrawlWorker) markState(u crawlurl.URL, kind linkstate.Kind) {
	_, _ = w.cfg.Store.Upsert(u.String(), func(current linkstate.State, exists bool) (linkstate.State, error) {
		if !exists {
			current = linkstate.NewDiscovered(u.Depth(), false)
		}
		return current.TransitionTo(kind)
	})
}

func (w *CrawlWorker) saveIndex(ctx context.Context, u crawlurl.URL, loc warcwriter.Location, result *storage.ScrapeResult) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return w.cfg.Index.Save(ctx, &storage.ScrapeResult{
		URL:          u.String(),
		Method:       "WARC-INDEX",
		StatusCode:   result.StatusCode,
		DetectedBot:  result.DetectedBot,
		DetectionSrc: result.DetectionSrc,
		Body:         data,
		CreatedAt:    time.Now(),
	})
}

func (w *CrawlWorker) saveTermMatches(ctx context.Context, u crawlurl.URL, matches []analyzer.TermMatch) error {
	data, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return w.cfg.Index.Save(ctx, &storage.ScrapeResult{
		URL:       u.String(),
		Method:    "TERM-MATCH",
		Body:      data,
		CreatedAt: time.Now(),
	})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func isHTML(headers map[string][]string) bool {
	vals := headers["Content-Type"]
	if len(vals) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(vals[0]), "text/html")
}

func extractLinks(baseURL string, body []byte, fromDepth crawlurl.Depth) []crawlurl.URL {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	baseOrigin, _ := origin.OfURL(base)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var out []crawlurl.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)

		childOrigin, err := origin.OfURL(resolved)
		hostChanged := resolved.Hostname() != base.Hostname()
		originChanged := err == nil && childOrigin != baseOrigin

		depth := fromDepth.Next(hostChanged, originChanged)
		u, err := crawlurl.New(resolved.String(), depth)
		if err != nil {
			return
		}
		out = append(out, u)
	})
	return out
}
