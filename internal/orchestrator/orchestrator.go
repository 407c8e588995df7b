// Package orchestrator wires components A-K (origin keys through the
// worker barrier) into a runnable crawl: it materializes
// seeds, spawns worker goroutines, awaits the idle barrier or a
// shutdown signal, and records the run's exit state in a small
// recover.json file. A subsequent `recover` resumes from the durable
// queue and link state without re-crawling finished URLs.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/FranksOps/burr/internal/blacklist"
	"github.com/FranksOps/burr/internal/budget"
	"github.com/FranksOps/burr/internal/config"
	"github.com/FranksOps/burr/internal/coordination"
	"github.com/FranksOps/burr/internal/crawlerr"
	"github.com/FranksOps/burr/internal/fingerprint"
	"github.com/FranksOps/burr/internal/guardian"
	"github.com/FranksOps/burr/internal/linkstate"
	"github.com/FranksOps/burr/internal/linkstate/boltstore"
	"github.com/FranksOps/burr/internal/linkstate/sqlitestore"
	"github.com/FranksOps/burr/internal/queue"
	"github.com/FranksOps/burr/internal/recrawl"
	"github.com/FranksOps/burr/internal/report"
	"github.com/FranksOps/burr/internal/robotscache"
	"github.com/FranksOps/burr/internal/scraper"
	"github.com/FranksOps/burr/internal/seed"
	"github.com/FranksOps/burr/internal/storage"
	"github.com/FranksOps/burr/internal/storage/csvbackend"
	"github.com/FranksOps/burr/internal/storage/jsonbackend"
	"github.com/FranksOps/burr/internal/storage/postgres"
	"github.com/FranksOps/burr/internal/storage/sqlite"
	"github.com/FranksOps/burr/internal/warcwriter"
	"github.com/FranksOps/burr/internal/worker"
	"golang.org/x/sync/errgroup"
)

// ExitState reports how a crawl ended.
type ExitState int

const (
	// CompletedDrain means every worker went idle simultaneously: the
	// frontier is exhausted and the crawl finished on its own.
	CompletedDrain ExitState = iota
	// Shutdown means the crawl was interrupted (SIGINT/SIGTERM or a
	// programmatic Shutdown call) before draining.
	Shutdown
	// FatalError means a worker returned an unrecoverable error.
	FatalError
)

func (e ExitState) String() string {
	switch e {
	case CompletedDrain:
		return "CompletedDrain"
	case Shutdown:
		return "Shutdown"
	case FatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// recoverState is the small persisted document at <root>/recover.json,
// recording how and when the previous run ended. It holds no filename
// sequencing state, and Recover does not read it back; URL-level
// progress lives entirely in the link state store and queue, which are
// already durable.
type recoverState struct {
	LastExitState string    `json:"last_exit_state"`
	LastRunAt     time.Time `json:"last_run_at"`
}

// Orchestrator owns every shared collaborator (components A-K) and
// drives a crawl to completion.
type Orchestrator struct {
	cfg    config.Config
	logger *slog.Logger
	root   string

	guardian    *guardian.Guardian
	store       linkstate.Store
	q           *queue.Queue
	blacklist   *blacklist.Manager
	budgetMgr   *budget.Manager
	lastCrawled *recrawl.Manager
	robots      *robotscache.Cache
	archive     *warcwriter.Writer
	index       storage.Backend
	fetcher     *scraper.Fetcher
	errs        *crawlerr.Consumer
}

// New builds an Orchestrator from cfg, creating the persisted layout
// under cfg.Paths.RootPath (queue/, link_state/, last_crawled/, warc/,
// and an archival index) if it does not already exist.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root := cfg.Paths.RootPath
	for _, sub := range []string{"", "queue", "link_state", "last_crawled"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
	}

	store, err := openLinkStateStore(cfg, root)
	if err != nil {
		return nil, err
	}

	q, err := queue.Open(filepath.Join(root, "queue", "queue.log"), cfg.Session.MaxQueueMisses)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	lastCrawled, err := recrawl.Open(filepath.Join(root, "last_crawled", "last_crawled.db"))
	if err != nil {
		_ = store.Close()
		_ = q.Close()
		return nil, err
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Fingerprint: fingerprint.ProfileChrome,
	})
	if err != nil {
		_ = store.Close()
		_ = q.Close()
		_ = lastCrawled.Close()
		return nil, err
	}

	archive, err := warcwriter.Open(filepath.Join(root, "warc"), 0)
	if err != nil {
		_ = store.Close()
		_ = q.Close()
		_ = lastCrawled.Close()
		return nil, err
	}

	index, err := openArchiveIndex(ctx, cfg, root)
	if err != nil {
		_ = store.Close()
		_ = q.Close()
		_ = lastCrawled.Close()
		_ = archive.Close()
		return nil, err
	}

	return &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		root:        root,
		guardian:    guardian.New(),
		store:       store,
		q:           q,
		blacklist:   blacklist.New(),
		budgetMgr:   budget.New(defaultBudget(cfg)),
		lastCrawled: lastCrawled,
		robots:      robotscache.New(fetcher, cfg.Crawl.RobotsMaxAge, 5*time.Minute),
		archive:     archive,
		index:       index,
		fetcher:     fetcher,
		errs:        crawlerr.NewConsumer(logger),
	}, nil
}

// openArchiveIndex picks the archival index backend named by
// cfg.Archive.Backend, defaulting to the NDJSON file backend when unset.
func openArchiveIndex(ctx context.Context, cfg config.Config, root string) (storage.Backend, error) {
	switch cfg.Archive.Backend {
	case "", "json":
		return jsonbackend.New(filepath.Join(root, "archival_index.json"))
	case "csv":
		return csvbackend.New(filepath.Join(root, "archival_index.csv"))
	case "sqlite":
		dsn := cfg.Archive.DSN
		if dsn == "" {
			dsn = filepath.Join(root, "archival_index.sqlite")
		}
		return sqlite.New(dsn)
	case "postgres":
		return postgres.New(ctx, cfg.Archive.DSN)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

// openLinkStateStore picks the link-state backend named by
// cfg.LinkState.Backend, defaulting to the bbolt-backed store when unset.
func openLinkStateStore(cfg config.Config, root string) (linkstate.Store, error) {
	switch cfg.LinkState.Backend {
	case "", "bolt":
		return boltstore.Open(filepath.Join(root, "link_state", "state.db"))
	case "sqlite":
		return sqlitestore.New(filepath.Join(root, "link_state", "state.sqlite"))
	default:
		return nil, fmt.Errorf("unknown link state backend %q", cfg.LinkState.Backend)
	}
}

func defaultBudget(cfg config.Config) budget.Setting {
	s := budget.DefaultSetting()
	if cfg.Crawl.MaxDepth > 0 {
		s.MaxDepthFromSeed = cfg.Crawl.MaxDepth
	}
	if cfg.Crawl.MaxPages > 0 {
		s.MaxPagesPerOrigin = cfg.Crawl.MaxPages
	}
	if cfg.Crawl.RecrawlInterval > 0 {
		s.RecrawlInterval = cfg.Crawl.RecrawlInterval
	}
	if cfg.Crawl.RequestInterval > 0 {
		s.RequestInterval = cfg.Crawl.RequestInterval
	}
	return s
}

// Run materializes seedPaths into the link state store and queue, then
// crawls until the frontier drains or the run is interrupted.
func (o *Orchestrator) Run(ctx context.Context, seedPaths []string) (ExitState, error) {
	return o.RunWithSitemaps(ctx, seedPaths, nil)
}

// RunWithSitemaps is Run plus an optional sitemap-discovery pass: for
// every URL in sitemapSeeds, its origin's robots.txt-declared sitemaps
// are fetched and parsed, and every page URL found is materialized
// alongside the explicit seeds.
func (o *Orchestrator) RunWithSitemaps(ctx context.Context, seedPaths, sitemapSeeds []string) (ExitState, error) {
	for _, path := range seedPaths {
		raw, err := seed.ReadSeeds(path)
		if err != nil {
			return FatalError, fmt.Errorf("context: %w", err)
		}
		_, skipped := seed.Materialize(raw, o.store, o.q)
		for _, serr := range skipped {
			o.logger.Warn("seed materialize error", "err", serr)
		}
	}

	if len(sitemapSeeds) > 0 {
		sitemapFetcher := scraper.NewSitemapFetcher(o.fetcher, o.logger)
		for _, sampleURL := range sitemapSeeds {
			discovered, err := seed.DiscoverFromSitemap(ctx, sampleURL, o.robots, sitemapFetcher)
			if err != nil {
				o.logger.Warn("sitemap discovery failed", "url", sampleURL, "err", err)
				continue
			}
			_, skipped := seed.Materialize(discovered, o.store, o.q)
			for _, serr := range skipped {
				o.logger.Warn("sitemap seed materialize error", "err", serr)
			}
		}
	}

	return o.crawl(ctx)
}

// Recover resumes a crawl from whatever state is already persisted
// under the root (queue entries and link state survive a process
// restart), without re-materializing seeds. Any URL a previous run left
// in_progress (reserved by a worker that never reached a terminal state
// before the process died) is reset to Discovered first, since its
// fetch never completed; the queue's durable log already carries the
// corresponding entry back into memory on Open, so the reset is all
// that's needed for it to be re-polled.
func (o *Orchestrator) Recover(ctx context.Context) (ExitState, error) {
	reset, err := o.resetStrandedInProgress()
	if err != nil {
		return FatalError, fmt.Errorf("context: %w", err)
	}
	if reset > 0 {
		o.logger.Info("reset stranded in-progress link states", "count", reset)
	}
	return o.crawl(ctx)
}

// resetStrandedInProgress scans the link state store for InProgress
// records and transitions each back to Discovered.
func (o *Orchestrator) resetStrandedInProgress() (int, error) {
	var stranded []string
	err := o.store.IterByPrefix("", func(url string, st linkstate.State) bool {
		if st.Kind == linkstate.InProgress {
			stranded = append(stranded, url)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("context: %w", err)
	}

	var reset int
	for _, url := range stranded {
		_, err := o.store.Upsert(url, func(current linkstate.State, exists bool) (linkstate.State, error) {
			if !exists || current.Kind != linkstate.InProgress {
				return current, nil
			}
			return current.TransitionTo(linkstate.Discovered)
		})
		if err != nil {
			continue
		}
		reset++
	}
	return reset, nil
}

func (o *Orchestrator) crawl(ctx context.Context) (ExitState, error) {
	requeued, err := seed.RescanExpired(o.store, o.budgetMgr, o.q)
	if err != nil {
		o.logger.Warn("recrawl rescan failed", "err", err)
	} else if requeued > 0 {
		o.logger.Info("requeued expired crawled entries for recrawl", "count", requeued)
	}

	bus := coordination.NewShutdownBus(ctx)
	defer bus.Close()

	n := o.cfg.System.MaxWorkers
	if n <= 0 {
		n = 4
	}
	barrier := coordination.NewBarrier(n)
	w := worker.New(worker.Config{
		Queue:       o.q,
		Guardian:    o.guardian,
		Store:       o.store,
		Blacklist:   o.blacklist,
		Robots:      o.robots,
		Budget:      o.budgetMgr,
		LastCrawled: o.lastCrawled,
		Fetcher:     o.fetcher,
		Archive:     o.archive,
		Index:       o.index,
		SearchTerms: o.cfg.Crawl.SearchTerms,
		UserAgent:   o.cfg.Crawl.UserAgent,
		Logger:      o.logger,
		Errors:      o.errs,
	})

	g, gctx := errgroup.WithContext(bus.Context())
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			return runWorker(gctx, w, o.q, barrier, id)
		})
	}

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		if err := barrier.Drained(gctx); err == nil {
			bus.Shutdown()
		}
	}()

	waitErr := g.Wait()
	<-drainDone

	state := o.persistExitState(waitErr, bus)
	o.writeReport(ctx)
	if waitErr != nil && state == FatalError {
		return FatalError, waitErr
	}
	return state, nil
}

// writeReport summarizes everything saved to the archival index (WARC
// locations and any term-match records) into <root>/report.json.
func (o *Orchestrator) writeReport(ctx context.Context) {
	results, err := o.index.Query(ctx, storage.Filter{})
	if err != nil {
		o.logger.Warn("failed to query archival index for report", "err", err)
		return
	}
	summary := report.GenerateSummary(results)

	f, err := os.Create(filepath.Join(o.root, "report.json"))
	if err != nil {
		o.logger.Warn("failed to create report.json", "err", err)
		return
	}
	defer f.Close()

	if err := report.WriteJSON(f, summary); err != nil {
		o.logger.Warn("failed to write report.json", "err", err)
	}
}

func (o *Orchestrator) persistExitState(waitErr error, bus *coordination.ShutdownBus) ExitState {
	var state ExitState
	switch {
	case waitErr != nil:
		state = FatalError
	case bus.Interrupted():
		state = Shutdown
	default:
		state = CompletedDrain
	}

	rs := recoverState{LastExitState: state.String(), LastRunAt: time.Now().UTC()}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		o.logger.Warn("failed to marshal recover state", "err", err)
		return state
	}
	if err := os.WriteFile(filepath.Join(o.root, "recover.json"), data, 0o644); err != nil {
		o.logger.Warn("failed to persist recover.json", "err", err)
	}
	return state
}

// runWorker drives w.RunOnce in a loop, reporting idle/active under its
// own id to barrier, and honoring ctx cancellation, until ctx is done
// or a non-queue-abort error surfaces.
func runWorker(ctx context.Context, w *worker.CrawlWorker, q *queue.Queue, barrier *coordination.Barrier, id int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := w.RunOnce(ctx)
		if err == nil {
			barrier.Active(id)
			continue
		}

		var abortErr *queue.AbortError
		if !errors.As(err, &abortErr) {
			return err
		}

		switch abortErr.Cause {
		case queue.QueueIsEmpty:
			barrier.Idle(id)
			waitCtx, cancel := context.WithTimeout(ctx, time.Second)
			_ = q.AwaitNonEmpty(waitCtx)
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			barrier.Active(id)
		case queue.Shutdown:
			return nil
		case queue.NoHost, queue.TooManyMisses, queue.OutOfPullRetries:
			barrier.Active(id)
		default:
			return err
		}
	}
}

// Close releases every owned collaborator.
func (o *Orchestrator) Close() error {
	var firstErr error
	for _, closer := range []func() error{o.store.Close, o.q.Close, o.lastCrawled.Close, o.archive.Close, o.index.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
