// Package queue implements the durable, politeness-aware URL frontier:
// an in-memory FIFO with aging/miss semantics backed by an append-only
// log so pending URLs survive a restart.
package queue

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FranksOps/burr/internal/budget"
	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/guardian"
	"github.com/FranksOps/burr/internal/queue/queuefile"
	"github.com/FranksOps/burr/internal/recrawl"
)

// AbortCause enumerates why Poll gave up without delivering a GuardedSeed.
type AbortCause uint8

const (
	// TooManyMisses means a single entry reached the miss threshold
	// (it keeps losing the race for its origin's guard).
	TooManyMisses AbortCause = iota
	// OutOfPullRetries means the poll exhausted its retry budget
	// without finding a deliverable entry.
	OutOfPullRetries
	// QueueIsEmpty means there was nothing to pop.
	QueueIsEmpty
	// NoHost means the popped entry's URL has no extractable origin.
	NoHost
	// Shutdown means the context was cancelled mid-poll.
	Shutdown
)

func (c AbortCause) String() string {
	switch c {
	case TooManyMisses:
		return "TooManyMisses"
	case OutOfPullRetries:
		return "OutOfPullRetries"
	case QueueIsEmpty:
		return "QueueIsEmpty"
	case NoHost:
		return "NoHost"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// AbortError reports why Poll returned without a GuardedSeed.
type AbortError struct {
	Cause AbortCause
	Entry *Entry
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("context: queue poll aborted: %s", e.Cause)
}

// Entry is a pending URL plus its current miss count against the
// guardian (how many times in a row its origin was already occupied).
type Entry struct {
	URL    crawlurl.URL
	Misses int
}

// record is the durable wire shape of an Entry.
type record struct {
	RawURL        string `json:"url"`
	DepthFromSeed int    `json:"depth_from_seed"`
	DepthHosts    int    `json:"depth_hosts"`
	DepthOrigins  int    `json:"depth_origins"`
}

// GuardedSeed bundles a URL with the OriginGuard reserved for it. The
// caller must Release the guard when done, win or lose.
type GuardedSeed struct {
	URL   crawlurl.URL
	Guard *guardian.Guard
}

// Queue is a durable FIFO of pending URLs. The in-memory front is a
// container/list.List guarded by a sync.Cond (a channel cannot be
// reordered or requeued to tail, which the aging algorithm requires);
// every enqueue is first appended to a durable log so pending work
// survives a process restart.
type Queue struct {
	mu            sync.Mutex
	cond          *sync.Cond
	entries       *list.List
	log           *queuefile.File
	missThreshold int
}

// Open creates or resumes a Queue whose durable log lives at logPath.
// Any records already in the log are replayed into the in-memory front.
func Open(logPath string, missThreshold int) (*Queue, error) {
	if missThreshold <= 0 {
		missThreshold = 3
	}

	log, err := queuefile.Open(logPath)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		entries:       list.New(),
		log:           log,
		missThreshold: missThreshold,
	}
	q.cond = sync.NewCond(&q.mu)

	err = queuefile.ReplayAll(logPath, func(data []byte) error {
		u, err := decodeRecord(data)
		if err != nil {
			return err
		}
		q.entries.PushBack(&Entry{URL: u})
		return nil
	})
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	return q, nil
}

func decodeRecord(data []byte) (crawlurl.URL, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return crawlurl.URL{}, fmt.Errorf("context: %w", err)
	}
	depth := crawlurl.Depth{FromSeed: r.DepthFromSeed, DistinctHosts: r.DepthHosts, DistinctOrigins: r.DepthOrigins}
	return crawlurl.New(r.RawURL, depth)
}

// Enqueue durably records u and appends it to the in-memory tail.
func (q *Queue) Enqueue(u crawlurl.URL) error {
	r := record{
		RawURL:        u.String(),
		DepthFromSeed: u.Depth().FromSeed,
		DepthHosts:    u.Depth().DistinctHosts,
		DepthOrigins:  u.Depth().DistinctOrigins,
	}
	if err := q.log.Append(r); err != nil {
		return err
	}

	q.mu.Lock()
	q.entries.PushBack(&Entry{URL: u})
	q.mu.Unlock()
	q.cond.Broadcast()
	return nil
}

// EnqueueMany enqueues every URL in us, in order.
func (q *Queue) EnqueueMany(us []crawlurl.URL) error {
	for _, u := range us {
		if err := q.Enqueue(u); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// IsEmpty reports whether there are no pending entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *Queue) popHead() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.entries.Front()
	if front == nil {
		return nil, false
	}
	q.entries.Remove(front)
	return front.Value.(*Entry), true
}

func (q *Queue) pushTail(e *Entry) {
	q.mu.Lock()
	q.entries.PushBack(e)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// AwaitNonEmpty blocks until the queue has at least one entry or ctx is
// cancelled.
func (q *Queue) AwaitNonEmpty(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stopped:
		}
	}()
	defer close(stopped)

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.entries.Len() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		q.cond.Wait()
	}
	return nil
}

// Poll implements the aging/politeness poll algorithm: pop the head,
// try to reserve its origin's guard, skip already-occupied or cooling
// origins by requeuing to the tail, and return the first URL whose
// guard was acquired and whose origin is not in its request-interval
// cooldown. maxRetries bounds how many requeues a single Poll call will
// attempt before giving up with OutOfPullRetries.
func (q *Queue) Poll(ctx context.Context, g *guardian.Guardian, rc *recrawl.Manager, bm *budget.Manager, maxRetries int) (*GuardedSeed, error) {
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return nil, &AbortError{Cause: Shutdown}
		default:
		}

		entry, ok := q.popHead()
		if !ok {
			return nil, &AbortError{Cause: QueueIsEmpty}
		}

		if entry.URL.IsZero() {
			return nil, &AbortError{Cause: NoHost, Entry: entry}
		}

		guard, err := g.TryReserve(entry.URL.String())
		if err != nil {
			var occupied *guardian.AlreadyOccupiedError
			var noOrigin *guardian.NoOriginError
			switch {
			case errors.As(err, &occupied):
				entry.Misses++
				if entry.Misses >= q.missThreshold {
					q.pushTail(entry)
					return nil, &AbortError{Cause: TooManyMisses, Entry: entry}
				}
				q.pushTail(entry)
				retries++
				if retries >= maxRetries {
					return nil, &AbortError{Cause: OutOfPullRetries, Entry: entry}
				}
				continue
			case errors.As(err, &noOrigin):
				return nil, &AbortError{Cause: NoHost, Entry: entry}
			default:
				return nil, fmt.Errorf("context: %w", err)
			}
		}

		key := entry.URL.Origin()
		interval := bm.GetFor(key).RequestInterval
		cooling, err := rc.IsCoolingDown(key, interval, time.Now())
		if err != nil {
			guard.Release(nil)
			return nil, err
		}
		if cooling {
			guard.Release(nil)
			q.pushTail(entry)
			retries++
			if retries >= maxRetries {
				return nil, &AbortError{Cause: OutOfPullRetries, Entry: entry}
			}
			continue
		}

		return &GuardedSeed{URL: entry.URL, Guard: guard}, nil
	}
}

// Close releases the durable log's file handle.
func (q *Queue) Close() error {
	return q.log.Close()
}
