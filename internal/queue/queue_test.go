package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/burr/internal/budget"
	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/guardian"
	"github.com/FranksOps/burr/internal/origin"
	"github.com/FranksOps/burr/internal/recrawl"
)

func openTemp(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.log")
	q, err := Open(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func mustURL(t *testing.T, raw string) crawlurl.URL {
	t.Helper()
	u, err := crawlurl.New(raw, crawlurl.Depth{})
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestEnqueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.log")
	q, err := Open(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(mustURL(t, "http://a.test/")); err != nil {
		t.Fatal(err)
	}
	_ = q.Close()

	q2, err := Open(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer q2.Close()

	if q2.Len() != 1 {
		t.Errorf("got %d entries after reopen, want 1", q2.Len())
	}
}

func TestPoll_DeliversGuardedSeed(t *testing.T) {
	q := openTemp(t)
	if err := q.Enqueue(mustURL(t, "http://a.test/")); err != nil {
		t.Fatal(err)
	}

	g := guardian.New()
	rc, err := recrawl.Open(filepath.Join(t.TempDir(), "lc.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	bm := budget.New(budget.DefaultSetting())

	seed, err := q.Poll(context.Background(), g, rc, bm, 10)
	if err != nil {
		t.Fatal(err)
	}
	if seed.URL.String() != "http://a.test/" {
		t.Errorf("got %s, want http://a.test/", seed.URL.String())
	}
	seed.Guard.Release(nil)
}

func TestPoll_EmptyQueue(t *testing.T) {
	q := openTemp(t)
	g := guardian.New()
	rc, err := recrawl.Open(filepath.Join(t.TempDir(), "lc.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	bm := budget.New(budget.DefaultSetting())

	_, err = q.Poll(context.Background(), g, rc, bm, 10)
	var abortErr *AbortError
	if !errors.As(err, &abortErr) || abortErr.Cause != QueueIsEmpty {
		t.Errorf("got %v, want AbortError{QueueIsEmpty}", err)
	}
}

func TestPoll_OccupiedOriginRequeuesToTail(t *testing.T) {
	q := openTemp(t)
	if err := q.Enqueue(mustURL(t, "http://a.test/1")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(mustURL(t, "http://b.test/1")); err != nil {
		t.Fatal(err)
	}

	g := guardian.New()
	rc, err := recrawl.Open(filepath.Join(t.TempDir(), "lc.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	bm := budget.New(budget.DefaultSetting())

	existingGuard, err := g.TryReserve("http://a.test/1")
	if err != nil {
		t.Fatal(err)
	}
	defer existingGuard.Release(nil)

	seed, err := q.Poll(context.Background(), g, rc, bm, 10)
	if err != nil {
		t.Fatal(err)
	}
	if seed.URL.String() != "http://b.test/1" {
		t.Errorf("got %s, want http://b.test/1 (a.test should have been skipped)", seed.URL.String())
	}
	seed.Guard.Release(nil)
}

func TestPoll_TooManyMisses(t *testing.T) {
	q := openTemp(t)
	if err := q.Enqueue(mustURL(t, "http://a.test/")); err != nil {
		t.Fatal(err)
	}

	g := guardian.New()
	rc, err := recrawl.Open(filepath.Join(t.TempDir(), "lc.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	bm := budget.New(budget.DefaultSetting())

	existingGuard, err := g.TryReserve("http://a.test/")
	if err != nil {
		t.Fatal(err)
	}
	defer existingGuard.Release(nil)

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = q.Poll(context.Background(), g, rc, bm, 1)
	}
	var abortErr *AbortError
	if !errors.As(lastErr, &abortErr) {
		t.Fatalf("got %v, want AbortError", lastErr)
	}
	if abortErr.Cause != TooManyMisses && abortErr.Cause != OutOfPullRetries {
		t.Errorf("got cause %s", abortErr.Cause)
	}
}

func TestPoll_CoolingDownOriginRequeues(t *testing.T) {
	q := openTemp(t)
	if err := q.Enqueue(mustURL(t, "http://a.test/")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(mustURL(t, "http://b.test/")); err != nil {
		t.Fatal(err)
	}

	g := guardian.New()
	rc, err := recrawl.Open(filepath.Join(t.TempDir(), "lc.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	setting := budget.DefaultSetting()
	setting.RequestInterval = time.Hour
	bm := budget.New(setting)

	aKey, err := origin.Of("http://a.test/")
	if err != nil {
		t.Fatal(err)
	}
	if err := rc.MarkCrawled(aKey, time.Now()); err != nil {
		t.Fatal(err)
	}

	seed, err := q.Poll(context.Background(), g, rc, bm, 10)
	if err != nil {
		t.Fatal(err)
	}
	if seed.URL.String() != "http://b.test/" {
		t.Errorf("got %s, want http://b.test/ (a.test is cooling down)", seed.URL.String())
	}
	seed.Guard.Release(nil)
}

func TestAwaitNonEmpty_CancelledContext(t *testing.T) {
	q := openTemp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.AwaitNonEmpty(ctx)
	if err == nil {
		t.Error("expected context deadline error on an empty queue")
	}
}

func TestAwaitNonEmpty_WakesOnEnqueue(t *testing.T) {
	q := openTemp(t)
	done := make(chan error, 1)
	go func() {
		done <- q.AwaitNonEmpty(context.Background())
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Enqueue(mustURL(t, "http://a.test/")); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitNonEmpty did not wake up after enqueue")
	}
}
