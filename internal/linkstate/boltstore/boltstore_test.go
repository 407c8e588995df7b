package boltstore

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/FranksOps/burr/internal/crawlurl"
	"github.com/FranksOps/burr/internal/linkstate"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "link_state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsert_InsertsAndReads(t *testing.T) {
	s := openTemp(t)

	_, err := s.Upsert("http://a.test/", func(current linkstate.State, exists bool) (linkstate.State, error) {
		if exists {
			t.Fatal("expected no existing record")
		}
		return linkstate.NewDiscovered(crawlurl.Depth{}, true), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, exists, err := s.Get("http://a.test/")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected record to exist")
	}
	if got.Kind != linkstate.Discovered {
		t.Errorf("got kind %s", got.Kind)
	}
}

func TestUpsert_EnforcesLifecycle(t *testing.T) {
	s := openTemp(t)

	_, _ = s.Upsert("http://a.test/", func(current linkstate.State, exists bool) (linkstate.State, error) {
		return linkstate.NewDiscovered(crawlurl.Depth{}, true), nil
	})

	_, err := s.Upsert("http://a.test/", func(current linkstate.State, exists bool) (linkstate.State, error) {
		return current.TransitionTo(linkstate.InProgress) // illegal: must go through Reserved
	})
	if err == nil {
		t.Error("expected illegal transition to be rejected")
	}
}

func TestCountByKind(t *testing.T) {
	s := openTemp(t)
	urls := []string{"http://a.test/1", "http://a.test/2", "http://b.test/1"}
	for _, u := range urls {
		u := u
		_, _ = s.Upsert(u, func(current linkstate.State, exists bool) (linkstate.State, error) {
			return linkstate.NewDiscovered(crawlurl.Depth{}, false), nil
		})
	}

	counts, err := s.CountByKind()
	if err != nil {
		t.Fatal(err)
	}
	if counts[linkstate.Discovered] != 3 {
		t.Errorf("got %d discovered, want 3", counts[linkstate.Discovered])
	}
}

func TestUpsert_ConcurrentDistinctKeys(t *testing.T) {
	s := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			url := filepath.Join("http://a.test/", string(rune('a'+i%26)))
			_, _ = s.Upsert(url, func(current linkstate.State, exists bool) (linkstate.State, error) {
				return linkstate.NewDiscovered(crawlurl.Depth{}, false), nil
			})
		}()
	}
	wg.Wait()
}

func TestIterByPrefix(t *testing.T) {
	s := openTemp(t)
	for _, u := range []string{"http://a.test/1", "http://a.test/2", "http://b.test/1"} {
		u := u
		_, _ = s.Upsert(u, func(current linkstate.State, exists bool) (linkstate.State, error) {
			return linkstate.NewDiscovered(crawlurl.Depth{}, false), nil
		})
	}

	seen := 0
	err := s.IterByPrefix("http://a.test/", func(url string, st linkstate.State) bool {
		seen++
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("got %d, want 2", seen)
	}
}
