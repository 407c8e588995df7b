package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.System.MaxWorkers != 4 {
		t.Errorf("got %d max workers, want 4", cfg.System.MaxWorkers)
	}
	if cfg.Crawl.UserAgent != "*" {
		t.Errorf("got user agent %q, want *", cfg.Crawl.UserAgent)
	}
	if cfg.Crawl.RequestInterval != 2*time.Second {
		t.Errorf("got request interval %v, want 2s", cfg.Crawl.RequestInterval)
	}
	if cfg.Crawl.InMemoryMaxResponseBytes != 100<<20 {
		t.Errorf("got %d, want 100 MiB", cfg.Crawl.InMemoryMaxResponseBytes)
	}
	if cfg.Archive.Backend != "json" {
		t.Errorf("got archive backend %q, want json", cfg.Archive.Backend)
	}
	if cfg.LinkState.Backend != "bolt" {
		t.Errorf("got link state backend %q, want bolt", cfg.LinkState.Backend)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burr.yaml")
	contents := `
system:
  max_workers: 8
paths:
  root_path: /tmp/burr
crawl:
  max_depth: 3
  user_agent: "test-agent"
archive:
  backend: sqlite
  dsn: /tmp/burr/archive.db
link_state:
  backend: sqlite
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.System.MaxWorkers != 8 {
		t.Errorf("got %d, want 8", cfg.System.MaxWorkers)
	}
	if cfg.Paths.RootPath != "/tmp/burr" {
		t.Errorf("got %q, want /tmp/burr", cfg.Paths.RootPath)
	}
	if cfg.Crawl.MaxDepth != 3 {
		t.Errorf("got %d, want 3", cfg.Crawl.MaxDepth)
	}
	if cfg.Crawl.UserAgent != "test-agent" {
		t.Errorf("got %q, want test-agent", cfg.Crawl.UserAgent)
	}
	if cfg.Archive.Backend != "sqlite" {
		t.Errorf("got archive backend %q, want sqlite", cfg.Archive.Backend)
	}
	if cfg.Archive.DSN != "/tmp/burr/archive.db" {
		t.Errorf("got archive dsn %q, want /tmp/burr/archive.db", cfg.Archive.DSN)
	}
	if cfg.LinkState.Backend != "sqlite" {
		t.Errorf("got link state backend %q, want sqlite", cfg.LinkState.Backend)
	}
	// Defaults for keys not present in the file still apply.
	if cfg.Session.MaxQueueMisses != 3 {
		t.Errorf("got %d, want default 3", cfg.Session.MaxQueueMisses)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Error("expected an error loading a missing config file")
	}
}
