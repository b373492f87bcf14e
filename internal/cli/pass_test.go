package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"github.com/scholdex/bibcache/internal/config"
	"github.com/scholdex/bibcache/internal/index"
	"github.com/scholdex/bibcache/internal/key"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Collections = []config.Collection{
		{Name: "works", Prefix: "W"},
		{Name: "authors", Prefix: "A"},
	}
	return cfg
}

func TestRunPassOffline(t *testing.T) {
	cfg := testConfig(t)
	worksDir := filepath.Join(cfg.DataDir, "works")
	if err := os.MkdirAll(worksDir, 0o755); err != nil {
		t.Fatal(err)
	}
	u := "https://api.openalex.org/works/W123"
	if err := os.WriteFile(filepath.Join(worksDir, key.FilenameForURL(u)),
		[]byte(`{"id": "W123"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runPass(context.Background(), cfg, false); err != nil {
		t.Fatal(err)
	}

	kc := cfg.Canonicalizer()
	idx, err := index.Load(filepath.Join(worksDir, "index.json"), "works", kc, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Entries[u]; !ok {
		t.Errorf("reconciled entry missing from saved index: %v", idx.URLs())
	}

	if _, err := os.Stat(filepath.Join(cfg.DataDir, "index.json")); err != nil {
		t.Errorf("root index not built: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DataDir, "authors", "index.json")); err != nil {
		t.Errorf("empty collection index not written: %v", err)
	}
}

func TestPassCollectionLockHeld(t *testing.T) {
	cfg := testConfig(t)
	dir := filepath.Join(cfg.DataDir, "works")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(filepath.Join(dir, "index.lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("setup lock failed: %v, %v", err, locked)
	}
	defer func() { _ = lock.Unlock() }()

	err = passCollection(context.Background(), cfg, cfg.Canonicalizer(), nil, "works", slog.Default())
	if err == nil {
		t.Error("pass ran despite the index lock being held")
	}
}
