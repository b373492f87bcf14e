// Runs reconciliation and seeding passes over the configured collections.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/scholdex/bibcache/internal/config"
	"github.com/scholdex/bibcache/internal/fetch"
	"github.com/scholdex/bibcache/internal/gitsnap"
	"github.com/scholdex/bibcache/internal/index"
	"github.com/scholdex/bibcache/internal/key"
	"github.com/scholdex/bibcache/internal/seed"
)

// runPass reconciles every collection against its file tree and, when
// withSeed is set, fetches what the indexes reference but the tree lacks.
// Collections share no mutable state and run in parallel; each collection's
// index is exclusively owned for its whole load-reconcile-seed-save cycle.
func runPass(ctx context.Context, cfg *config.Config, withSeed bool) error {
	log := slog.Default()
	kc := cfg.Canonicalizer()

	var seeder *seed.Seeder
	if withSeed {
		client := fetch.NewClient(cfg.RatePerSec, cfg.Burst, cfg.Timeout(), cfg.UserAgent, log)
		seeder = seed.New(kc, client, log)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, col := range cfg.Collections {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := passCollection(ctx, cfg, kc, seeder, name, log); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(col.Name)
	}
	wg.Wait()

	if err := index.BuildRoot(cfg.DataDir, cfg.Names(), log); err != nil {
		errs = append(errs, err)
	}

	if cfg.GitSnapshot && len(errs) == 0 {
		repo, err := gitsnap.Open(cfg.DataDir)
		if err != nil {
			errs = append(errs, err)
		} else if committed, err := repo.Commit("bibcache: cache pass"); err != nil {
			errs = append(errs, err)
		} else if committed {
			log.Info("snapshot committed")
		}
	}
	return errors.Join(errs...)
}

// passCollection runs one collection's cycle under its index lock. A
// cancelled seed still applies and saves the partial result, leaving a
// consistent (if incomplete) index.
func passCollection(ctx context.Context, cfg *config.Config, kc *key.Canonicalizer, seeder *seed.Seeder, name string, log *slog.Logger) error {
	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, "index.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("cannot acquire index lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another pass holds the index lock for %s", name)
	}
	defer func() { _ = lock.Unlock() }()

	path := filepath.Join(dir, "index.json")
	idx, err := index.Load(path, name, kc, log)
	if err != nil {
		return err
	}
	before := len(idx.Entries)
	if err := index.ReconcileWithFilesystem(dir, idx, kc, log); err != nil {
		return err
	}

	var seedErr error
	if seeder != nil {
		res, err := seeder.Seed(ctx, dir, idx)
		seedErr = err
		if res != nil {
			idx.Apply(res.Remove, res.Redirects)
		}
	}

	if err := index.Save(path, idx); err != nil {
		return err
	}
	log.Info("collection pass finished",
		"collection", name, "entries", len(idx.Entries), "loaded", before)
	return seedErr
}
