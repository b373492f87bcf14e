// Package seed fetches resources the index references but the file tree
// lacks, and computes the index updates (removals, redirects) that fall out
// of each pass.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scholdex/bibcache/internal/fetch"
	"github.com/scholdex/bibcache/internal/index"
	"github.com/scholdex/bibcache/internal/key"
)

// maxRedirects bounds the manual redirect walk for one key.
const maxRedirects = 10

// Fetcher is the transport collaborator consumed by the seeder. Do must not
// follow redirects; the seeder walks the chain itself.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string) (any, error)
	Do(ctx context.Context, url string) (*fetch.Response, error)
}

// Result is the outcome of one seeding pass. The seeder never mutates the
// index; the caller applies the result atomically via Collection.Apply.
type Result struct {
	// Remove lists keys that are unparseable, corrupted beyond repair,
	// cross-collection, or confirmed gone upstream.
	Remove []string
	// Redirects maps obsolete keys to their replacement, carrying the
	// entry's metadata forward.
	Redirects map[string]index.Redirect
}

// Seeder diffs a collection index against the filesystem and fetches what is
// missing.
type Seeder struct {
	kc  *key.Canonicalizer
	f   Fetcher
	log *slog.Logger
}

// New creates a Seeder.
func New(kc *key.Canonicalizer, f Fetcher, log *slog.Logger) *Seeder {
	return &Seeder{kc: kc, f: f, log: log}
}

// Seed walks every index entry: repairs or condemns corrupted keys, verifies
// the key belongs to this collection, and fetches entities and queries whose
// backing file is absent. Each canonical URL is fetched at most once per
// pass. Per-key failures are isolated; only context cancellation ends the
// pass early, leaving a consistent partial result.
func (s *Seeder) Seed(ctx context.Context, dir string, col *index.Collection) (*Result, error) {
	res := &Result{Redirects: make(map[string]index.Redirect)}
	fetched := make(map[string]bool)

	for _, rawKey := range col.URLs() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := col.Entries[rawKey]

		k := rawKey
		if s.kc.DetectMalformed(k) {
			repaired, err := s.kc.Repair(k)
			if err != nil {
				s.log.Warn("unrepairable key queued for removal",
					"collection", col.Name, "key", rawKey)
				res.Remove = append(res.Remove, rawKey)
				continue
			}
			k = repaired
		}

		pk, err := s.kc.Parse(k)
		if err != nil || pk.Collection != col.Name {
			s.log.Warn("key does not resolve into this collection, queued for removal",
				"collection", col.Name, "key", rawKey)
			res.Remove = append(res.Remove, rawKey)
			continue
		}
		if pk.CanonicalURL != rawKey {
			// Repaired or renormalized spelling: re-key the entry.
			res.Redirects[rawKey] = index.Redirect{Target: pk.CanonicalURL, Entry: entry}
		}

		if _, err := os.Stat(filepath.Join(dir, key.FilenameForURL(pk.CanonicalURL))); err == nil {
			continue
		}
		if fetched[pk.CanonicalURL] {
			continue
		}
		fetched[pk.CanonicalURL] = true

		if pk.IsEntity() {
			s.seedEntity(ctx, dir, rawKey, pk, entry, res)
		} else {
			s.seedQuery(ctx, dir, pk)
		}
	}
	return res, nil
}

// seedEntity fetches one entity, following redirects manually up to
// maxRedirects hops. A terminal 404 condemns the key; a redirect chain ending
// in success re-keys the entry to the final URL; hitting the hop bound leaves
// the entry untouched since the loop may be transient upstream.
func (s *Seeder) seedEntity(ctx context.Context, dir, rawKey string, pk *key.ParsedKey, entry index.Entry, res *Result) {
	chain := []string{pk.CanonicalURL}
	cur := pk.CanonicalURL

	for hop := 0; hop < maxRedirects; hop++ {
		resp, err := s.f.Do(ctx, cur)
		if err != nil {
			s.log.Warn("fetch failed, entry kept for a later pass",
				"collection", pk.Collection, "url", cur, "err", err)
			return
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			s.log.Info("gone upstream, queued for removal", "url", cur, "key", rawKey)
			// A renormalization redirect queued for this key would re-insert
			// it under the canonical URL when applied; removal wins.
			delete(res.Redirects, rawKey)
			res.Remove = append(res.Remove, rawKey)
			return
		case resp.StatusCode >= 300 && resp.StatusCode <= 399:
			if resp.Location == "" {
				s.log.Warn("redirect without location", "url", cur, "status", resp.StatusCode)
				return
			}
			cur = resp.Location
			chain = append(chain, cur)
			continue
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			s.finishEntity(dir, rawKey, pk, entry, cur, resp.Body, res)
			return
		default:
			s.log.Warn("unexpected status, entry kept for a later pass",
				"url", cur, "status", resp.StatusCode)
			return
		}
	}
	s.log.Error("redirect limit exceeded, entry left untouched",
		"key", rawKey, "chain", strings.Join(chain, " -> "))
}

// finishEntity writes a successful terminal response and, when the chain
// moved, queues the redirect update carrying the entry's metadata forward
// with a refreshed timestamp.
func (s *Seeder) finishEntity(dir, rawKey string, pk *key.ParsedKey, entry index.Entry, finalURL string, body []byte, res *Result) {
	target := pk
	if finalURL != pk.CanonicalURL {
		fk, err := s.kc.Parse(finalURL)
		if err != nil {
			s.log.Warn("redirect target is not a cacheable key, entry left untouched",
				"key", rawKey, "target", finalURL, "err", err)
			return
		}
		if fk.Collection != pk.Collection {
			// Writing the body here would put it in the wrong collection's
			// directory, where the next reconcile pass deletes it.
			s.log.Warn("redirect crosses collections, entry left untouched",
				"key", rawKey, "target", fk.CanonicalURL)
			return
		}
		target = fk
		res.Redirects[rawKey] = index.Redirect{
			Target: fk.CanonicalURL,
			Entry: index.Entry{
				ContentHash:  entry.ContentHash,
				LastModified: time.Now().UTC().Format(time.RFC3339),
			},
		}
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		s.log.Warn("entity body is not valid JSON, entry left untouched",
			"url", finalURL, "err", err)
		return
	}
	if err := writeResource(dir, key.FilenameForURL(target.CanonicalURL), v); err != nil {
		s.log.Warn("failed to store entity", "url", target.CanonicalURL, "err", err)
	}
}

// seedQuery re-issues a query whose result file is absent. Failures leave the
// entry untouched for retry on a future pass.
func (s *Seeder) seedQuery(ctx context.Context, dir string, pk *key.ParsedKey) {
	v, err := s.f.FetchJSON(ctx, pk.CanonicalURL)
	if err != nil || v == nil {
		s.log.Debug("query fetch failed, entry kept for a later pass",
			"url", pk.CanonicalURL, "err", err)
		return
	}
	if err := writeResource(dir, key.FilenameForURL(pk.CanonicalURL), v); err != nil {
		s.log.Warn("failed to store query result", "url", pk.CanonicalURL, "err", err)
	}
}

// writeResource stores a resource file pretty-printed with 2-space indent,
// exactly as received aside from re-serialization.
func writeResource(dir, filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resource: %w", err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		return fmt.Errorf("failed to write resource: %w", err)
	}
	return nil
}
