// Reconciles a collection index against the file tree, which is ground truth.

package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scholdex/bibcache/internal/key"
)

// ReconcileWithFilesystem walks the collection directory and folds every
// resource file's metadata into the index. Files with corrupted names are
// repaired (renamed to their canonical filename) when the repair validates
// against this collection, and deleted otherwise. Query files whose content
// hash already belongs to another entry are duplicates and are skipped.
// After the per-file pass, prefixed/unprefixed twin entries are deduplicated
// in favor of the prefixed form.
func ReconcileWithFilesystem(dir string, c *Collection, kc *key.Canonicalizer, log *slog.Logger) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list collection directory %s: %w", dir, err)
	}

	// hashOwner maps a query content hash to the canonical URL that first
	// claimed it, seeded from entries already in the index.
	hashOwner := make(map[string]string, len(c.Entries))
	for u, e := range c.Entries {
		if e.ContentHash != "" {
			if _, ok := hashOwner[e.ContentHash]; !ok {
				hashOwner[e.ContentHash] = u
			}
		}
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if name == "index.json" || !strings.HasSuffix(name, ".json") {
			continue
		}

		pk, fname, ok := c.resolveFile(dir, name, kc, log)
		if !ok {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, fname))
		if err != nil {
			log.Warn("resource unreadable", "collection", c.Name, "file", name, "err", err)
			continue
		}
		var payload any
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Warn("resource is not valid JSON, leaving for manual repair",
				"collection", c.Name, "file", name, "err", err)
			continue
		}

		hash := ContentHash(payload)
		if IsQueryPayload(payload) {
			if owner, dup := hashOwner[hash]; dup && owner != pk.CanonicalURL {
				log.Debug("duplicate query result skipped",
					"collection", c.Name, "file", name, "owner", owner)
				continue
			}
			hashOwner[hash] = pk.CanonicalURL
		}

		info, err := f.Info()
		if err != nil {
			log.Warn("stat failed", "collection", c.Name, "file", name, "err", err)
			continue
		}
		c.Fold(pk.CanonicalURL, Entry{
			LastModified: info.ModTime().UTC().Format(time.RFC3339),
			ContentHash:  hash,
		})
	}

	c.dedupePrefixes(kc)
	return nil
}

// resolveFile derives the canonical key for a resource file and returns the
// filename to read it from. The corruption check runs on the decoded key, not
// the encoded filename, whose own %25 escapes would trip the re-encoding
// signature on healthy query names. Corrupted names are repaired and the file
// renamed to its canonical filename; files whose name cannot resolve into
// this collection are deleted.
func (c *Collection) resolveFile(dir, name string, kc *key.Canonicalizer, log *slog.Logger) (*key.ParsedKey, string, bool) {
	raw, derr := key.DecodeFilename(name)
	if derr == nil && !kc.DetectMalformed(raw) {
		if pk, err := kc.ParseFilename(name, c.Name); err == nil {
			return pk, name, true
		}
	}

	// Corrupted or unresolvable: repair, or remove when the repair does not
	// validate against this collection.
	if derr == nil {
		if repaired, err := kc.Repair(raw); err == nil {
			if pk, err := kc.Parse(repaired); err == nil && pk.Collection == c.Name {
				fixed := key.FilenameForURL(pk.CanonicalURL)
				if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, fixed)); err != nil {
					log.Warn("rename of repaired file failed",
						"collection", c.Name, "file", name, "err", err)
					return nil, "", false
				}
				log.Info("repaired corrupted filename",
					"collection", c.Name, "from", name, "to", fixed)
				return pk, fixed, true
			}
		}
	}
	log.Warn("removing file that does not resolve into this collection",
		"collection", c.Name, "file", name)
	c.removeFile(dir, name, log)
	return nil, "", false
}

func (c *Collection) removeFile(dir, name string, log *slog.Logger) {
	if err := os.Remove(filepath.Join(dir, name)); err != nil {
		log.Warn("remove failed", "collection", c.Name, "file", name, "err", err)
	}
}

// dedupePrefixes drops an unprefixed entity entry when its prefixed twin
// (matching the collection's expected identifier prefix) is also indexed.
func (c *Collection) dedupePrefixes(kc *key.Canonicalizer) {
	prefix := kc.PrefixFor(c.Name)
	if prefix == "" {
		return
	}
	for u := range c.Entries {
		pk, err := kc.Parse(u)
		if err != nil || pk.Kind != key.KindEntity || pk.Identifier == "" {
			continue
		}
		if len(pk.Identifier) < 2 || !strings.EqualFold(pk.Identifier[:1], prefix) {
			continue
		}
		twin, err := kc.Parse(c.Name + "/" + pk.Identifier[1:])
		if err != nil {
			continue
		}
		delete(c.Entries, twin.CanonicalURL)
	}
}
