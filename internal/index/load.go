// Loads any historical index schema and normalizes it to the current form.

package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/scholdex/bibcache/internal/key"
)

// Load reads a collection index file, trying each known schema variant in
// fixed priority order: the current wrapped-requests form, the flat
// URL-to-entry map, the legacy entity list, and the legacy query list/map.
// Each variant is validated independently; the first that validates wins.
// A missing or unrecognized file loads as an empty index — missing state is a
// normal lifecycle start, not a failure. A real read error aborts instead so
// the pass never overwrites an index it could not read.
func Load(path, name string, kc *key.Canonicalizer, log *slog.Logger) (*Collection, error) {
	c := NewCollection(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}

	for _, parse := range []func([]byte, *Collection, *key.Canonicalizer, *slog.Logger) bool{
		parseWrapped,
		parseFlat,
		parseEntityList,
		parseQueries,
	} {
		if parse(data, c, kc, log) {
			return c, nil
		}
	}
	log.Warn("index matches no known schema, starting empty", "path", path)
	return NewCollection(name), nil
}

// mergeKey canonicalizes a raw key when possible so equivalent spellings
// collapse to one entry. Keys that do not parse are retained verbatim; the
// seeder decides their fate (repair or removal), never the loader.
func mergeKey(c *Collection, kc *key.Canonicalizer, raw string, e Entry) {
	if k, err := kc.Parse(raw); err == nil && !kc.DetectMalformed(raw) {
		c.Merge(k.CanonicalURL, e)
		return
	}
	c.Merge(raw, e)
}

// parseWrapped handles the current wrapped-requests schema:
// {"requests": {"<url>": {"$ref": ..., "lastModified": ..., "contentHash": ...}}}
func parseWrapped(data []byte, c *Collection, kc *key.Canonicalizer, _ *slog.Logger) bool {
	var doc struct {
		Requests map[string]Entry `json:"requests"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Requests == nil {
		return false
	}
	for raw, e := range doc.Requests {
		mergeKey(c, kc, raw, e)
	}
	return true
}

// parseFlat handles the flat URL-to-entry schema, which is also the form
// Save writes: {"<url>": {"$ref": ..., ...}, ...}
func parseFlat(data []byte, c *Collection, kc *key.Canonicalizer, _ *slog.Logger) bool {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return false
	}
	// The legacy marker keys mean this is not a flat index.
	for _, marker := range []string{"requests", "entities", "queries"} {
		if _, ok := doc[marker]; ok {
			return false
		}
	}
	parsed := make(map[string]Entry, len(doc))
	for raw, val := range doc {
		var e Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return false
		}
		parsed[raw] = e
	}
	for raw, e := range parsed {
		mergeKey(c, kc, raw, e)
	}
	return true
}

type legacyEntity struct {
	ID           string `json:"id"`
	File         string `json:"file"`
	LastModified string `json:"lastModified"`
	ContentHash  string `json:"contentHash"`
}

// parseEntityList handles the legacy entity-list schema, either a bare array
// or wrapped in {"entities": [...]}.
func parseEntityList(data []byte, c *Collection, kc *key.Canonicalizer, log *slog.Logger) bool {
	var items []legacyEntity
	if err := json.Unmarshal(data, &items); err != nil {
		var doc struct {
			Entities []legacyEntity `json:"entities"`
		}
		if err := json.Unmarshal(data, &doc); err != nil || doc.Entities == nil {
			return false
		}
		items = doc.Entities
	}
	for _, it := range items {
		if it.ID == "" {
			log.Warn("legacy entity without id skipped", "collection", c.Name)
			continue
		}
		mergeKey(c, kc, c.Name+"/"+it.ID, Entry{
			LastModified: it.LastModified,
			ContentHash:  it.ContentHash,
		})
	}
	return true
}

type legacyQuery struct {
	Collection   string            `json:"collection"`
	Params       map[string]string `json:"params"`
	URL          string            `json:"url"`
	File         string            `json:"file"`
	LastModified string            `json:"lastModified"`
	ContentHash  string            `json:"contentHash"`
}

// parseQueries handles the legacy query schema: {"queries": [...]} or
// {"queries": {"<name>": {...}}}. A canonical query URL is reconstructed
// either from explicit params+collection or from a stored raw url.
func parseQueries(data []byte, c *Collection, kc *key.Canonicalizer, log *slog.Logger) bool {
	var doc struct {
		Queries json.RawMessage `json:"queries"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || len(doc.Queries) == 0 {
		return false
	}

	var items []legacyQuery
	if err := json.Unmarshal(doc.Queries, &items); err != nil {
		var m map[string]legacyQuery
		if err := json.Unmarshal(doc.Queries, &m); err != nil {
			return false
		}
		for _, q := range m {
			items = append(items, q)
		}
	}

	for _, q := range items {
		raw := q.URL
		if raw == "" {
			if q.Params == nil {
				log.Warn("legacy query without url or params skipped", "collection", c.Name)
				continue
			}
			col := q.Collection
			if col == "" {
				col = c.Name
			}
			vals := url.Values{}
			for k, v := range q.Params {
				vals.Set(k, v)
			}
			raw = col + "?" + vals.Encode()
		}
		mergeKey(c, kc, raw, Entry{
			LastModified: q.LastModified,
			ContentHash:  q.ContentHash,
		})
	}
	return true
}
