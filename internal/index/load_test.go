package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/scholdex/bibcache/internal/key"
)

func testCanonicalizer() *key.Canonicalizer {
	return key.NewCanonicalizer("api.example.org", "example.org", map[string]string{
		"W": "works",
		"A": "authors",
	})
}

func mustLoad(t *testing.T, path, name string) *Collection {
	t.Helper()
	c, err := Load(path, name, testCanonicalizer(), slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeIndex(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWrapped(t *testing.T) {
	// Two spellings of the same key; the later lastModified wins.
	path := writeIndex(t, `{
  "requests": {
    "works/W123": {"lastModified": "2023-01-02T00:00:00Z", "contentHash": "aaaaaaaaaaaaaaaa"},
    "https://api.example.org/works/W123": {"lastModified": "2024-01-02T00:00:00Z", "contentHash": "bbbbbbbbbbbbbbbb"}
  }
}`)
	c := mustLoad(t, path, "works")
	if len(c.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(c.Entries))
	}
	e, ok := c.Entries["https://api.example.org/works/W123"]
	if !ok {
		t.Fatalf("canonical key missing, have %v", c.URLs())
	}
	if e.ContentHash != "bbbbbbbbbbbbbbbb" {
		t.Errorf("merge kept %q, want the later entry", e.ContentHash)
	}
}

func TestLoadFlat(t *testing.T) {
	path := writeIndex(t, `{
  "https://api.example.org/works/W1": {"$ref": "x.json", "lastModified": "2024-01-01T00:00:00Z", "contentHash": "0123456789abcdef"}
}`)
	c := mustLoad(t, path, "works")
	if len(c.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(c.Entries))
	}
	if c.Entries["https://api.example.org/works/W1"].ContentHash != "0123456789abcdef" {
		t.Error("flat entry not loaded")
	}
}

func TestLoadLegacyEntityList(t *testing.T) {
	for _, content := range []string{
		`[{"id": "W9", "lastModified": "2022-05-01T00:00:00Z"}]`,
		`{"entities": [{"id": "W9", "lastModified": "2022-05-01T00:00:00Z"}]}`,
	} {
		c := mustLoad(t, writeIndex(t, content), "works")
		if len(c.Entries) != 1 {
			t.Fatalf("content %s: got %d entries, want 1", content, len(c.Entries))
		}
		e, ok := c.Entries["https://api.example.org/works/W9"]
		if !ok || e.LastModified != "2022-05-01T00:00:00Z" {
			t.Errorf("content %s: entity entry = %+v, %v", content, e, ok)
		}
	}
}

func TestLoadLegacyQueries(t *testing.T) {
	path := writeIndex(t, `{
  "queries": [
    {"collection": "works", "params": {"filter": "x"}, "lastModified": "2021-03-01T00:00:00Z"},
    {"url": "https://api.example.org/works?page=2"}
  ]
}`)
	c := mustLoad(t, path, "works")
	if len(c.Entries) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(c.Entries), c.URLs())
	}
	if _, ok := c.Entries["https://api.example.org/works?filter=x"]; !ok {
		t.Errorf("params-built query key missing: %v", c.URLs())
	}
	if _, ok := c.Entries["https://api.example.org/works?page=2"]; !ok {
		t.Errorf("url-built query key missing: %v", c.URLs())
	}
}

func TestLoadLegacyQueryMap(t *testing.T) {
	path := writeIndex(t, `{
  "queries": {
    "by-filter": {"params": {"filter": "x"}, "lastModified": "2021-03-01T00:00:00Z"}
  }
}`)
	c := mustLoad(t, path, "works")
	if _, ok := c.Entries["https://api.example.org/works?filter=x"]; !ok {
		t.Errorf("query-map key missing: %v", c.URLs())
	}
}

func TestLoadMissingOrBroken(t *testing.T) {
	c := mustLoad(t, filepath.Join(t.TempDir(), "index.json"), "works")
	if len(c.Entries) != 0 {
		t.Error("missing file should load empty")
	}

	c = mustLoad(t, writeIndex(t, "not json at all"), "works")
	if len(c.Entries) != 0 {
		t.Error("unparseable file should load empty")
	}
}

func TestLoadRetainsUnparseableKeys(t *testing.T) {
	// Corrupted keys survive the load; the seeder decides their fate.
	raw := "Ahttps%2F%2F%2Fapi%2Eexample%2Eorg%2Fauthors%2FA5025875274"
	path := writeIndex(t, `{"requests": {"`+raw+`": {"lastModified": "2020-01-01T00:00:00Z"}}}`)
	c := mustLoad(t, path, "works")
	if _, ok := c.Entries[raw]; !ok {
		t.Errorf("corrupted key was dropped at load: %v", c.URLs())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	c := NewCollection("works")
	c.Entries["https://api.example.org/works/W1"] = Entry{
		LastModified: "2024-01-01T00:00:00Z",
		ContentHash:  "0123456789abcdef",
	}
	if err := Save(path, c); err != nil {
		t.Fatal(err)
	}

	got := mustLoad(t, path, "works")
	e, ok := got.Entries["https://api.example.org/works/W1"]
	if !ok {
		t.Fatalf("entry missing after reload: %v", got.URLs())
	}
	if e.FileRef != key.FilenameForURL("https://api.example.org/works/W1") {
		t.Errorf("FileRef = %q, not derived via the filename codec", e.FileRef)
	}
	if e.ContentHash != "0123456789abcdef" || e.LastModified != "2024-01-01T00:00:00Z" {
		t.Errorf("entry fields lost: %+v", e)
	}
}
