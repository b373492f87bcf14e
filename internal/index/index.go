// Package index owns the per-collection index files mapping canonical URLs
// to cached resource files.
//
// The index is a derived cache over the file tree: the filesystem is ground
// truth and the index is reconciled against it. Loading accepts every
// historical on-disk schema (see load.go) and normalizes to the current flat
// form; saving always writes the current form.
package index

import (
	"sort"
	"time"
)

// Entry is the change-detection metadata tracked for one canonical URL.
type Entry struct {
	// FileRef is the relative path of the stored JSON document. Always
	// derived through the filename codec, never stored ad hoc.
	FileRef string `json:"$ref,omitempty"`
	// LastModified is an RFC 3339 timestamp, monotonically non-decreasing
	// per key across updates.
	LastModified string `json:"lastModified,omitempty"`
	// ContentHash is a 16-hex-character digest of the document's semantic
	// content, volatile metadata excluded.
	ContentHash string `json:"contentHash,omitempty"`
}

// Redirect re-keys an entry to a replacement canonical URL.
type Redirect struct {
	Target string
	Entry  Entry
}

// Collection is the in-memory form of one collection's index.
type Collection struct {
	Name    string
	Entries map[string]Entry
}

// NewCollection returns an empty index for the named collection.
func NewCollection(name string) *Collection {
	return &Collection{Name: name, Entries: make(map[string]Entry)}
}

// Merge inserts an entry, resolving key collisions in favor of the more
// recent LastModified. A side with a timestamp beats a side without one.
func (c *Collection) Merge(url string, e Entry) {
	old, ok := c.Entries[url]
	if !ok || newer(e.LastModified, old.LastModified) {
		c.Entries[url] = e
	}
}

// Fold merges observed metadata onto an existing entry without clobbering
// unrelated fields. LastModified only moves forward.
func (c *Collection) Fold(url string, e Entry) {
	cur := c.Entries[url]
	if e.FileRef != "" {
		cur.FileRef = e.FileRef
	}
	if e.ContentHash != "" {
		cur.ContentHash = e.ContentHash
	}
	if e.LastModified != "" && (cur.LastModified == "" || newer(e.LastModified, cur.LastModified)) {
		cur.LastModified = e.LastModified
	}
	c.Entries[url] = cur
}

// Apply folds one reconciliation result into the index: removals first, then
// redirect updates re-keying entries to their replacement URLs.
func (c *Collection) Apply(remove []string, redirects map[string]Redirect) {
	for _, k := range remove {
		delete(c.Entries, k)
	}
	for old, r := range redirects {
		delete(c.Entries, old)
		c.Merge(r.Target, r.Entry)
	}
}

// URLs returns all canonical URLs in sorted order, for deterministic passes.
func (c *Collection) URLs() []string {
	out := make([]string, 0, len(c.Entries))
	for u := range c.Entries {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// newer reports whether timestamp a is strictly more recent than b. An
// unparseable or empty timestamp always loses.
func newer(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil {
		return false
	}
	if errB != nil {
		return true
	}
	return ta.After(tb)
}
