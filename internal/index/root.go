// Builds the top-level index aggregating all per-collection indexes.

package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type rootRef struct {
	Ref string `json:"$ref"`
}

type rootDoc struct {
	ID           string    `json:"$id"`
	Title        string    `json:"title"`
	LastModified string    `json:"lastModified"`
	AllOf        []rootRef `json:"allOf"`
}

// BuildRoot writes the top-level index.json referencing every collection
// index found under dataDir. The build is idempotent: when the derived
// content matches the prior file ignoring lastModified, the file and its
// timestamp are left untouched.
func BuildRoot(dataDir string, collections []string, log *slog.Logger) error {
	doc := rootDoc{
		ID:    "index.json",
		Title: "bibcache root index",
	}
	sorted := append([]string(nil), collections...)
	sort.Strings(sorted)
	for _, col := range sorted {
		if _, err := os.Stat(filepath.Join(dataDir, col, "index.json")); err != nil {
			continue
		}
		doc.AllOf = append(doc.AllOf, rootRef{Ref: col + "/index.json"})
	}

	path := filepath.Join(dataDir, "index.json")
	prior, err := os.ReadFile(path)
	if err == nil {
		var old rootDoc
		if json.Unmarshal(prior, &old) == nil && sameRootContent(doc, old) {
			log.Debug("root index unchanged", "path", path)
			return nil
		}
	}

	doc.LastModified = time.Now().UTC().Format(time.RFC3339)
	data, err := marshalRoot(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal root index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write root index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace root index: %w", err)
	}
	log.Info("root index rebuilt", "collections", len(doc.AllOf))
	return nil
}

// sameRootContent compares two root documents ignoring lastModified, so a
// no-op rebuild preserves the prior file and its timestamp byte for byte.
func sameRootContent(a, b rootDoc) bool {
	if a.ID != b.ID || a.Title != b.Title || len(a.AllOf) != len(b.AllOf) {
		return false
	}
	for i := range a.AllOf {
		if a.AllOf[i] != b.AllOf[i] {
			return false
		}
	}
	return true
}

func marshalRoot(doc rootDoc) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
