// Persists a collection index in the current flat schema.

package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scholdex/bibcache/internal/key"
)

// Save writes the index as a flat canonical-URL to entry map. File references
// are always derived through the filename codec. The write is atomic: a
// failure part-way leaves the prior on-disk index untouched.
func Save(path string, c *Collection) error {
	out := make(map[string]Entry, len(c.Entries))
	for u, e := range c.Entries {
		e.FileRef = key.FilenameForURL(u)
		out[u] = e
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace index %s: %w", path, err)
	}
	return nil
}
