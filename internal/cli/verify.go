package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/cobra"
)

// collectionIndexSchema describes the current flat index format: canonical
// URL keys mapping to $ref/lastModified/contentHash entries.
const collectionIndexSchema = `{
  "type": "object",
  "propertyNames": {"pattern": "^https://"},
  "additionalProperties": {
    "type": "object",
    "properties": {
      "$ref": {"type": "string", "pattern": "\\.json$"},
      "lastModified": {"type": "string"},
      "contentHash": {"type": "string", "pattern": "^[0-9a-f]{16}$"}
    },
    "required": ["$ref"],
    "additionalProperties": false
  }
}`

const rootIndexSchema = `{
  "type": "object",
  "properties": {
    "$id": {"const": "index.json"},
    "title": {"type": "string"},
    "lastModified": {"type": "string"},
    "allOf": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"$ref": {"type": "string", "pattern": "/index\\.json$"}},
        "required": ["$ref"],
        "additionalProperties": false
      }
    }
  },
  "required": ["$id", "lastModified", "allOf"],
  "additionalProperties": false
}`

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate on-disk index files against their schemas",
	Long: `Verify checks that every collection index and the top-level index conform
to the current on-disk format. Legacy-format indexes fail verification;
run 'bibcache reconcile' to migrate them.`,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		colSchema, err := compileSchema("collection-index.json", collectionIndexSchema)
		if err != nil {
			return err
		}
		rootSchema, err := compileSchema("root-index.json", rootIndexSchema)
		if err != nil {
			return err
		}

		var bad int
		for _, col := range cfg.Collections {
			path := filepath.Join(cfg.DataDir, col.Name, "index.json")
			if err := validateFile(colSchema, path); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				bad++
			}
		}
		rootPath := filepath.Join(cfg.DataDir, "index.json")
		if err := validateFile(rootSchema, rootPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", rootPath, err)
			bad++
		}

		if bad > 0 {
			return fmt.Errorf("%d index file(s) failed verification", bad)
		}
		fmt.Println("all index files valid")
		return nil
	},
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("bad schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("bad schema %s: %w", name, err)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("bad schema %s: %w", name, err)
	}
	return sch, nil
}

func validateFile(sch *jsonschema.Schema, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing cached yet
		}
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	return sch.Validate(inst)
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
