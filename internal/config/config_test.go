package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bibcache.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIHost != "api.openalex.org" || cfg.PublicHost != "openalex.org" {
		t.Errorf("default hosts = %q, %q", cfg.APIHost, cfg.PublicHost)
	}
	if len(cfg.Collections) != 8 {
		t.Errorf("default collections = %d, want 8", len(cfg.Collections))
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("default timeout = %v", cfg.Timeout())
	}
}

func TestLoadFillsZeroFields(t *testing.T) {
	path := writeConfig(t, `
data_dir: /srv/cache
collections:
  - name: works
    prefix: W
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/srv/cache" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.APIHost != "api.openalex.org" {
		t.Errorf("api_host not defaulted: %q", cfg.APIHost)
	}
	if cfg.RatePerSec != 8 || cfg.Burst != 2 {
		t.Errorf("rate defaults lost: %v, %v", cfg.RatePerSec, cfg.Burst)
	}
	if len(cfg.Collections) != 1 || cfg.Collections[0].Name != "works" {
		t.Errorf("collections = %+v", cfg.Collections)
	}
}

func TestLoadRejectsBadCollections(t *testing.T) {
	for _, content := range []string{
		"collections:\n  - name: Works\n",                               // uppercase name
		"collections:\n  - name: works\n    prefix: WW\n",               // multi-letter prefix
		"collections:\n  - name: works\n  - name: works\n",              // duplicate name
		"collections:\n  - {name: works, prefix: w}\n  - {name: webs, prefix: W}\n", // prefix clash
	} {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("config accepted: %s", content)
		}
	}
}

func TestCanonicalizerFromConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	kc := cfg.Canonicalizer()
	k, err := kc.Parse("W2741809807")
	if err != nil {
		t.Fatal(err)
	}
	if k.CanonicalURL != "https://api.openalex.org/works/W2741809807" {
		t.Errorf("canonical = %q", k.CanonicalURL)
	}
}

func TestNames(t *testing.T) {
	cfg := Default()
	names := cfg.Names()
	if len(names) != len(cfg.Collections) || names[0] != "works" {
		t.Errorf("Names() = %v", names)
	}
}
