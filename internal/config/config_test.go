package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInitAndLoad(t *testing.T) {
	root := t.TempDir()

	cfg, err := Init(root)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !IsRepository(root) {
		t.Fatal("Init should create the repository marker")
	}
	if _, err := os.Stat(PDFPath(root)); err != nil {
		t.Errorf("document directory missing: %v", err)
	}
	if len(cfg.SourceChain) == 0 {
		t.Error("default config should have a source chain")
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Workers["enrich"].BatchSize != cfg.Workers["enrich"].BatchSize {
		t.Errorf("round-trip mismatch: %+v vs %+v", loaded.Workers, cfg.Workers)
	}
}

func TestInitRefusesExisting(t *testing.T) {
	root := t.TempDir()
	if _, err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := Init(root); err == nil {
		t.Fatal("second Init should fail")
	}
}

func TestLoadMissingConfigUsesDefaults(t *testing.T) {
	root := t.TempDir()
	// Repository marker without a config file.
	if err := os.MkdirAll(PapyrusPath(root), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxDepth != 2 || cfg.MaxFanout != 50 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestFindRepository(t *testing.T) {
	root := t.TempDir()
	if _, err := Init(root); err != nil {
		t.Fatalf("Init: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	found, err := FindRepository(nested)
	if err != nil {
		t.Fatalf("FindRepository: %v", err)
	}
	// Resolve symlinks for comparison; temp dirs may be linked.
	wantReal, _ := filepath.EvalSymlinks(root)
	gotReal, _ := filepath.EvalSymlinks(found)
	if gotReal != wantReal {
		t.Errorf("found %q, want %q", found, root)
	}

	if _, err := FindRepository(t.TempDir()); err == nil {
		t.Error("FindRepository outside a repository should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"unknown source", func(c *Config) {
			c.SourceChain = append(c.SourceChain, "carrier-pigeon")
		}, true},
		{"mirror without entry", func(c *Config) {
			c.SourceChain = append(c.SourceChain, "mirror:alpha")
		}, true},
		{"mirror with entry", func(c *Config) {
			c.SourceChain = append(c.SourceChain, "mirror:alpha")
			c.Mirrors = map[string]string{"alpha": "https://mirror.example"}
		}, false},
		{"zero rate interval", func(c *Config) {
			c.RateIntervals["catalog"] = 0
		}, true},
		{"zero worker interval", func(c *Config) {
			c.Workers["enrich"] = WorkerConfig{Interval: 0, BatchSize: 1}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRateInterval(t *testing.T) {
	cfg := Default()
	if got := cfg.RateInterval("catalog"); got != 100*time.Millisecond {
		t.Errorf("catalog interval = %v", got)
	}
	if got := cfg.RateInterval("unconfigured"); got != DefaultRateInterval {
		t.Errorf("fallback interval = %v, want default", got)
	}
}
