// Package config handles corpus repository layout and configuration.
// A corpus lives in a directory with a .papyrus/ subdirectory holding
// the database, the stored documents, and the configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// PapyrusDir marks a corpus repository.
	PapyrusDir = ".papyrus"
	// ConfigFile is the repository configuration file name.
	ConfigFile = "config.yml"
	// DBFile is the corpus database file name.
	DBFile = "corpus.db"
	// PDFDir holds the downloaded documents.
	PDFDir = "pdfs"
)

// WorkerConfig configures one supervised loop.
type WorkerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Config is the repository configuration stored in
// .papyrus/config.yml.
type Config struct {
	// Mailto is the contact address sent to the metadata catalog.
	Mailto string `yaml:"mailto,omitempty"`

	// ParserURL is the base URL of the reference parsing service.
	ParserURL string `yaml:"parser_url,omitempty"`

	// SourceChain orders the download sources. Known names:
	// direct-doi, open-access, search-fallback, mirror:<name>.
	SourceChain []string `yaml:"source_chain,omitempty"`

	// Mirrors maps mirror names to their base URLs.
	Mirrors map[string]string `yaml:"mirrors,omitempty"`

	// RateIntervals sets the minimum spacing between calls per
	// service name. Services not listed get DefaultRateInterval.
	RateIntervals map[string]time.Duration `yaml:"rate_intervals,omitempty"`

	// Workers configures the supervised loops by partition key
	// (enrich, queue, download).
	Workers map[string]WorkerConfig `yaml:"workers,omitempty"`

	// MaxDepth bounds recursive reference expansion.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// MaxFanout caps candidates taken from one reference list.
	MaxFanout int `yaml:"max_fanout,omitempty"`
}

// DefaultRateInterval paces services without an explicit interval.
const DefaultRateInterval = time.Second

// DefaultSourceChain is the download order when none is configured.
var DefaultSourceChain = []string{"direct-doi", "open-access", "search-fallback"}

// Default returns the configuration a fresh repository starts with.
func Default() *Config {
	return &Config{
		SourceChain: append([]string(nil), DefaultSourceChain...),
		RateIntervals: map[string]time.Duration{
			"catalog":   100 * time.Millisecond,
			"doi":       time.Second,
			"oa":        time.Second,
			"refparser": 500 * time.Millisecond,
		},
		Workers: map[string]WorkerConfig{
			"enrich":   {Interval: 30 * time.Second, BatchSize: 25},
			"queue":    {Interval: 30 * time.Second, BatchSize: 25},
			"download": {Interval: time.Minute, BatchSize: 5},
		},
		MaxDepth:  2,
		MaxFanout: 50,
	}
}

// PapyrusPath returns the .papyrus directory under a repository root.
func PapyrusPath(root string) string {
	return filepath.Join(root, PapyrusDir)
}

// ConfigPath returns the configuration file path under a root.
func ConfigPath(root string) string {
	return filepath.Join(root, PapyrusDir, ConfigFile)
}

// DBPath returns the corpus database path under a root.
func DBPath(root string) string {
	return filepath.Join(root, PapyrusDir, DBFile)
}

// PDFPath returns the document directory under a root.
func PDFPath(root string) string {
	return filepath.Join(root, PapyrusDir, PDFDir)
}

// IsRepository checks whether the path contains a corpus repository.
func IsRepository(root string) bool {
	info, err := os.Stat(PapyrusPath(root))
	return err == nil && info.IsDir()
}

// FindRepository walks up from the given path to find a repository
// root.
func FindRepository(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	for {
		if IsRepository(abs) {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("not in a papyrus repository (no %s directory found)", PapyrusDir)
		}
		abs = parent
	}
}

// Init creates the repository layout at root and writes the default
// configuration. It refuses to reinitialize an existing repository.
func Init(root string) (*Config, error) {
	if IsRepository(root) {
		return nil, fmt.Errorf("already a papyrus repository: %s", root)
	}
	if err := os.MkdirAll(PDFPath(root), 0o755); err != nil {
		return nil, fmt.Errorf("creating repository layout: %w", err)
	}

	cfg := Default()
	if err := cfg.Save(root); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration of the repository at root, filling in
// defaults for anything unset.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the repository at root.
func (c *Config) Save(root string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(root), data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	for _, name := range c.SourceChain {
		if !knownSource(name) {
			return fmt.Errorf("unknown download source %q in source_chain", name)
		}
		if mirror, ok := mirrorName(name); ok {
			if _, configured := c.Mirrors[mirror]; !configured {
				return fmt.Errorf("source_chain names mirror %q but mirrors has no entry for it", mirror)
			}
		}
	}
	for service, interval := range c.RateIntervals {
		if interval <= 0 {
			return fmt.Errorf("rate interval for %q must be positive", service)
		}
	}
	for key, w := range c.Workers {
		if w.Interval <= 0 {
			return fmt.Errorf("worker %q interval must be positive", key)
		}
	}
	return nil
}

// RateInterval returns the configured spacing for a service, or the
// default.
func (c *Config) RateInterval(service string) time.Duration {
	if d, ok := c.RateIntervals[service]; ok {
		return d
	}
	return DefaultRateInterval
}

func knownSource(name string) bool {
	switch name {
	case "direct-doi", "open-access", "search-fallback":
		return true
	}
	_, ok := mirrorName(name)
	return ok
}

// mirrorName extracts the mirror key from a "mirror:<name>" source.
func mirrorName(source string) (string, bool) {
	const prefix = "mirror:"
	if len(source) > len(prefix) && source[:len(prefix)] == prefix {
		return source[len(prefix):], true
	}
	return "", false
}
