package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by engine.backend.
const (
	BackendSQLite = "sqlite"
	BackendBleve  = "bleve"
)

// ProjectConfigName is the project-level config file looked up in the working directory.
const ProjectConfigName = "relindex.yaml"

// Config represents the complete relindex configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Indexes   IndexesConfig   `yaml:"indexes" json:"indexes"`
	Engine    EngineConfig    `yaml:"engine" json:"engine"`
	Catalog   CatalogConfig   `yaml:"catalog" json:"catalog"`
	Filter    FilterConfig    `yaml:"filter" json:"filter"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	LogLevel  string          `yaml:"log_level" json:"log_level"`
}

// IndexesConfig names the two configured index projections.
// Any other index name is rejected as unsupported.
type IndexesConfig struct {
	Releases string `yaml:"releases" json:"releases"`
	Predb    string `yaml:"predb" json:"predb"`
}

// Names returns the configured index names in a fixed order (releases, predb).
func (c IndexesConfig) Names() []string {
	return []string{c.Releases, c.Predb}
}

// Supports reports whether name is one of the configured indexes.
func (c IndexesConfig) Supports(name string) bool {
	return name != "" && (name == c.Releases || name == c.Predb)
}

// EngineConfig configures the full-text index service.
type EngineConfig struct {
	// Backend selects the index backend: "sqlite" (FTS5, default) or "bleve".
	Backend string `yaml:"backend" json:"backend"`
	// DataDir holds the index files. Empty means in-memory (tests only).
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Timeout bounds every transport call. Zero disables the bound.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// CatalogConfig locates the canonical release catalog.
type CatalogConfig struct {
	Path string `yaml:"path" json:"path"`
}

// FilterConfig configures the quality sweep.
type FilterConfig struct {
	// Workers is the number of concurrent rule evaluators.
	Workers int `yaml:"workers" json:"workers"`
	// BatchSize is the number of catalog rows pulled per scan step.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Blacklist holds extra regexes applied by the blacklist rule in
	// addition to the catalog's active binaryblacklist rows.
	Blacklist  []string         `yaml:"blacklist" json:"blacklist"`
	Categories CategoriesConfig `yaml:"categories" json:"categories"`
}

// CategoriesConfig holds the category ids some rules depend on.
type CategoriesConfig struct {
	// X264 lists the category ids the wmv rule applies to.
	X264 []int `yaml:"x264" json:"x264"`
	// SizeExemptRoots lists root categories (multiples of 1000) the size
	// rule never removes from. Defaults to audio (3000) and books (7000).
	SizeExemptRoots []int `yaml:"size_exempt_roots" json:"size_exempt_roots"`
}

// TelemetryConfig configures metric export for batch runs.
type TelemetryConfig struct {
	// Textfile, when set, receives Prometheus metrics in text exposition
	// format after each command (node_exporter textfile collector).
	Textfile string `yaml:"textfile" json:"textfile"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Indexes: IndexesConfig{
			Releases: "releases_rt",
			Predb:    "predb_rt",
		},
		Engine: EngineConfig{
			Backend: BackendSQLite,
			DataDir: filepath.Join(defaultHome(), "index"),
			Timeout: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Path: filepath.Join(defaultHome(), "catalog.db"),
		},
		Filter: FilterConfig{
			Workers:   runtime.NumCPU(),
			BatchSize: 1000,
			Categories: CategoriesConfig{
				X264:            []int{2040},
				SizeExemptRoots: []int{3000, 7000},
			},
		},
		LogLevel: "info",
	}
}

// defaultHome returns ~/.relindex, or a temp-dir fallback.
func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".relindex")
	}
	return filepath.Join(home, ".relindex")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/relindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/relindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "relindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "relindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "relindex", "config.yaml")
}

// Load loads configuration with increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/relindex/config.yaml)
//  3. Project config (relindex.yaml in dir), or explicit when non-empty
//  4. Environment variables (RELINDEX_*)
func Load(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	switch {
	case explicit != "":
		if !fileExists(explicit) {
			return nil, fmt.Errorf("config file not found: %s", explicit)
		}
		if err := cfg.loadYAML(explicit); err != nil {
			return nil, err
		}
	case dir != "":
		if p := filepath.Join(dir, ProjectConfigName); fileExists(p) {
			if err := cfg.loadYAML(p); err != nil {
				return nil, err
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Indexes.Releases != "" {
		c.Indexes.Releases = other.Indexes.Releases
	}
	if other.Indexes.Predb != "" {
		c.Indexes.Predb = other.Indexes.Predb
	}

	if other.Engine.Backend != "" {
		c.Engine.Backend = other.Engine.Backend
	}
	if other.Engine.DataDir != "" {
		c.Engine.DataDir = expandHome(other.Engine.DataDir)
	}
	if other.Engine.Timeout != 0 {
		c.Engine.Timeout = other.Engine.Timeout
	}

	if other.Catalog.Path != "" {
		c.Catalog.Path = expandHome(other.Catalog.Path)
	}

	if other.Filter.Workers != 0 {
		c.Filter.Workers = other.Filter.Workers
	}
	if other.Filter.BatchSize != 0 {
		c.Filter.BatchSize = other.Filter.BatchSize
	}
	if len(other.Filter.Blacklist) > 0 {
		c.Filter.Blacklist = other.Filter.Blacklist
	}
	if len(other.Filter.Categories.X264) > 0 {
		c.Filter.Categories.X264 = other.Filter.Categories.X264
	}
	if len(other.Filter.Categories.SizeExemptRoots) > 0 {
		c.Filter.Categories.SizeExemptRoots = other.Filter.Categories.SizeExemptRoots
	}

	if other.Telemetry.Textfile != "" {
		c.Telemetry.Textfile = expandHome(other.Telemetry.Textfile)
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies RELINDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RELINDEX_BACKEND"); v != "" {
		c.Engine.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RELINDEX_DATA_DIR"); v != "" {
		c.Engine.DataDir = expandHome(v)
	}
	if v := os.Getenv("RELINDEX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.Engine.Timeout = d
		}
	}
	if v := os.Getenv("RELINDEX_CATALOG"); v != "" {
		c.Catalog.Path = expandHome(v)
	}
	if v := os.Getenv("RELINDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Filter.Workers = n
		}
	}
	if v := os.Getenv("RELINDEX_METRICS_TEXTFILE"); v != "" {
		c.Telemetry.Textfile = expandHome(v)
	}
	if v := os.Getenv("RELINDEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

var indexNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	for _, name := range c.Indexes.Names() {
		if !indexNamePattern.MatchString(name) {
			return fmt.Errorf("index names must be identifiers ([A-Za-z_][A-Za-z0-9_]*), got %q", name)
		}
	}
	if c.Indexes.Releases == c.Indexes.Predb {
		return fmt.Errorf("indexes.releases and indexes.predb must differ, both are %q", c.Indexes.Releases)
	}

	switch strings.ToLower(c.Engine.Backend) {
	case BackendSQLite, BackendBleve:
	default:
		return fmt.Errorf("engine.backend must be 'sqlite' or 'bleve', got %s", c.Engine.Backend)
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("engine.timeout must be non-negative, got %s", c.Engine.Timeout)
	}

	if c.Filter.Workers < 1 {
		return fmt.Errorf("filter.workers must be at least 1, got %d", c.Filter.Workers)
	}
	if c.Filter.BatchSize < 1 {
		return fmt.Errorf("filter.batch_size must be at least 1, got %d", c.Filter.BatchSize)
	}
	for _, p := range c.Filter.Blacklist {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("filter.blacklist pattern %q: %w", p, err)
		}
	}
	for _, root := range c.Filter.Categories.SizeExemptRoots {
		if root%1000 != 0 {
			return fmt.Errorf("filter.categories.size_exempt_roots must be multiples of 1000, got %d", root)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
