// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jeremymoreau/covid19mtl/models"
)

type FetchConfig struct {
	Retries           int           `yaml:"retries"`
	TimeoutStr        string        `yaml:"timeout"`
	BaseDelayStr      string        `yaml:"base_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"-"` // Parsed duration
	BaseDelay         time.Duration `yaml:"-"` // Parsed duration
}

type MergeConfig struct {
	// Lookback is how many recent committed rows a new day is compared with.
	Lookback int `yaml:"lookback"`
}

type SourcesConfig struct {
	MTL   []models.Resource `yaml:"mtl"`
	INSPQ []models.Resource `yaml:"inspq"`
	QC    []models.Resource `yaml:"qc"`
}

type SelectorsConfig struct {
	MTLDate      string `yaml:"mtl_date"`
	MTLNewCases  string `yaml:"mtl_new_cases"`
	QCSourceLine string `yaml:"qc_source_line"`
}

// Population is a fixed, hand-maintained population of one entity. Source is
// the upstream row label when it differs from Name.
type Population struct {
	Name       string  `yaml:"name"`
	Source     string  `yaml:"source,omitempty"`
	Population float64 `yaml:"population"`
}

type PopulationsConfig struct {
	Boroughs  []Population `yaml:"boroughs"`
	AgeGroups []Population `yaml:"age_groups"`
	MTL       float64      `yaml:"mtl"`
	QC        float64      `yaml:"qc"`
}

type PollConfig struct {
	IntervalStr string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"` // Parsed duration
	// MaxAttempts bounds the cycles of one --poll invocation. 0 polls until interrupted.
	MaxAttempts int `yaml:"max_attempts"`
}

type LockConfig struct {
	TTLStr string        `yaml:"ttl"`
	TTL    time.Duration `yaml:"-"` // Parsed duration
}

type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is everything a refresh needs. It is loaded once and passed down;
// nothing reads it from a package variable.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Timezone    string            `yaml:"timezone"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Merge       MergeConfig       `yaml:"merge"`
	Sources     SourcesConfig     `yaml:"sources"`
	Selectors   SelectorsConfig   `yaml:"selectors"`
	Populations PopulationsConfig `yaml:"populations"`
	Poll        PollConfig        `yaml:"poll"`
	Lock        LockConfig        `yaml:"lock"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Server      ServerConfig      `yaml:"server"`

	location *time.Location
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then .env and process environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("REFRESHDATA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("REFRESHDATA_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("REFRESHDATA_LEDGER_DSN"); v != "" {
		c.Ledger.DSN = v
	}
	if v := os.Getenv("REFRESHDATA_FETCH_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REFRESHDATA_FETCH_RETRIES: %w", err)
		}
		c.Fetch.Retries = n
	}
	return nil
}

// finish parses durations, loads the timezone and validates the result.
func (c *Config) finish() error {
	var err error
	if c.Fetch.Timeout, err = parseDuration("fetch.timeout", c.Fetch.TimeoutStr, 30*time.Second); err != nil {
		return err
	}
	if c.Fetch.BaseDelay, err = parseDuration("fetch.base_delay", c.Fetch.BaseDelayStr, 2*time.Second); err != nil {
		return err
	}
	if c.Poll.Interval, err = parseDuration("poll.interval", c.Poll.IntervalStr, 15*time.Minute); err != nil {
		return err
	}
	if c.Lock.TTL, err = parseDuration("lock.ttl", c.Lock.TTLStr, 2*time.Hour); err != nil {
		return err
	}
	if c.location, err = time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	return c.Validate()
}

func parseDuration(name, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return d, nil
}

// Validate checks the values the pipeline relies on.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.Fetch.Retries < 1 {
		return fmt.Errorf("fetch.retries must be at least 1, got %d", c.Fetch.Retries)
	}
	if c.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.max_attempts must not be negative, got %d", c.Poll.MaxAttempts)
	}
	if c.Merge.Lookback < 1 {
		return fmt.Errorf("merge.lookback must be at least 1, got %d", c.Merge.Lookback)
	}
	for _, f := range models.Families {
		seen := make(map[string]bool)
		for _, r := range c.Resources(f) {
			if r.Name == "" || r.URL == "" {
				return fmt.Errorf("sources.%s: resource needs a name and a url", f)
			}
			if seen[r.Name] {
				return fmt.Errorf("sources.%s: duplicate resource %q", f, r.Name)
			}
			seen[r.Name] = true
		}
	}
	for _, p := range append(append([]Population{}, c.Populations.Boroughs...), c.Populations.AgeGroups...) {
		if p.Population <= 0 {
			return fmt.Errorf("population of %q must be positive", p.Name)
		}
	}
	if c.Populations.MTL <= 0 || c.Populations.QC <= 0 {
		return errors.New("populations.mtl and populations.qc must be positive")
	}
	return nil
}

// Resources returns the configured resources of a family.
func (c *Config) Resources(f models.Family) []models.Resource {
	switch f {
	case models.FamilyMTL:
		return c.Sources.MTL
	case models.FamilyINSPQ:
		return c.Sources.INSPQ
	case models.FamilyQC:
		return c.Sources.QC
	}
	return nil
}

// Source returns a family with its resources.
func (c *Config) Source(f models.Family) models.Source {
	return models.Source{Family: f, Resources: c.Resources(f)}
}

// Location is the timezone that defines "yesterday".
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *Config) SourcesDir() string   { return filepath.Join(c.DataDir, "sources") }
func (c *Config) ProcessedDir() string { return filepath.Join(c.DataDir, "processed") }
func (c *Config) BackupsDir() string   { return filepath.Join(c.DataDir, "processed_backups") }
func (c *Config) LockPath() string     { return filepath.Join(c.DataDir, ".refreshdata.lock") }
