// Package config resolves atlasprep settings from a YAML file, ATLASPREP_*
// environment variables and command-line overrides, in that order, and
// remembers where each value came from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"atlasprep/internal/blob"
	"atlasprep/internal/core"
	"atlasprep/internal/persistence"
)

// EnvConfigPath names the config file when no path is given explicitly.
const EnvConfigPath = "ATLASPREP_CONFIG"

// ValueSource records which layer supplied a value.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
)

// ResolvedValue is one setting's final value plus its origin.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ReferenceConfig struct {
	Panel string `yaml:"panel"`
	Path  string `yaml:"path"`
}

type AlignmentConfig struct {
	MinOverlap int `yaml:"min_overlap"`
}

type CohortConfig struct {
	Column           string `yaml:"column"`
	DatasetAttribute string `yaml:"dataset_attribute"`
}

type StorageConfig struct {
	Driver persistence.Driver `yaml:"driver"`
	DSN    string             `yaml:"dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Config is the resolved configuration.
type Config struct {
	Reference ReferenceConfig `yaml:"reference"`
	Alignment AlignmentConfig `yaml:"alignment"`
	Cohort    CohortConfig    `yaml:"cohort"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      blob.Config     `yaml:"blob"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Path is the file that was read, if any.
	Path string `yaml:"-"`
	// Sources maps each key to the layer that set it.
	Sources map[string]ResolvedValue `yaml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Alignment: AlignmentConfig{MinOverlap: core.DefaultMinOverlap},
		Cohort: CohortConfig{
			Column:           core.DefaultCohortColumn,
			DatasetAttribute: core.DefaultDatasetAttribute,
		},
		Storage: StorageConfig{Driver: persistence.DriverSQLite, DSN: "atlasprep.db"},
		Blob:    blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./artifacts"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Options control Load.
type Options struct {
	// Path to a YAML file. Empty falls back to $ATLASPREP_CONFIG; a missing
	// file is only an error when the path was given explicitly.
	Path string
	// Overrides holds command-line values by key, e.g. "storage.driver".
	Overrides map[string]string
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load resolves defaults, the config file, the environment and overrides,
// then validates the result.
func Load(opts Options) (Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	cfg.Sources = make(map[string]ResolvedValue, len(fields))
	for _, f := range fields {
		cfg.Sources[f.key] = ResolvedValue{Value: f.get(&cfg), Source: SourceDefault, From: "built-in default"}
	}

	path, explicit := strings.TrimSpace(opts.Path), true
	if path == "" {
		path, explicit = strings.TrimSpace(getenv(EnvConfigPath)), false
	}
	if path != "" {
		if err := cfg.loadFile(path, explicit); err != nil {
			return cfg, err
		}
	}

	for _, f := range fields {
		env := f.env()
		if v := strings.TrimSpace(getenv(env)); v != "" {
			if err := cfg.set(f, v, SourceEnv, env); err != nil {
				return cfg, err
			}
		}
	}

	keys := make([]string, 0, len(opts.Overrides))
	for k := range opts.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := fieldByKey(k)
		if !ok {
			return cfg, fmt.Errorf("unknown config key %q", k)
		}
		if err := cfg.set(f, opts.Overrides[k], SourceCLI, "--"+k); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string, explicit bool) error {
	data, err := os.ReadFile(expandUserPath(path))
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.Path = path
	for _, f := range fields {
		if present(raw, strings.Split(f.key, ".")) {
			c.Sources[f.key] = ResolvedValue{Value: f.get(c), Source: SourceConfig, From: path}
		}
	}
	return nil
}

func (c *Config) set(f field, value string, source ValueSource, from string) error {
	if err := f.set(c, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s from %s: %w", f.key, from, err)
	}
	c.Sources[f.key] = ResolvedValue{Value: f.get(c), Source: source, From: from}
	return nil
}

// Source reports where key was set.
func (c Config) Source(key string) ResolvedValue { return c.Sources[key] }

// Validate normalizes values and rejects invalid combinations.
func (c *Config) Validate() error {
	c.Storage.Driver = persistence.Driver(strings.ToLower(string(c.Storage.Driver)))
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = persistence.DriverSQLite
	case persistence.DriverSQLite, persistence.DriverMemory, persistence.DriverPostgres:
	default:
		return fmt.Errorf("storage.driver %q: want memory, sqlite or postgres", c.Storage.Driver)
	}
	c.Blob.Driver = blob.Driver(strings.ToLower(string(c.Blob.Driver)))
	switch c.Blob.Driver {
	case "":
		c.Blob.Driver = blob.DriverFilesystem
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver %q: want fs, s3 or memory", c.Blob.Driver)
	}
	if c.Alignment.MinOverlap < 0 {
		return fmt.Errorf("alignment.min_overlap must not be negative, got %d", c.Alignment.MinOverlap)
	}
	if c.Alignment.MinOverlap == 0 {
		c.Alignment.MinOverlap = core.DefaultMinOverlap
	}
	if c.Cohort.Column == "" {
		c.Cohort.Column = core.DefaultCohortColumn
	}
	if c.Cohort.DatasetAttribute == "" {
		c.Cohort.DatasetAttribute = core.DefaultDatasetAttribute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	return nil
}

// Keys lists every settable key in a stable order.
func Keys() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.key
	}
	return out
}

// EnvName returns the environment variable that sets key.
func EnvName(key string) string {
	return "ATLASPREP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func present(raw map[string]any, path []string) bool {
	var cur any = raw
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return false
		}
		if cur, ok = m[p]; !ok {
			return false
		}
	}
	return true
}

func expandUserPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
