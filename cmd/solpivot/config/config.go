// Package config loads the solpivot run configuration.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file (--config, or solpivot.yaml in . or ./config), SOLPIVOT_*
// environment variables (nested keys joined by "_", e.g.
// SOLPIVOT_BRIDGE_ADDRESS), and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/HatiCode/solpivot/pkg/errlog"
	"github.com/HatiCode/solpivot/pkg/query"
	"github.com/HatiCode/solpivot/pkg/window"
)

// Config holds everything a run needs.
type Config struct {
	InputDir       string        `mapstructure:"input_dir"`
	OutputDir      string        `mapstructure:"output_dir"`
	Scenarios      []string      `mapstructure:"scenarios"`
	Period         string        `mapstructure:"period"`
	Chunk          string        `mapstructure:"chunk"`
	Collections    []string      `mapstructure:"collections"`
	Parallel       bool          `mapstructure:"parallel"`
	Workers        int           `mapstructure:"workers"`
	WorkerFraction float64       `mapstructure:"worker_fraction"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	ErrorLog       string        `mapstructure:"error_log"`
	Catalog        string        `mapstructure:"catalog"`

	Bridge      BridgeConfig      `mapstructure:"bridge"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
	Consolidate ConsolidateConfig `mapstructure:"consolidate"`
}

// BridgeConfig selects the engine query bridge.
type BridgeConfig struct {
	Transport string        `mapstructure:"transport"` // http or grpc
	Address   string        `mapstructure:"address"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (b BridgeConfig) Validate() error {
	switch b.Transport {
	case "http", "grpc":
	default:
		return fmt.Errorf("bridge.transport must be http or grpc, got %q", b.Transport)
	}
	if strings.TrimSpace(b.Address) == "" {
		return errors.New("bridge.address is required")
	}
	if b.Timeout <= 0 {
		return errors.New("bridge.timeout must be positive")
	}
	return nil
}

// JournalConfig selects where run outcomes are recorded.
type JournalConfig struct {
	Driver string `mapstructure:"driver"` // memory or sqlite
	Path   string `mapstructure:"path"`
}

func (j JournalConfig) Validate() error {
	switch j.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(j.Path) == "" {
			return errors.New("journal.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("journal.driver must be memory or sqlite, got %q", j.Driver)
	}
	return nil
}

// MetricsConfig controls how run metrics are exposed. Both are optional.
type MetricsConfig struct {
	Listen   string `mapstructure:"listen"`
	Textfile string `mapstructure:"textfile"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (l LogConfig) Validate() error {
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}

// ConsolidateConfig controls the post-extraction merge of addendum datasets.
type ConsolidateConfig struct {
	Markers []string `mapstructure:"markers"`
	Skip    bool     `mapstructure:"skip"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"input-dir":      "input_dir",
	"output-dir":     "output_dir",
	"scenario":       "scenarios",
	"period":         "period",
	"chunk":          "chunk",
	"collection":     "collections",
	"parallel":       "parallel",
	"workers":        "workers",
	"query-timeout":  "query_timeout",
	"error-log":      "error_log",
	"catalog":        "catalog",
	"bridge":         "bridge.address",
	"transport":      "bridge.transport",
	"journal":        "journal.path",
	"metrics-listen": "metrics.listen",
	"no-consolidate": "consolidate.skip",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input_dir", ".")
	v.SetDefault("output_dir", "output")
	v.SetDefault("period", string(query.Interval))
	v.SetDefault("chunk", string(window.Yearly))
	v.SetDefault("parallel", false)
	v.SetDefault("workers", 0)
	v.SetDefault("worker_fraction", 0.75)
	v.SetDefault("query_timeout", 30*time.Minute)
	v.SetDefault("error_log", errlog.DefaultFile)
	v.SetDefault("bridge.transport", "http")
	v.SetDefault("bridge.address", "http://localhost:8090")
	v.SetDefault("bridge.timeout", 60*time.Minute)
	v.SetDefault("journal.driver", "memory")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("consolidate.skip", false)

	// registered so AutomaticEnv can see them
	for _, key := range []string{"catalog", "journal.path", "metrics.listen", "metrics.textfile"} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{"scenarios", "collections", "consolidate.markers"} {
		v.SetDefault(key, []string{})
	}
}

// Load reads the configuration. path may be empty to search the default
// locations; a missing default file is not an error. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("solpivot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("SOLPIVOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section and normalizes the period and chunk spellings.
// A journal path with the memory driver switches the driver to sqlite.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output_dir is required")
	}
	if strings.TrimSpace(c.InputDir) == "" {
		return errors.New("input_dir is required")
	}

	p, err := query.ParsePeriod(c.Period)
	if err != nil {
		return fmt.Errorf("period: %w", err)
	}
	c.Period = string(p)

	g, err := window.ParseGranularity(c.Chunk)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}
	c.Chunk = string(g)

	if c.Workers < 0 {
		return errors.New("workers cannot be negative")
	}
	if c.WorkerFraction <= 0 || c.WorkerFraction > 1 {
		return fmt.Errorf("worker_fraction must be in (0, 1], got %v", c.WorkerFraction)
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query_timeout must be positive")
	}

	if err := c.Bridge.Validate(); err != nil {
		return err
	}
	// a journal path on its own selects the sqlite driver
	if c.Journal.Driver == "memory" && strings.TrimSpace(c.Journal.Path) != "" {
		c.Journal.Driver = "sqlite"
	}
	if err := c.Journal.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// PeriodValue returns the validated period.
func (c *Config) PeriodValue() query.Period {
	return query.Period(c.Period)
}

// ChunkValue returns the validated chunk granularity.
func (c *Config) ChunkValue() window.Granularity {
	return window.Granularity(c.Chunk)
}
