// Package config defines the configuration of the elector node.
//
// The configuration is read in layers: the default values, then the YAML file,
// then the ELECTOR_* environment variables, which can themselves come from a
// .env file. The flags of the command override the result.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.dedis.ch/elector/coordinator"
	"go.dedis.ch/elector/internal/retry"
	"go.dedis.ch/elector/ledger"
	"go.dedis.ch/elector/types"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

const (
	// LedgerNative runs the ledger in the process.
	LedgerNative = "native"

	// LedgerHTTP uses a remote ledger through its HTTP service.
	LedgerHTTP = "http"

	// CacheDisk keeps the local cache in the database of the data directory
	// so that it survives a restart.
	CacheDisk = "disk"

	// CacheMemory keeps the local cache in memory for the lifetime of the
	// process.
	CacheMemory = "memory"
)

// Names of the environment variables overriding the configuration file.
const (
	EnvDataDir        = "ELECTOR_DATA_DIR"
	EnvLedger         = "ELECTOR_LEDGER"
	EnvLedgerURL      = "ELECTOR_LEDGER_URL"
	EnvRetryAttempts  = "ELECTOR_RETRY_ATTEMPTS"
	EnvRetryDelay     = "ELECTOR_RETRY_DELAY"
	EnvReadTimeout    = "ELECTOR_READ_TIMEOUT"
	EnvMode           = "ELECTOR_MODE"
	EnvListen         = "ELECTOR_LISTEN"
	EnvMetrics        = "ELECTOR_METRICS"
	EnvTracingEnabled = "ELECTOR_TRACING"
	EnvCache          = "ELECTOR_CACHE"
)

// DefaultFile is the name of the configuration file in the data directory.
const DefaultFile = "elector.yaml"

// Config is the configuration of a node.
type Config struct {
	DataDir     string        `yaml:"dataDir"`
	Ledger      Ledger        `yaml:"ledger"`
	Cache       string        `yaml:"cache"`
	Retry       Retry         `yaml:"retry"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	Mode        string        `yaml:"mode"`
	Listen      string        `yaml:"listen"`
	Metrics     string        `yaml:"metrics"`
	Tracing     bool          `yaml:"tracing"`
}

// Ledger is the configuration of the ledger adapter.
type Ledger struct {
	Kind         string              `yaml:"kind"`
	URL          string              `yaml:"url"`
	Capabilities ledger.Capabilities `yaml:"capabilities"`
}

// Retry is the retry policy of the ledger operations.
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DataDir: ".elector",
		Ledger: Ledger{
			Kind:         LedgerNative,
			Capabilities: ledger.AllCapabilities(),
		},
		Cache: CacheDisk,
		Retry: Retry{
			Attempts: retry.Default.Attempts,
			Delay:    retry.Default.Delay,
		},
		ReadTimeout: 10 * time.Second,
		Mode:        coordinator.ModeLive.String(),
		Listen:      "127.0.0.1:8080",
	}
}

// Load returns the configuration of the file on top of the default values,
// with the environment overrides applied. The file is optional when the path
// is empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, xerrors.Errorf("failed to read config file: %v", err)
		}

		err = yaml.UnmarshalStrict(data, &cfg)
		if err != nil {
			return cfg, types.Validation("failed to unmarshal config: %v", err)
		}
	}

	err := cfg.applyEnv(os.LookupEnv)
	if err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// LoadEnv loads the variables of the .env files into the environment. Missing
// files are ignored and variables already set are kept.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}

		err = godotenv.Load(path)
		if err != nil {
			return xerrors.Errorf("failed to load env file '%s': %v", path, err)
		}
	}

	return nil
}

// Save writes the configuration to the file.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return xerrors.Errorf("failed to marshal config: %v", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return xerrors.Errorf("failed to write config file: %v", err)
	}

	return nil
}

// Validate checks the values of the configuration.
func (c Config) Validate() error {
	switch c.Ledger.Kind {
	case LedgerNative:
		if c.DataDir == "" {
			return types.Validation("a data directory is required by the native ledger")
		}
	case LedgerHTTP:
		if c.Ledger.URL == "" {
			return types.Validation("a ledger url is required by the http ledger")
		}
	default:
		return types.Validation("unknown ledger kind '%s'", c.Ledger.Kind)
	}

	if c.Cache != CacheDisk && c.Cache != CacheMemory {
		return types.Validation("unknown cache kind '%s'", c.Cache)
	}

	if c.Retry.Attempts < 1 {
		return types.Validation("at least one attempt is required")
	}

	if c.Retry.Delay < 0 || c.ReadTimeout < 0 {
		return types.Validation("negative durations are not allowed")
	}

	_, err := coordinator.ParseMode(c.Mode)
	if err != nil {
		return err
	}

	return nil
}

// Policy returns the retry policy of the configuration.
func (c Config) Policy() retry.Policy {
	return retry.Policy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
	}
}

// BackendMode returns the mode of the coordinator.
func (c Config) BackendMode() (coordinator.Mode, error) {
	return coordinator.ParseMode(c.Mode)
}

type lookupFn func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFn) error {
	texts := map[string]*string{
		EnvDataDir:   &c.DataDir,
		EnvLedger:    &c.Ledger.Kind,
		EnvLedgerURL: &c.Ledger.URL,
		EnvCache:     &c.Cache,
		EnvMode:      &c.Mode,
		EnvListen:    &c.Listen,
		EnvMetrics:   &c.Metrics,
	}

	for name, field := range texts {
		value, found := lookup(name)
		if found {
			*field = value
		}
	}

	durations := map[string]*time.Duration{
		EnvRetryDelay:  &c.Retry.Delay,
		EnvReadTimeout: &c.ReadTimeout,
	}

	for name, field := range durations {
		value, found := lookup(name)
		if !found {
			continue
		}

		d, err := time.ParseDuration(value)
		if err != nil {
			return types.Validation("invalid duration in %s: %v", name, err)
		}

		*field = d
	}

	value, found := lookup(EnvRetryAttempts)
	if found {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return types.Validation("invalid number in %s: %v", EnvRetryAttempts, err)
		}

		c.Retry.Attempts = attempts
	}

	value, found = lookup(EnvTracingEnabled)
	if found {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return types.Validation("invalid boolean in %s: %v", EnvTracingEnabled, err)
		}

		c.Tracing = enabled
	}

	return nil
}
