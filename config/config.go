// Package config loads service configuration from defaults, an optional YAML
// file and SICOMORE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/Sicomore-Engine/api"
	"github.com/VanDung-dev/Sicomore-Engine/engine"
	"github.com/VanDung-dev/Sicomore-Engine/hierarchy"
	"github.com/VanDung-dev/Sicomore-Engine/penalized"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SICOMORE"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server" envconfig:"SERVER"`
	ZMQ     ZMQConfig      `yaml:"zmq" envconfig:"ZMQ"`
	Metrics MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Auth    api.AuthConfig `yaml:"auth" envconfig:"AUTH"`
	Fit     FitConfig      `yaml:"fit" envconfig:"FIT"`
	Log     LogConfig      `yaml:"log" envconfig:"LOG"`
}

// ServerConfig configures the Arrow TCP server and the shared engine.
type ServerConfig struct {
	Address         string        `yaml:"address" envconfig:"ADDRESS"`
	Workers         int           `yaml:"workers" envconfig:"WORKERS"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// ZMQConfig configures the optional ZeroMQ node.
type ZMQConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	NodeID    string `yaml:"node_id" envconfig:"NODE_ID"`
	Host      string `yaml:"host" envconfig:"HOST"`
	Port      int    `yaml:"port" envconfig:"PORT"`
	Workers   int    `yaml:"workers" envconfig:"WORKERS"`
	QueueSize int    `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Namespace string `yaml:"namespace" envconfig:"NAMESPACE"`
}

// FitConfig holds the fit defaults that requests override.
type FitConfig struct {
	Selection   string  `yaml:"selection" envconfig:"SELECTION"`
	Choice      string  `yaml:"choice" envconfig:"CHOICE"`
	Compression string  `yaml:"compression" envconfig:"COMPRESSION"`
	Distance    string  `yaml:"distance" envconfig:"DISTANCE"`
	Linkage     string  `yaml:"linkage" envconfig:"LINKAGE"`
	Standardize bool    `yaml:"standardize" envconfig:"STANDARDIZE"`
	Folds       int     `yaml:"folds" envconfig:"FOLDS"`
	Seed        int64   `yaml:"seed" envconfig:"SEED"`
	NLambda     int     `yaml:"nlambda" envconfig:"NLAMBDA"`
	LambdaRatio float64 `yaml:"lambda_ratio" envconfig:"LAMBDA_RATIO"`
	Parallelism int     `yaml:"parallelism" envconfig:"PARALLELISM"`
	MaxLevels   int     `yaml:"max_levels" envconfig:"MAX_LEVELS"`
	MainEffects bool    `yaml:"main_effects" envconfig:"MAIN_EFFECTS"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" envconfig:"LEVEL"`
	// Format is json or console
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	fit := engine.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Address:         ":9090",
			RequestTimeout:  10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		ZMQ: ZMQConfig{
			NodeID:    "sicomore-1",
			Host:      "127.0.0.1",
			Port:      5555,
			Workers:   2,
			QueueSize: 64,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   ":2112",
			Namespace: "sicomore",
		},
		Fit: FitConfig{
			Selection:   string(fit.Selection),
			Choice:      string(fit.Choice),
			Compression: string(fit.Compression),
			Distance:    string(fit.Hierarchy.Distance),
			Linkage:     string(fit.Hierarchy.Linkage),
			Standardize: fit.Hierarchy.Standardize,
			Folds:       fit.CV.Folds,
			Seed:        fit.CV.Seed,
			NLambda:     fit.CV.NLambda,
			LambdaRatio: fit.CV.LambdaRatio,
			Parallelism: fit.CV.Parallelism,
			MaxLevels:   fit.MaxLevels,
			MainEffects: fit.MainEffects,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty or the file does not exist) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks addresses, sizes and fit options.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("server.workers must be >= 0, got %d", c.Server.Workers))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be >= 0, got %s", c.Server.RequestTimeout))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be >= 0, got %s", c.Server.ShutdownTimeout))
	}
	if c.ZMQ.Enabled {
		if c.ZMQ.Port < 0 || c.ZMQ.Port > 65535 {
			errs = append(errs, fmt.Errorf("zmq.port out of range: %d", c.ZMQ.Port))
		}
		if c.ZMQ.NodeID == "" {
			errs = append(errs, errors.New("zmq.node_id is required"))
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required"))
	}
	if _, err := c.Fit.EngineConfig(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// EngineConfig converts the fit defaults into an engine configuration.
func (f FitConfig) EngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	var err error

	if cfg.Selection, err = engine.ParseSelection(f.Selection); err != nil {
		return cfg, fmt.Errorf("fit.selection: %w", err)
	}
	if cfg.Choice, err = penalized.ParseChoice(f.Choice); err != nil {
		return cfg, fmt.Errorf("fit.choice: %w", err)
	}
	if cfg.Compression, err = engine.ParseCompression(f.Compression); err != nil {
		return cfg, fmt.Errorf("fit.compression: %w", err)
	}
	if cfg.Hierarchy.Distance, err = hierarchy.ParseDistance(f.Distance); err != nil {
		return cfg, fmt.Errorf("fit.distance: %w", err)
	}
	if cfg.Hierarchy.Linkage, err = hierarchy.ParseLinkage(f.Linkage); err != nil {
		return cfg, fmt.Errorf("fit.linkage: %w", err)
	}
	if f.Folds < 0 || f.NLambda < 0 || f.MaxLevels < 0 || f.Parallelism < 0 {
		return cfg, errors.New("fit: folds, nlambda, max_levels and parallelism must be >= 0")
	}
	if f.LambdaRatio < 0 || f.LambdaRatio >= 1 {
		return cfg, fmt.Errorf("fit.lambda_ratio must be in [0, 1), got %g", f.LambdaRatio)
	}

	cfg.Hierarchy.Standardize = f.Standardize
	cfg.CV.Folds = f.Folds
	cfg.CV.Seed = f.Seed
	cfg.CV.NLambda = f.NLambda
	cfg.CV.LambdaRatio = f.LambdaRatio
	cfg.CV.Parallelism = f.Parallelism
	cfg.MaxLevels = f.MaxLevels
	cfg.MainEffects = f.MainEffects
	return cfg, nil
}
