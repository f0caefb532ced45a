package config

import (
	"errors"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	cdsterrors "github.com/pathdx/cdst-go/pkg/errors"
)

// Config represents the complete configuration for the optimization core.
// Values come from the environment; an optional YAML file may overlay
// them for deployments that prefer files over process environments.
type Config struct {
	Environment string `env:"CDST_ENVIRONMENT" envDefault:"development" yaml:"environment"`

	// Testing selects the reduced optimization profile used by test
	// deployments (small population, short timeout).
	Testing bool `env:"CDST_TESTING" envDefault:"false" yaml:"testing"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO" yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR FATAL"`

	Optimization OptimizationConfig `envPrefix:"OPTIMIZATION_" yaml:"optimization"`
	Routing      RoutingConfig      `envPrefix:"ROUTING_" yaml:"routing"`
	Cache        CacheConfig        `envPrefix:"CACHE_" yaml:"cache"`
	Storage      StorageConfig      `envPrefix:"STORAGE_" yaml:"storage"`
}

// OptimizationConfig holds solver and scheduler knobs.
type OptimizationConfig struct {
	PopulationSize     int           `env:"POPULATION_SIZE" envDefault:"200" yaml:"population_size" validate:"gt=1"`
	MaxGenerations     int           `env:"MAX_GENERATIONS" envDefault:"500" yaml:"max_generations" validate:"gt=0"`
	Timeout            time.Duration `env:"TIMEOUT" envDefault:"900s" yaml:"timeout" validate:"gt=0"`
	MaxConcurrent      int           `env:"MAX_CONCURRENT" envDefault:"4" yaml:"max_concurrent" validate:"gt=0"`
	UserMaxConcurrent  int           `env:"USER_MAX_CONCURRENT" envDefault:"3" yaml:"user_max_concurrent" validate:"gt=0"`
	CheckpointInterval int           `env:"CHECKPOINT_INTERVAL" envDefault:"50" yaml:"checkpoint_interval" validate:"gt=0"`
	EvalWorkers        int           `env:"EVAL_WORKERS" envDefault:"0" yaml:"eval_workers" validate:"gte=0"` // 0 = min(cores, 8)

	Weights WeightsConfig `envPrefix:"WEIGHT_" yaml:"weights"`
}

// WeightsConfig holds the default objective weights. They must sum to 1.
type WeightsConfig struct {
	Distance      float64 `env:"DISTANCE" envDefault:"0.25" yaml:"distance" validate:"gte=0,lte=1"`
	Time          float64 `env:"TIME" envDefault:"0.20" yaml:"time" validate:"gte=0,lte=1"`
	Cost          float64 `env:"COST" envDefault:"0.25" yaml:"cost" validate:"gte=0,lte=1"`
	Utilization   float64 `env:"UTILIZATION" envDefault:"0.15" yaml:"utilization" validate:"gte=0,lte=1"`
	Accessibility float64 `env:"ACCESSIBILITY" envDefault:"0.15" yaml:"accessibility" validate:"gte=0,lte=1"`
}

// Vector returns the weights in objective order.
func (w WeightsConfig) Vector() [5]float64 {
	return [5]float64{w.Distance, w.Time, w.Cost, w.Utilization, w.Accessibility}
}

// RoutingConfig holds the external routing endpoint settings.
type RoutingConfig struct {
	BaseURL       string        `env:"BASE_URL" envDefault:"http://router.project-osrm.org" yaml:"base_url" validate:"required,url"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s" yaml:"timeout" validate:"gt=0"`
	MaxConcurrent int           `env:"MAX_CONCURRENT" envDefault:"8" yaml:"max_concurrent" validate:"gt=0"`
	FallbackSpeed float64       `env:"FALLBACK_SPEED_KMH" envDefault:"40" yaml:"fallback_speed_kmh" validate:"gt=0"`
}

// CacheConfig holds the process-wide route cache settings.
type CacheConfig struct {
	TTLHours        int           `env:"TTL_HOURS" envDefault:"24" yaml:"ttl_hours" validate:"gt=0"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"6h" yaml:"cleanup_interval" validate:"gt=0"`
}

// StorageConfig holds checkpoint and result store locations.
type StorageConfig struct {
	CheckpointPath string `env:"CHECKPOINT_PATH" envDefault:"cdst_checkpoints.db" yaml:"checkpoint_path" validate:"required"`
	ResultPath     string `env:"RESULT_PATH" envDefault:"cdst_results.db" yaml:"result_path" validate:"required"`
}

// Load parses configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		aggErr := env.AggregateError{}
		if ok := errors.As(err, &aggErr); ok {
			// Only return the first error to keep logs readable
			return nil, cdsterrors.Wrap(aggErr.Errors[0], cdsterrors.ValidationFailed, "failed to parse environment")
		}
		return nil, cdsterrors.Wrap(err, cdsterrors.ValidationFailed, "failed to parse environment")
	}

	if cfg.Testing {
		cfg.applyTestProfile()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile parses environment configuration, then overlays the YAML
// file at path on top of it.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, cdsterrors.Wrap(err, cdsterrors.ValidationFailed, "failed to parse environment")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cdsterrors.Wrap(err, cdsterrors.ResourceNotFound, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, cdsterrors.Wrap(err, cdsterrors.ValidationFailed, "failed to parse config file")
	}

	if cfg.Testing {
		cfg.applyTestProfile()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyTestProfile shrinks the optimization knobs so test deployments
// finish in seconds rather than minutes.
func (c *Config) applyTestProfile() {
	c.Optimization.PopulationSize = 20
	c.Optimization.MaxGenerations = 50
	c.Optimization.Timeout = 30 * time.Second
}

// weightsSumOK verifies the weight simplex constraint to within 1e-6.
func weightsSumOK(w WeightsConfig) bool {
	sum := w.Distance + w.Time + w.Cost + w.Utilization + w.Accessibility
	return math.Abs(sum-1.0) <= 1e-6
}
