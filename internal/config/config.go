package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/corrscan/internal/models"
	"github.com/miradorstack/corrscan/internal/utils"
)

// Config captures every setting the CLI and the gRPC service need.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Cache    CacheConfig    `yaml:"cache"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
	Server   ServerConfig   `yaml:"server"`
	Watch    WatchConfig    `yaml:"watch"`
}

// DataConfig locates the input datasets and their column mapping file.
type DataConfig struct {
	Dir       string `yaml:"dir" validate:"required"`
	ColumnMap string `yaml:"columnMap" validate:"required"`
}

// AnalysisConfig holds the correlation parameters and pool size.
type AnalysisConfig struct {
	WindowSize int     `yaml:"windowSize" validate:"gt=0"`
	Threshold  float64 `yaml:"threshold" validate:"gte=-1,lte=1"`
	Workers    int     `yaml:"workers" validate:"gte=0"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=fs badger memory none"`
	Dir     string        `yaml:"dir" validate:"required_if=Backend fs,required_if=Backend badger"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// OutputConfig controls reports and plots.
type OutputConfig struct {
	Dir   string `yaml:"dir"`
	Plot  bool   `yaml:"plot"`
	Merge bool   `yaml:"merge"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" validate:"gte=0"`
}

// WatchConfig controls re-analysis on input changes.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// Parameters returns the analysis parameters described by the config.
func (c *Config) Parameters() models.AnalysisParameters {
	return models.AnalysisParameters{WindowSize: c.Analysis.WindowSize, Threshold: c.Analysis.Threshold}
}

// Load initialises Config from a YAML file and optional environment overrides, then
// validates it. Any problem is reported as a configuration error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CORRSCAN_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, utils.ConfigError("config.Load", fmt.Sprintf("config file %s not found", path), err)
			}
			return nil, utils.ConfigError("config.Load", "read config", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, utils.ConfigError("config.Load", "parse config", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints. Callers that mutate a loaded Config (CLI flags)
// should validate again.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return utils.ConfigError("config.Validate", strings.Join(problems, "; "), err)
		}
		return utils.ConfigError("config.Validate", "invalid config", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in configuration without reading files or the environment.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Data: DataConfig{
			Dir:       "data",
			ColumnMap: "column_map.json",
		},
		Analysis: AnalysisConfig{
			WindowSize: models.DefaultWindowSize,
			Threshold:  models.DefaultThreshold,
		},
		Cache: CacheConfig{
			Backend: "fs",
			Dir:     "cache",
		},
		Output:  OutputConfig{Dir: "output"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Watch: WatchConfig{Debounce: 2 * time.Second},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORRSCAN_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("CORRSCAN_COLUMN_MAP"); v != "" {
		cfg.Data.ColumnMap = v
	}
	if v := os.Getenv("CORRSCAN_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.WindowSize = n
		}
	}
	if v := os.Getenv("CORRSCAN_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Analysis.Threshold = f
		}
	}
	if v := os.Getenv("CORRSCAN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.Workers = n
		}
	}
	if v := os.Getenv("CORRSCAN_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("CORRSCAN_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("CORRSCAN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("CORRSCAN_OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("CORRSCAN_PLOT"); v != "" {
		cfg.Output.Plot = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CORRSCAN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("CORRSCAN_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("CORRSCAN_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("CORRSCAN_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("CORRSCAN_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watch.Debounce = d
		}
	}
}
