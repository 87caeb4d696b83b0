package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"gopkg.in/yaml.v3"
)

const envPrefix = "INSPECTOR_"

type Config struct {
	Region    string          `yaml:"region"`
	Provider  string          `yaml:"provider"`
	Limits    Limits          `yaml:"limits"`
	Logs      LogsConfig      `yaml:"logs"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Limits bounds the sizes callers may request.
type Limits struct {
	DefaultExecutions int `yaml:"default_executions"`
	MaxExecutions     int `yaml:"max_executions"`
	DefaultEvents     int `yaml:"default_events"`
	MaxEvents         int `yaml:"max_events"`
	DefaultLogLines   int `yaml:"default_log_lines"`
	MaxLogLines       int `yaml:"max_log_lines"`
}

type LogsConfig struct {
	Padding     time.Duration `yaml:"padding"`
	Concurrency int           `yaml:"concurrency"`
	// RatePerSecond throttles log queries; zero disables the throttle.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	// Endpoint is an OTLP/gRPC collector address. Empty disables export.
	Endpoint string `yaml:"endpoint"`
}

func Default() Config {
	return Config{
		Region:   firstNonEmpty(getenv(envPrefix+"REGION"), getenv("AWS_REGION"), getenv("AWS_DEFAULT_REGION")),
		Provider: "aws_stepfunctions",
		Limits: Limits{
			DefaultExecutions: 15,
			MaxExecutions:     50,
			DefaultEvents:     500,
			MaxEvents:         1000,
			DefaultLogLines:   200,
			MaxLogLines:       500,
		},
		Logs: LogsConfig{
			Padding:       2 * time.Minute,
			Concurrency:   4,
			RatePerSecond: 5,
			Burst:         5,
		},
		Cache: CacheConfig{
			TTL: time.Minute,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stepfunction-inspector",
		},
	}
}

// Load reads path over the defaults, then applies INSPECTOR_* environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := getenv(envPrefix + "REGION"); v != "" {
		cfg.Region = v
	}
	if v := getenv(envPrefix + "PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := getenv(envPrefix + "HTTP_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt(envPrefix + "HTTP_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v, ok := envDuration(envPrefix + "LOG_PADDING"); ok {
		cfg.Logs.Padding = v
	}
	if v, ok := envInt(envPrefix + "LOG_CONCURRENCY"); ok {
		cfg.Logs.Concurrency = v
	}
	if v := getenv(envPrefix + "LOG_RATE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Logs.RatePerSecond = parsed
		}
	}
	if v, ok := envDuration(envPrefix + "CACHE_TTL"); ok {
		cfg.Cache.TTL = v
	}
	if v := getenv(envPrefix + "OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}

	return cfg, nil
}

func Module(path string) fx.Option {
	return fx.Provide(func() (Config, error) {
		return Load(path)
	})
}

// Executions clamps a requested execution count. Zero selects the default.
func (l Limits) Executions(n int) int {
	return clamp(n, l.DefaultExecutions, l.MaxExecutions)
}

// Events clamps a requested history event count. Zero selects the default.
func (l Limits) Events(n int) int {
	return clamp(n, l.DefaultEvents, l.MaxEvents)
}

// LogLines clamps a requested log line budget. Zero selects the default.
func (l Limits) LogLines(n int) int {
	return clamp(n, l.DefaultLogLines, l.MaxLogLines)
}

func clamp(n, def, ceiling int) int {
	if n == 0 {
		n = def
	}
	if n < 1 {
		return 1
	}
	if ceiling > 0 && n > ceiling {
		return ceiling
	}
	return n
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(v)
	return parsed, err == nil
}

func envDuration(key string) (time.Duration, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	parsed, err := time.ParseDuration(v)
	return parsed, err == nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
