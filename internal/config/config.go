// Package config loads process configuration from defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigFileEnvVar names the optional YAML file to load.
const ConfigFileEnvVar = "CONFIG_FILE"

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	Port     int           `koanf:"port"`
	LogLevel string        `koanf:"log_level"`
	TMDB     TMDBConfig    `koanf:"tmdb"`
	OpenAI   OpenAIConfig  `koanf:"openai"`
	Params   ParamsConfig  `koanf:"params"`
	Cache    CacheConfig   `koanf:"cache"`
	State    StateConfig   `koanf:"state"`
	Router   RouterConfig  `koanf:"router"`
	HTTP     HTTPConfig    `koanf:"http"`
	Tracing  TracingConfig `koanf:"tracing"`
	Lambda   LambdaConfig  `koanf:"lambda"`
}

type TMDBConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type OpenAIConfig struct {
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
}

// ParamsConfig points at SSM parameters holding credentials that are not set
// directly.
type ParamsConfig struct {
	Prefix string `koanf:"prefix"`
}

type CacheConfig struct {
	Backend       string        `koanf:"backend"`
	TTL           time.Duration `koanf:"ttl"`
	PruneInterval time.Duration `koanf:"prune_interval"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
}

type StateConfig struct {
	Backend     string `koanf:"backend"`
	Table       string `koanf:"table"`
	MaxMessages int    `koanf:"max_messages"`
}

type RouterConfig struct {
	MaxSteps int `koanf:"max_steps"`
}

type HTTPConfig struct {
	CORSAllowedOrigins []string      `koanf:"cors_allowed_origins"`
	RateLimitRequests  int           `koanf:"rate_limit_requests"`
	RateLimitWindow    time.Duration `koanf:"rate_limit_window"`
	RequestTimeout     time.Duration `koanf:"request_timeout"`
	StaticDir          string        `koanf:"static_dir"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type LambdaConfig struct {
	FunctionName string `koanf:"function_name"`
}

// Enabled reports whether the process runs inside AWS Lambda.
func (c LambdaConfig) Enabled() bool {
	return c.FunctionName != ""
}

func defaultConfig() *Config {
	return &Config{
		Port:     3000,
		LogLevel: "info",
		TMDB: TMDBConfig{
			BaseURL: "https://api.themoviedb.org/3",
		},
		OpenAI: OpenAIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-3.5-turbo",
			Temperature: 0.7,
		},
		Cache: CacheConfig{
			Backend:       BackendMemory,
			TTL:           time.Hour,
			PruneInterval: 10 * time.Minute,
			RedisAddr:     "localhost:6379",
		},
		State: StateConfig{
			Backend:     BackendMemory,
			MaxMessages: 50,
		},
		Router: RouterConfig{
			MaxSteps: 10,
		},
		HTTP: HTTPConfig{
			CORSAllowedOrigins: []string{"http://127.0.0.1:5501"},
			RateLimitRequests:  100,
			RateLimitWindow:    15 * time.Minute,
			RequestTimeout:     30 * time.Second,
			StaticDir:          "./public",
		},
		Tracing: TracingConfig{
			ServiceName: "movie-agent",
		},
	}
}

// envKeys maps environment variable names to config paths. Variables not
// listed here are ignored.
var envKeys = map[string]string{
	"PORT":                     "port",
	"LOG_LEVEL":                "log_level",
	"TMDB_API_KEY":             "tmdb.api_key",
	"TMDB_BASE_URL":            "tmdb.base_url",
	"OPENAI_API_KEY":           "openai.api_key",
	"OPENAI_BASE_URL":          "openai.base_url",
	"OPENAI_MODEL":             "openai.model",
	"OPENAI_TEMPERATURE":       "openai.temperature",
	"PARAM_PREFIX":             "params.prefix",
	"CACHE_BACKEND":            "cache.backend",
	"CACHE_TTL":                "cache.ttl",
	"CACHE_PRUNE_INTERVAL":     "cache.prune_interval",
	"REDIS_ADDR":               "cache.redis_addr",
	"REDIS_PASSWORD":           "cache.redis_password",
	"REDIS_DB":                 "cache.redis_db",
	"STATE_BACKEND":            "state.backend",
	"STATE_TABLE":              "state.table",
	"HISTORY_MAX_MESSAGES":     "state.max_messages",
	"ROUTER_MAX_STEPS":         "router.max_steps",
	"CORS_ALLOWED_ORIGINS":     "http.cors_allowed_origins",
	"RATE_LIMIT_REQUESTS":      "http.rate_limit_requests",
	"RATE_LIMIT_WINDOW":        "http.rate_limit_window",
	"REQUEST_TIMEOUT":          "http.request_timeout",
	"STATIC_DIR":               "http.static_dir",
	"TRACING_ENABLED":          "tracing.enabled",
	"OTEL_SERVICE_NAME":        "tracing.service_name",
	"AWS_LAMBDA_FUNCTION_NAME": "lambda.function_name",
}

func envTransformFunc(key string) string {
	return envKeys[key]
}

// Load reads .env when present, then layers defaults, the optional config
// file and the environment. It does not check credentials; see Validate.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnvVar)); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.HTTP.CORSAllowedOrigins = splitList(cfg.HTTP.CORSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that do not depend on remote lookups.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			errs = append(errs, errors.New("redis cache requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	switch c.State.Backend {
	case BackendMemory:
	case BackendDynamoDB:
		if strings.TrimSpace(c.State.Table) == "" {
			errs = append(errs, errors.New("dynamodb state requires STATE_TABLE"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", c.State.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive"))
	}
	if c.Router.MaxSteps <= 0 {
		errs = append(errs, errors.New("router max steps must be positive"))
	}
	if c.HTTP.RateLimitRequests <= 0 || c.HTTP.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit requests and window must be positive"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// NeedsParamStore reports whether a credential has to come from SSM.
func (c *Config) NeedsParamStore() bool {
	return c.TMDB.APIKey == "" || c.OpenAI.APIKey == ""
}

// ParseLogLevel maps debug|info|warn|error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
