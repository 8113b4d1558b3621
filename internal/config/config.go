package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/meridian-lab/fathom/internal/circuitbreaker"
)

// Config is the main orchestrator configuration, loaded from a YAML file
// with environment overrides for deploy-varying values.
type Config struct {
	Service         ServiceConfig         `mapstructure:"service"`
	Logging         LoggingConfig         `mapstructure:"logging"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Database        DatabaseConfig        `mapstructure:"database"`
	LLM             LLMConfig             `mapstructure:"llm"`
	Search          SearchConfig          `mapstructure:"search"`
	Dialogue        DialogueConfig        `mapstructure:"dialogue"`
	Resilience      ResilienceConfig      `mapstructure:"resilience"`
	Session         SessionConfig         `mapstructure:"session"`
	Streaming       StreamingConfig       `mapstructure:"streaming"`
	RateLimits      RateLimitsConfig      `mapstructure:"rate_limits"`
	CircuitBreakers CircuitBreakersConfig `mapstructure:"circuit_breakers"`
	Tracing         TracingConfig         `mapstructure:"tracing"`
	Health          HealthConfig          `mapstructure:"health"`
}

// ServiceConfig contains basic HTTP service configuration
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RedisConfig contains session store backend settings
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig contains archive database settings. The archive is
// optional; with Enabled false completed sessions live only in Redis.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	QueueSize       int           `mapstructure:"queue_size"`
	Workers         int           `mapstructure:"workers"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LLMConfig contains model service settings
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxTokens    int           `mapstructure:"max_tokens"`
}

// SearchConfig contains aggregator and provider settings
type SearchConfig struct {
	PerTermLimit   int            `mapstructure:"per_term_limit"`
	InterTermDelay time.Duration  `mapstructure:"inter_term_delay"`
	TopResults     int            `mapstructure:"top_results"`
	FallbackTerms  []string       `mapstructure:"fallback_terms"`
	Arxiv          ProviderConfig `mapstructure:"arxiv"`
	Web            ProviderConfig `mapstructure:"web"`
	Social         ProviderConfig `mapstructure:"social"`
}

// ProviderConfig configures one search source provider
type ProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// DialogueConfig contains dialogue loop settings
type DialogueConfig struct {
	MaxRounds    int `mapstructure:"max_rounds"`
	HistoryTurns int `mapstructure:"history_turns"`
}

// ResilienceConfig contains the default retry policy knobs. Call sites
// construct per-call policies from these.
type ResilienceConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	RateLimitInterval time.Duration `mapstructure:"rate_limit_interval"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
}

// SessionConfig contains session store settings
type SessionConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	MaxLocalSessions int           `mapstructure:"max_local_sessions"`
}

// StreamingConfig contains event stream settings
type StreamingConfig struct {
	RingSize         int `mapstructure:"ring_size"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// RateLimitsConfig points at the per-provider budget file watched for hot
// reload.
type RateLimitsConfig struct {
	Path string `mapstructure:"path"`
}

// CircuitBreakersConfig contains the breaker settings per dependency
type CircuitBreakersConfig struct {
	Redis    CircuitBreakerConfig `mapstructure:"redis"`
	Database CircuitBreakerConfig `mapstructure:"database"`
}

// CircuitBreakerConfig represents one breaker's settings
type CircuitBreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// Breaker maps the settings onto the circuit breaker package's config.
func (c CircuitBreakerConfig) Breaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		MaxRequests:      c.MaxRequests,
		Interval:         c.Interval,
		Timeout:          c.Timeout,
		FailureThreshold: c.FailureThreshold,
	}
}

// TracingConfig contains OTLP tracing settings
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8081,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // streaming endpoints manage their own deadlines
			MaxHeaderBytes:  1 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Database: DatabaseConfig{
			Enabled:         false,
			QueueSize:       1000,
			Workers:         2,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:      "http://localhost:8000",
			DefaultModel: "gpt-4o-mini",
			Timeout:      60 * time.Second,
			MaxTokens:    2000,
		},
		Search: SearchConfig{
			PerTermLimit:   5,
			InterTermDelay: 500 * time.Millisecond,
			TopResults:     10,
			FallbackTerms: []string{
				"emerging technology trends",
				"recent research developments",
				"current industry analysis",
			},
			Arxiv:  ProviderConfig{Enabled: true},
			Web:    ProviderConfig{Enabled: true},
			Social: ProviderConfig{Enabled: true},
		},
		Dialogue: DialogueConfig{
			MaxRounds:    3,
			HistoryTurns: 8,
		},
		Resilience: ResilienceConfig{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			RateLimitInterval: 4 * time.Second,
			CallTimeout:       90 * time.Second,
		},
		Session: SessionConfig{
			TTL:              24 * time.Hour,
			MaxLocalSessions: 1000,
		},
		Streaming: StreamingConfig{
			RingSize:         256,
			SubscriberBuffer: 64,
		},
		RateLimits: RateLimitsConfig{
			Path: "./config/ratelimits.yaml",
		},
		CircuitBreakers: CircuitBreakersConfig{
			Redis: CircuitBreakerConfig{
				MaxRequests:      5,
				Interval:         30 * time.Second,
				Timeout:          60 * time.Second,
				FailureThreshold: 5,
			},
			Database: CircuitBreakerConfig{
				MaxRequests:      3,
				Interval:         30 * time.Second,
				Timeout:          60 * time.Second,
				FailureThreshold: 3,
			},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fathom-orchestrator",
		},
		Health: HealthConfig{
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
		},
	}
}

// Load reads the YAML file at CONFIG_PATH (default ./config/fathom.yaml),
// merges it over the defaults, and applies environment overrides. A missing
// file is not an error; defaults plus env apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/fathom.yaml"
	}

	cfg := Default()

	if _, err := os.Stat(cfgPath); err == nil {
		v := viper.New()
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.normalize()
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Service.Port = p
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("LLM_SERVICE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = v
		cfg.Tracing.Enabled = true
	}
}

// normalize clamps invalid values back to defaults so a partial config
// file cannot produce a non-functional service.
func (c *Config) normalize() {
	def := Default()
	if c.Service.Port <= 0 {
		c.Service.Port = def.Service.Port
	}
	if c.Search.PerTermLimit <= 0 {
		c.Search.PerTermLimit = def.Search.PerTermLimit
	}
	if c.Search.TopResults <= 0 {
		c.Search.TopResults = def.Search.TopResults
	}
	if len(c.Search.FallbackTerms) == 0 {
		c.Search.FallbackTerms = def.Search.FallbackTerms
	}
	if c.Dialogue.MaxRounds <= 0 {
		c.Dialogue.MaxRounds = def.Dialogue.MaxRounds
	}
	if c.Dialogue.HistoryTurns <= 0 {
		c.Dialogue.HistoryTurns = def.Dialogue.HistoryTurns
	}
	if c.Resilience.MaxRetries < 0 {
		c.Resilience.MaxRetries = def.Resilience.MaxRetries
	}
	if c.Resilience.BaseDelay <= 0 {
		c.Resilience.BaseDelay = def.Resilience.BaseDelay
	}
	if c.Resilience.RateLimitInterval <= 0 {
		c.Resilience.RateLimitInterval = def.Resilience.RateLimitInterval
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = def.Session.TTL
	}
	if c.Session.MaxLocalSessions <= 0 {
		c.Session.MaxLocalSessions = def.Session.MaxLocalSessions
	}
	if c.Streaming.RingSize <= 0 {
		c.Streaming.RingSize = def.Streaming.RingSize
	}
	if c.Streaming.SubscriberBuffer <= 0 {
		c.Streaming.SubscriberBuffer = def.Streaming.SubscriberBuffer
	}
	if c.Database.QueueSize <= 0 {
		c.Database.QueueSize = def.Database.QueueSize
	}
	if c.Database.Workers <= 0 {
		c.Database.Workers = def.Database.Workers
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = def.LLM.Timeout
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}
}
