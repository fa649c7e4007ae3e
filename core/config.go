package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Resolution order, later wins:
// defaults -> YAML file -> environment variables -> functional options.
type Config struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`

	HTTP      HTTPConfig      `yaml:"http"`
	Services  ServicesConfig  `yaml:"services"`
	AI        AIClientConfig  `yaml:"ai"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Payments  PaymentsConfig  `yaml:"payments"`
	OrderPush OrderPushConfig `yaml:"order_push"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HTTPConfig contains API server settings, including the CORS allowlist for
// the storefront pages that embed the widget iframe.
type HTTPConfig struct {
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// ServicesConfig holds base URLs for the backend aggregator services.
type ServicesConfig struct {
	AggregatorURL string        `yaml:"aggregator_url"`
	PaymentURL    string        `yaml:"payment_url"`
	GeocodeURL    string        `yaml:"geocode_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AIClientConfig configures the completion/classification provider.
type AIClientConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// CacheConfig sets per-bucket TTLs and the defensive size cap.
type CacheConfig struct {
	CatalogTTL        time.Duration `yaml:"catalog_ttl"`
	IntentTTL         time.Duration `yaml:"intent_ttl"`
	RecommendationTTL time.Duration `yaml:"recommendation_ttl"`
	MaxEntries        int           `yaml:"max_entries"`
}

// SessionConfig selects the session backend. Redis is only needed when the
// engine runs as more than one instance; the in-memory manager matches the
// single-tab lifetime of the widget.
type SessionConfig struct {
	Backend  string        `yaml:"backend"` // "memory" or "redis"
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// CatalogConfig tunes merchant discovery.
type CatalogConfig struct {
	MerchantRadiusKM float64 `yaml:"merchant_radius_km"`
}

// PaymentsConfig controls payment execution behavior.
type PaymentsConfig struct {
	CryptoChainID   int64         `yaml:"crypto_chain_id"`
	TokenPerAED     float64       `yaml:"token_per_aed"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`
}

// OrderPushConfig configures the RabbitMQ consumer for server-pushed order
// status updates.
type OrderPushConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP gRPC endpoint; empty = stdout exporter
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithName sets the service name used in logs and telemetry.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithPort sets the API listen port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithRedisSessions switches the session backend to Redis.
func WithRedisSessions(url string) Option {
	return func(c *Config) {
		c.Session.Backend = "redis"
		c.Session.RedisURL = url
	}
}

// WithAIProvider sets the completion provider endpoint and key.
func WithAIProvider(baseURL, apiKey string) Option {
	return func(c *Config) {
		c.AI.BaseURL = baseURL
		c.AI.APIKey = apiKey
	}
}

// DefaultConfig returns the engine defaults. TTLs follow the widget's
// observed freshness windows: catalog two minutes, classification and
// recommendation one minute each.
func DefaultConfig() *Config {
	return &Config{
		Name: "convocart",
		Port: 8080,
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Services: ServicesConfig{
			Timeout: 15 * time.Second,
		},
		AI: AIClientConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			CatalogTTL:        2 * time.Minute,
			IntentTTL:         time.Minute,
			RecommendationTTL: time.Minute,
			MaxEntries:        1000,
		},
		Session: SessionConfig{
			Backend: "memory",
			TTL:     2 * time.Hour,
		},
		Catalog: CatalogConfig{
			MerchantRadiusKM: 5,
		},
		Payments: PaymentsConfig{
			CryptoChainID:   421614,
			TokenPerAED:     0.27,
			PollInterval:    3 * time.Second,
			PollMaxAttempts: 20,
		},
		OrderPush: OrderPushConfig{
			Exchange: "orders.updates",
			Queue:    "convocart.orders",
		},
		Logging: DefaultLoggingConfig(),
	}
}

// NewConfig builds a Config from defaults, an optional YAML file pointed to
// by CONVOCART_CONFIG, environment variables, and options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("CONVOCART_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	cfg.applyEnvironment()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv("CONVOCART_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("CONVOCART_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("CONVOCART_ALLOWED_ORIGINS"); v != "" {
		c.HTTP.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CONVOCART_AGGREGATOR_URL"); v != "" {
		c.Services.AggregatorURL = v
	}
	if v := os.Getenv("CONVOCART_PAYMENT_URL"); v != "" {
		c.Services.PaymentURL = v
	}
	if v := os.Getenv("CONVOCART_GEOCODE_URL"); v != "" {
		c.Services.GeocodeURL = v
	}
	if v := os.Getenv("CONVOCART_AI_BASE_URL"); v != "" {
		c.AI.BaseURL = v
	}
	if v := os.Getenv("CONVOCART_AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("CONVOCART_AI_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("CONVOCART_REDIS_URL"); v != "" {
		c.Session.Backend = "redis"
		c.Session.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" && c.Session.Backend == "redis" {
		c.Session.RedisURL = v
	}
	if v := os.Getenv("CONVOCART_AMQP_URL"); v != "" {
		c.OrderPush.Enabled = true
		c.OrderPush.URL = v
	}
	if v := os.Getenv("CONVOCART_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("CONVOCART_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports configuration that cannot produce a working engine.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, c.Port)
	}
	if c.Session.Backend != "memory" && c.Session.Backend != "redis" {
		return fmt.Errorf("%w: unknown session backend %q", ErrInvalidConfiguration, c.Session.Backend)
	}
	if c.Session.Backend == "redis" && c.Session.RedisURL == "" {
		return fmt.Errorf("%w: redis session backend requires redis_url", ErrMissingConfiguration)
	}
	if c.OrderPush.Enabled && c.OrderPush.URL == "" {
		return fmt.Errorf("%w: order push enabled without amqp url", ErrMissingConfiguration)
	}
	if c.Payments.PollMaxAttempts <= 0 {
		return fmt.Errorf("%w: poll_max_attempts must be positive", ErrInvalidConfiguration)
	}
	return nil
}
