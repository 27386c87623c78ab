package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport fallback modes
const (
	TransportModeDirectFirst = "direct_first"
	TransportModeProxyFirst  = "proxy_first"
	TransportModeOptimal     = "optimal"
)

// Cache snapshot backends
const (
	SnapshotBackendNone  = "none"
	SnapshotBackendFile  = "file"
	SnapshotBackendRedis = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: history persistence. When nil, history is memory-only.
	Auth          AuthConfig
	Providers     ProvidersConfig
	Proxy         ProxyConfig
	Orchestrator  OrchestratorConfig
	Routing       RoutingConfig
	RateLimit     RateLimitConfig
	Cache         CacheConfig
	History       HistoryConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds bearer-token authentication configuration
type AuthConfig struct {
	Enabled bool
	Secret  string // HS256 shared secret
	Issuer  string
}

// ProvidersConfig holds AI provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Gemini    ProviderConfig
	Anthropic ProviderConfig
}

// ProviderConfig holds configuration for one AI provider
type ProviderConfig struct {
	Enabled      bool
	APIKey       string
	BaseURL      string // Empty uses the adapter's default endpoint
	Model        string // Empty uses the adapter's default model
	Timeout      time.Duration
	CostPerCall  float64
	CallBudget   int // Calls allowed per budget window; 0 means unlimited
	BudgetWindow time.Duration
}

// HasCredentials reports whether the provider can be called directly.
func (p *ProviderConfig) HasCredentials() bool {
	return p.Enabled && p.APIKey != ""
}

// ProxyConfig holds the server-side relay configuration. Vendor credentials
// live on the relay, so a provider can run proxy-only without a local key.
type ProxyConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Enabled reports whether the proxy transport is configured.
func (p *ProxyConfig) Enabled() bool {
	return p.BaseURL != ""
}

// OrchestratorConfig holds request pipeline configuration
type OrchestratorConfig struct {
	QueueCapacity   int
	PollInterval    time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RequestTimeout  time.Duration
	TransportMode   string // direct_first | proxy_first | optimal
	BulkMaxSubjects int
	BulkBatchSize   int
	BulkBatchDelay  time.Duration
	CacheDegraded   bool
	StatusRetention time.Duration
}

// RoutingConfig holds provider selection weights. The operation affinity
// table is code-level; override it through routing.NewSelector.
type RoutingConfig struct {
	SuccessWeight      float64
	LatencyWeight      float64
	CostWeight         float64
	UrgentLatencyBoost float64
}

// RateLimitConfig holds sliding-window limits. Provider limits apply per
// provider+operation key; the global limit applies across all requests.
type RateLimitConfig struct {
	GlobalMaxRequests   int
	GlobalWindow        time.Duration
	ProviderMaxRequests int
	ProviderWindow      time.Duration
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	Capacity        int
	SweepInterval   time.Duration
	SnapshotBackend string // none | file | redis
	SnapshotPath    string
	Redis           RedisConfig
}

// RedisConfig holds Redis connection settings for the cache snapshot store
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	SnapshotKey string
}

// HistoryConfig holds request history configuration
type HistoryConfig struct {
	MemorySize  int
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	environment := getEnv("ENVIRONMENT", "development")
	isProd := environment == "production" || environment == "prod"

	cfg := &Config{
		Environment: environment,
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			Enabled: getEnvAsBool("AUTH_ENABLED", isProd),
			Secret:  getEnv("AUTH_JWT_SECRET", ""),
			Issuer:  getEnv("AUTH_JWT_ISSUER", "meridian-crm"),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Enabled:      getEnvAsBool("OPENAI_ENABLED", true),
				APIKey:       getEnv("OPENAI_API_KEY", ""),
				BaseURL:      getEnv("OPENAI_BASE_URL", ""),
				Model:        getEnv("OPENAI_MODEL", ""),
				Timeout:      getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
				CostPerCall:  getEnvAsFloat("OPENAI_COST_PER_CALL", 0.002),
				CallBudget:   getEnvAsInt("OPENAI_CALL_BUDGET", 0),
				BudgetWindow: getEnvAsDuration("OPENAI_BUDGET_WINDOW", time.Minute),
			},
			Gemini: ProviderConfig{
				Enabled:      getEnvAsBool("GEMINI_ENABLED", true),
				APIKey:       getEnv("GEMINI_API_KEY", ""),
				BaseURL:      getEnv("GEMINI_BASE_URL", ""),
				Model:        getEnv("GEMINI_MODEL", ""),
				Timeout:      getEnvAsDuration("GEMINI_TIMEOUT", 30*time.Second),
				CostPerCall:  getEnvAsFloat("GEMINI_COST_PER_CALL", 0.0005),
				CallBudget:   getEnvAsInt("GEMINI_CALL_BUDGET", 0),
				BudgetWindow: getEnvAsDuration("GEMINI_BUDGET_WINDOW", time.Minute),
			},
			Anthropic: ProviderConfig{
				Enabled:      getEnvAsBool("ANTHROPIC_ENABLED", true),
				APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL:      getEnv("ANTHROPIC_BASE_URL", ""),
				Model:        getEnv("ANTHROPIC_MODEL", ""),
				Timeout:      getEnvAsDuration("ANTHROPIC_TIMEOUT", 30*time.Second),
				CostPerCall:  getEnvAsFloat("ANTHROPIC_COST_PER_CALL", 0.003),
				CallBudget:   getEnvAsInt("ANTHROPIC_CALL_BUDGET", 0),
				BudgetWindow: getEnvAsDuration("ANTHROPIC_BUDGET_WINDOW", time.Minute),
			},
		},
		Proxy: ProxyConfig{
			BaseURL: getEnv("AI_PROXY_URL", ""),
			Token:   getEnv("AI_PROXY_TOKEN", ""),
			Timeout: getEnvAsDuration("AI_PROXY_TIMEOUT", 45*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			QueueCapacity:   getEnvAsInt("ORCH_QUEUE_CAPACITY", 100),
			PollInterval:    getEnvAsDuration("ORCH_POLL_INTERVAL", 100*time.Millisecond),
			MaxRetries:      getEnvAsInt("ORCH_MAX_RETRIES", 3),
			RetryBaseDelay:  getEnvAsDuration("ORCH_RETRY_BASE_DELAY", 500*time.Millisecond),
			RequestTimeout:  getEnvAsDuration("ORCH_REQUEST_TIMEOUT", 40*time.Second),
			TransportMode:   getEnv("AI_TRANSPORT_MODE", TransportModeDirectFirst),
			BulkMaxSubjects: getEnvAsInt("ORCH_BULK_MAX_SUBJECTS", 50),
			BulkBatchSize:   getEnvAsInt("ORCH_BULK_BATCH_SIZE", 5),
			BulkBatchDelay:  getEnvAsDuration("ORCH_BULK_BATCH_DELAY", time.Second),
			CacheDegraded:   getEnvAsBool("ORCH_CACHE_DEGRADED", false),
			StatusRetention: getEnvAsDuration("ORCH_STATUS_RETENTION", 10*time.Minute),
		},
		Routing: RoutingConfig{
			SuccessWeight:      getEnvAsFloat("ROUTING_SUCCESS_WEIGHT", 50),
			LatencyWeight:      getEnvAsFloat("ROUTING_LATENCY_WEIGHT", 30),
			CostWeight:         getEnvAsFloat("ROUTING_COST_WEIGHT", 20),
			UrgentLatencyBoost: getEnvAsFloat("ROUTING_URGENT_BOOST", 2.0),
		},
		RateLimit: RateLimitConfig{
			GlobalMaxRequests:   getEnvAsInt("RATE_LIMIT_GLOBAL_MAX", 120),
			GlobalWindow:        getEnvAsDuration("RATE_LIMIT_GLOBAL_WINDOW", time.Minute),
			ProviderMaxRequests: getEnvAsInt("RATE_LIMIT_PROVIDER_MAX", 60),
			ProviderWindow:      getEnvAsDuration("RATE_LIMIT_PROVIDER_WINDOW", time.Minute),
		},
		Cache: CacheConfig{
			Capacity:        getEnvAsInt("CACHE_CAPACITY", 1000),
			SweepInterval:   getEnvAsDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
			SnapshotBackend: getEnv("CACHE_SNAPSHOT_BACKEND", SnapshotBackendNone),
			SnapshotPath:    getEnv("CACHE_SNAPSHOT_PATH", "data/ai-cache.snapshot"),
			Redis: RedisConfig{
				Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
				Password:    getEnv("REDIS_PASSWORD", ""),
				DB:          getEnvAsInt("REDIS_DB", 0),
				SnapshotKey: getEnv("CACHE_SNAPSHOT_REDIS_KEY", "ai:cache:snapshot"),
			},
		},
		History: HistoryConfig{
			MemorySize:  getEnvAsInt("HISTORY_MEMORY_SIZE", 500),
			BufferSize:  getEnvAsInt("HISTORY_BUFFER_SIZE", 2000),
			WorkerCount: getEnvAsInt("HISTORY_WORKER_COUNT", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and reports every problem in a single
// error rather than stopping at the first one.
func (c *Config) Validate() error {
	var problems []string

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			problems = append(problems, "database user is required (DB_USER)")
		}
		if c.Database.Database == "" {
			problems = append(problems, "database name is required (DB_NAME)")
		}
	}

	if c.Auth.Enabled && c.Auth.Secret == "" {
		problems = append(problems, "auth is enabled but AUTH_JWT_SECRET is not set")
	}

	// In production at least one way to reach a provider must exist.
	if c.IsProduction() {
		if !c.Providers.OpenAI.HasCredentials() &&
			!c.Providers.Gemini.HasCredentials() &&
			!c.Providers.Anthropic.HasCredentials() &&
			!c.Proxy.Enabled() {
			problems = append(problems, "no AI provider configured: set OPENAI_API_KEY, GEMINI_API_KEY, ANTHROPIC_API_KEY, or AI_PROXY_URL")
		}
	}

	if c.Routing.SuccessWeight < 0 || c.Routing.LatencyWeight < 0 || c.Routing.CostWeight < 0 {
		problems = append(problems, "routing weights must not be negative (ROUTING_SUCCESS_WEIGHT, ROUTING_LATENCY_WEIGHT, ROUTING_COST_WEIGHT)")
	}

	switch c.Orchestrator.TransportMode {
	case TransportModeDirectFirst, TransportModeProxyFirst, TransportModeOptimal:
	default:
		problems = append(problems, fmt.Sprintf("invalid AI_TRANSPORT_MODE %q: must be %s, %s, or %s",
			c.Orchestrator.TransportMode, TransportModeDirectFirst, TransportModeProxyFirst, TransportModeOptimal))
	}

	switch c.Cache.SnapshotBackend {
	case SnapshotBackendNone, SnapshotBackendFile, SnapshotBackendRedis:
	default:
		problems = append(problems, fmt.Sprintf("invalid CACHE_SNAPSHOT_BACKEND %q: must be %s, %s, or %s",
			c.Cache.SnapshotBackend, SnapshotBackendNone, SnapshotBackendFile, SnapshotBackendRedis))
	}
	if c.Cache.SnapshotBackend == SnapshotBackendRedis && c.Cache.Redis.Addr == "" {
		problems = append(problems, "redis snapshot backend requires REDIS_ADDR")
	}
	if c.Cache.SnapshotBackend == SnapshotBackendFile && c.Cache.SnapshotPath == "" {
		problems = append(problems, "file snapshot backend requires CACHE_SNAPSHOT_PATH")
	}

	if c.Observability.LogLevel == "" {
		problems = append(problems, "log level is required (LOG_LEVEL)")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads history database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set (history runs memory-only).
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "meridian_ai"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
