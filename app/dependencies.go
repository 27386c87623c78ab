package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/authtoken"
	"github.com/meridiancrm/ai-core/config"
	"github.com/meridiancrm/ai-core/metrics"
	"github.com/meridiancrm/ai-core/middleware"
	"github.com/meridiancrm/ai-core/repositories"
	"github.com/meridiancrm/ai-core/repositories/postgres"
	"github.com/meridiancrm/ai-core/services/cache"
	"github.com/meridiancrm/ai-core/services/history"
	"github.com/meridiancrm/ai-core/services/normalize"
	"github.com/meridiancrm/ai-core/services/orchestrator"
	"github.com/meridiancrm/ai-core/services/prompt"
	"github.com/meridiancrm/ai-core/services/providers"
	"github.com/meridiancrm/ai-core/services/providers/anthropic"
	"github.com/meridiancrm/ai-core/services/providers/gemini"
	"github.com/meridiancrm/ai-core/services/providers/openai"
	"github.com/meridiancrm/ai-core/services/providers/proxy"
	"github.com/meridiancrm/ai-core/services/ratelimit"
	"github.com/meridiancrm/ai-core/services/routing"
)

// Limiter bookkeeping for keys that have gone quiet.
const (
	limiterCleanupInterval = time.Minute
	limiterStaleRetention  = 10 * time.Minute
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// HistoryRepo is nil when no database is configured; history then runs
	// memory-only.
	HistoryRepo repositories.HistoryRepository

	// Core services
	ProviderRegistry *providers.Registry
	RateLimiter      *ratelimit.RateLimitService
	ResponseCache    *cache.ResponseCache
	History          *history.HistoryService
	Orchestrator     *orchestrator.Orchestrator

	// Metrics is nil when metrics are disabled.
	Metrics *metrics.Metrics

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	redisClient  *redis.Client
	workerCancel context.CancelFunc
	started      bool
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initCache(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	deps.initHistory(cfg)

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initOrchestrator(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// SQLDB returns the raw connection pool, or nil when persistence is disabled.
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

// initDatabase connects to PostgreSQL when history persistence is configured.
// No database is a supported mode, not an error.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, request history is memory-only")
		return nil
	}

	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.DB = db
	d.HistoryRepo = postgres.NewHistoryRepository(db, d.Logger)
	return nil
}

// initCache builds the response cache with the configured snapshot backend
// and restores any previous snapshot.
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) error {
	var store cache.SnapshotStore

	switch cfg.Cache.SnapshotBackend {
	case config.SnapshotBackendFile:
		store = cache.NewFileSnapshotStore(cfg.Cache.SnapshotPath)
		d.Logger.Info("cache snapshots written to file",
			zap.String("path", cfg.Cache.SnapshotPath))

	case config.SnapshotBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("redis ping failed: %w", err)
		}
		d.redisClient = client
		store = cache.NewRedisSnapshotStore(client, cfg.Cache.Redis.SnapshotKey)
		d.Logger.Info("cache snapshots written to redis",
			zap.String("addr", cfg.Cache.Redis.Addr),
			zap.String("key", cfg.Cache.Redis.SnapshotKey))

	default:
		d.Logger.Info("cache snapshots disabled")
	}

	cacheConfig := cache.DefaultConfig()
	if cfg.Cache.Capacity > 0 {
		cacheConfig.Capacity = cfg.Cache.Capacity
	}
	if cfg.Cache.SweepInterval > 0 {
		cacheConfig.SweepInterval = cfg.Cache.SweepInterval
	}

	d.ResponseCache = cache.NewResponseCache(cacheConfig, store, d.Logger)

	// A stale or unreadable snapshot costs warm starts, never startup.
	if err := d.ResponseCache.LoadSnapshot(ctx); err != nil {
		d.Logger.Warn("failed to restore cache snapshot", zap.Error(err))
	}

	return nil
}

// initHistory builds the request history service on top of the optional
// repository.
func (d *Dependencies) initHistory(cfg *config.Config) {
	d.History = history.NewHistoryService(d.HistoryRepo, d.Logger, history.Config{
		MemorySize:  cfg.History.MemorySize,
		BufferSize:  cfg.History.BufferSize,
		WorkerCount: cfg.History.WorkerCount,
	})
}

// initProviders builds the relay client and registers every provider that
// can be reached, either directly with its own key or through the relay.
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry(0)

	var relay providers.ProxyRelay
	if cfg.Proxy.Enabled() {
		client, err := proxy.NewClient(proxy.Config{
			BaseURL: cfg.Proxy.BaseURL,
			APIKey:  cfg.Proxy.Token,
			Timeout: cfg.Proxy.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create proxy client: %w", err)
		}
		relay = client
		d.Logger.Info("AI proxy relay configured", zap.String("base_url", cfg.Proxy.BaseURL))
	}

	type registration struct {
		cfg      config.ProviderConfig
		provider providers.Provider
	}

	candidates := []registration{
		{cfg.Providers.OpenAI, openai.NewOpenAIAdapter(providerConfig(cfg.Providers.OpenAI), relay)},
		{cfg.Providers.Gemini, gemini.NewGeminiAdapter(providerConfig(cfg.Providers.Gemini), relay)},
		{cfg.Providers.Anthropic, anthropic.NewAnthropicAdapter(providerConfig(cfg.Providers.Anthropic), relay)},
	}

	for _, c := range candidates {
		// A provider without its own key can still run proxy-only.
		if !c.cfg.HasCredentials() && !(c.cfg.Enabled && relay != nil) {
			continue
		}
		if err := registry.Register(c.provider, registrationOptions(c.cfg)); err != nil {
			return fmt.Errorf("failed to register provider %s: %w", c.provider.Name(), err)
		}
		d.Logger.Info("registered AI provider",
			zap.String("provider", c.provider.Name()),
			zap.String("model", c.provider.DefaultModel()),
			zap.Bool("direct", c.cfg.HasCredentials()),
			zap.Bool("proxy", relay != nil))
	}

	if registry.Count() == 0 {
		d.Logger.Warn("no AI providers configured, analysis requests will fail")
	}

	d.ProviderRegistry = registry
	return nil
}

// initOrchestrator wires the request pipeline: selection, rate limiting,
// prompts, normalization, cache, history, and metrics.
func (d *Dependencies) initOrchestrator(cfg *config.Config) {
	d.RateLimiter = ratelimit.NewRateLimitService(d.Logger)

	if cfg.Observability.MetricsEnabled {
		d.Metrics = metrics.New()
	}

	// Weights come from ROUTING_* env vars; the operation affinity table
	// keeps its defaults.
	selCfg := routing.DefaultSelectionConfig()
	selCfg.SuccessWeight = cfg.Routing.SuccessWeight
	selCfg.LatencyWeight = cfg.Routing.LatencyWeight
	selCfg.CostWeight = cfg.Routing.CostWeight
	selCfg.UrgentLatencyBoost = cfg.Routing.UrgentLatencyBoost
	selector := routing.NewSelector(selCfg)
	builder := prompt.NewBuilderWithDefaults()
	normalizer := normalize.NewNormalizer(normalize.DefaultConfig(), d.Logger)

	d.Orchestrator = orchestrator.NewOrchestrator(orchestrator.Config{
		QueueCapacity:   cfg.Orchestrator.QueueCapacity,
		PollInterval:    cfg.Orchestrator.PollInterval,
		MaxRetries:      cfg.Orchestrator.MaxRetries,
		RetryBaseDelay:  cfg.Orchestrator.RetryBaseDelay,
		RequestTimeout:  cfg.Orchestrator.RequestTimeout,
		TransportMode:   cfg.Orchestrator.TransportMode,
		ProxyEnabled:    cfg.Proxy.Enabled(),
		BulkMaxSubjects: cfg.Orchestrator.BulkMaxSubjects,
		BulkBatchSize:   cfg.Orchestrator.BulkBatchSize,
		BulkBatchDelay:  cfg.Orchestrator.BulkBatchDelay,
		CacheDegraded:   cfg.Orchestrator.CacheDegraded,
		StatusRetention: cfg.Orchestrator.StatusRetention,
		GlobalLimit: ratelimit.Config{
			MaxRequests: cfg.RateLimit.GlobalMaxRequests,
			Window:      cfg.RateLimit.GlobalWindow,
		},
		ProviderLimit: ratelimit.Config{
			MaxRequests: cfg.RateLimit.ProviderMaxRequests,
			Window:      cfg.RateLimit.ProviderWindow,
		},
	}, d.ProviderRegistry, selector, d.RateLimiter, builder, normalizer,
		d.ResponseCache, d.History, d.Metrics, d.Logger)
}

// initAuth wires bearer-token validation. The middleware is always non-nil
// so route wiring stays uniform; routes only attach it when auth is enabled.
func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled {
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	validator, err := authtoken.NewValidator(authtoken.Config{
		Secret: cfg.Auth.Secret,
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		// Reject-all keeps protected routes closed instead of open.
		d.Logger.Warn("auth enabled but not usable, all protected requests will be rejected",
			zap.Error(err))
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}

	d.AuthMiddleware = middleware.NewAuthMiddleware(&tokenValidatorAdapter{validator: validator}, d.Logger)
	d.Logger.Info("bearer token authentication enabled",
		zap.String("issuer", cfg.Auth.Issuer))
}

// Start launches the background workers: cache persistence and sweeping,
// history writers, the orchestrator queue pump, and limiter cleanup. It must
// be called once before serving traffic.
func (d *Dependencies) Start(ctx context.Context) error {
	if d.started {
		return fmt.Errorf("dependencies already started")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	d.workerCancel = cancel

	d.ResponseCache.Start()

	if err := d.History.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start history service: %w", err)
	}

	if err := d.Orchestrator.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	go d.RateLimiter.StartCleanupWorker(workerCtx, limiterCleanupInterval, limiterStaleRetention)

	d.started = true
	d.Logger.Info("background workers started")
	return nil
}

// Close gracefully shuts down everything Start launched, then the external
// connections. Shutdown continues past individual failures so one stuck
// component cannot hold the rest open.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	timeout := stopTimeout(ctx)
	var errs []error

	if d.started {
		if err := d.Orchestrator.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop orchestrator: %w", err))
		}
		if err := d.History.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop history service: %w", err))
		}
		// Stop writes the final cache snapshot.
		d.ResponseCache.Stop()
		d.workerCancel()
		d.started = false
	}

	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// stopTimeout derives a per-component stop budget from the shutdown context.
func stopTimeout(ctx context.Context) time.Duration {
	const fallback = 10 * time.Second
	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}
	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > fallback {
		return fallback
	}
	return remaining
}

// providerConfig maps application provider settings onto the adapter config.
func providerConfig(pc config.ProviderConfig) providers.ProviderConfig {
	return providers.ProviderConfig{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Model:   pc.Model,
		Timeout: pc.Timeout,
	}
}

// registrationOptions maps application provider settings onto registry
// bookkeeping options.
func registrationOptions(pc config.ProviderConfig) providers.RegistrationOptions {
	return providers.RegistrationOptions{
		CostPerCall:  pc.CostPerCall,
		CallBudget:   pc.CallBudget,
		BudgetWindow: pc.BudgetWindow,
	}
}

// tokenValidatorAdapter converts authtoken.ParsedClaims to middleware.Claims
type tokenValidatorAdapter struct {
	validator *authtoken.Validator
}

func (a *tokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	parsed, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		Sub:   parsed.Sub,
		Email: parsed.Email,
		Role:  parsed.Role,
	}, nil
}

// rejectAllValidator rejects every token. Used when auth is disabled or
// misconfigured, so protected routes fail closed.
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}
