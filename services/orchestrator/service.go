package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meridiancrm/ai-core/metrics"
	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services"
	"github.com/meridiancrm/ai-core/services/cache"
	"github.com/meridiancrm/ai-core/services/history"
	"github.com/meridiancrm/ai-core/services/normalize"
	"github.com/meridiancrm/ai-core/services/prompt"
	"github.com/meridiancrm/ai-core/services/providers"
	"github.com/meridiancrm/ai-core/services/ratelimit"
	"github.com/meridiancrm/ai-core/services/routing"
	"go.uber.org/zap"
)

const (
	globalScope = "global"

	// statusCleanupInterval is how often finished request states are pruned
	statusCleanupInterval = time.Minute
)

func providerScope(name string) string {
	return "provider:" + name
}

// Orchestrator runs the full AI request pipeline: cache lookup, provider
// selection, rate limiting, prompt construction, invocation with retries
// and transport fallback, normalization, and bookkeeping. Synchronous
// callers use ExecuteImmediate; Submit enqueues onto a priority queue
// drained by a single pump goroutine.
type Orchestrator struct {
	config     Config
	registry   *providers.Registry
	selector   *routing.Selector
	limiter    *ratelimit.RateLimitService
	builder    *prompt.Builder
	normalizer *normalize.Normalizer
	cache      *cache.ResponseCache
	history    *history.HistoryService
	metrics    *metrics.Metrics
	logger     *zap.Logger

	queue *Queue

	mu     sync.RWMutex
	states map[string]*RequestState

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup

	// now is swappable in tests
	now func() time.Time
}

// NewOrchestrator creates the orchestration service. Non-positive config
// values fall back to defaults. collector may be nil to disable metrics.
func NewOrchestrator(
	config Config,
	registry *providers.Registry,
	selector *routing.Selector,
	limiter *ratelimit.RateLimitService,
	builder *prompt.Builder,
	normalizer *normalize.Normalizer,
	responseCache *cache.ResponseCache,
	historyService *history.HistoryService,
	collector *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	defaults := DefaultConfig()
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = defaults.QueueCapacity
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.TransportMode == "" {
		config.TransportMode = defaults.TransportMode
	}
	if config.BulkMaxSubjects <= 0 {
		config.BulkMaxSubjects = defaults.BulkMaxSubjects
	}
	if config.BulkBatchSize <= 0 {
		config.BulkBatchSize = defaults.BulkBatchSize
	}
	if config.BulkBatchDelay < 0 {
		config.BulkBatchDelay = 0
	}
	if config.StatusRetention <= 0 {
		config.StatusRetention = defaults.StatusRetention
	}

	return &Orchestrator{
		config:     config,
		registry:   registry,
		selector:   selector,
		limiter:    limiter,
		builder:    builder,
		normalizer: normalizer,
		cache:      responseCache,
		history:    historyService,
		metrics:    collector,
		logger:     logger,
		queue:      NewQueue(config.QueueCapacity),
		states:     make(map[string]*RequestState),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the queue pump
func (o *Orchestrator) Start() error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.started {
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true

	o.wg.Add(1)
	go o.pump()

	o.logger.Info("orchestrator started",
		zap.Duration("poll_interval", o.config.PollInterval),
		zap.Int("queue_capacity", o.config.QueueCapacity),
		zap.String("transport_mode", o.config.TransportMode),
		zap.Bool("proxy_enabled", o.config.ProxyEnabled))
	return nil
}

// Stop halts the pump, letting an in-flight request finish. Requests still
// queued are not processed; their states remain queued until retention
// expires.
func (o *Orchestrator) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	if !o.started || o.stopped {
		o.lifecycleMu.Unlock()
		return fmt.Errorf("orchestrator is not running")
	}
	o.stopped = true
	close(o.stopCh)
	o.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped", zap.Int("queued_remaining", o.queue.Len()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("orchestrator stop timeout after %v", timeout)
	}
}

// Submit enqueues a request and returns its ID. The request is processed
// by the pump in priority order; progress is visible through GetRequest.
func (o *Orchestrator) Submit(req *models.AIRequest) (string, error) {
	if err := o.prepare(req); err != nil {
		return "", err
	}

	o.lifecycleMu.Lock()
	stopped := o.stopped
	o.lifecycleMu.Unlock()
	if stopped {
		return "", services.ErrQueueClosed
	}

	o.mu.Lock()
	o.states[req.ID] = &RequestState{
		RequestID:   req.ID,
		Operation:   req.Operation,
		Priority:    req.Priority,
		Status:      StatusQueued,
		SubmittedAt: o.now(),
	}
	o.mu.Unlock()

	if err := o.queue.Push(req); err != nil {
		o.mu.Lock()
		delete(o.states, req.ID)
		o.mu.Unlock()
		return "", services.NewDomainError(services.ErrorTypeRateLimited, "request queue is full", err).
			WithDetail("queue_capacity", o.config.QueueCapacity)
	}

	o.metrics.SetQueueDepth(o.queue.Len())
	o.logger.Debug("request queued",
		zap.String("request_id", req.ID),
		zap.String("operation", string(req.Operation)),
		zap.String("priority", string(req.Priority)))
	return req.ID, nil
}

// GetRequest reports the lifecycle state of a submitted request
func (o *Orchestrator) GetRequest(requestID string) (*RequestState, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st, ok := o.states[requestID]
	if !ok {
		return nil, services.ErrRequestNotFound
	}
	state := *st
	return &state, nil
}

// ExecuteImmediate runs a request through the pipeline synchronously,
// bypassing the queue
func (o *Orchestrator) ExecuteImmediate(ctx context.Context, req *models.AIRequest) (*models.AIResponse, error) {
	if err := o.prepare(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeoutFor(req))
	defer cancel()

	return o.execute(ctx, req)
}

// ProviderStatus reports every registered provider's runtime state together
// with its limiter window
func (o *Orchestrator) ProviderStatus() []ProviderStatus {
	states := o.registry.Snapshot()
	out := make([]ProviderStatus, 0, len(states))
	for _, st := range states {
		usage := o.limiter.GetCurrentUsage(providerScope(st.Name), o.config.ProviderLimit)
		remaining := -1
		if o.config.ProviderLimit.MaxRequests > 0 {
			remaining = o.config.ProviderLimit.MaxRequests - usage.RequestsInWindow
			if remaining < 0 {
				remaining = 0
			}
		}
		out = append(out, ProviderStatus{
			ProviderState:   st,
			WindowRequests:  usage.RequestsInWindow,
			WindowRemaining: remaining,
		})
	}
	return out
}

// ClearCache invalidates cached responses and returns how many entries were
// removed. An empty tag clears the whole cache.
func (o *Orchestrator) ClearCache(tag string) int {
	if tag == "" {
		return o.cache.Clear()
	}
	return o.cache.InvalidateByTag(tag)
}

// RequestHistory returns the most recent finished requests, newest first
func (o *Orchestrator) RequestHistory(limit int) []*models.HistoryRecord {
	return o.history.Recent(limit)
}

// QueueDepth returns the number of requests waiting in the queue
func (o *Orchestrator) QueueDepth() int {
	return o.queue.Len()
}

// pump drains the queue one request per tick
func (o *Orchestrator) pump() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(statusCleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-cleanup.C:
			o.pruneStates(o.now())
		case <-ticker.C:
			o.processNext()
		}
	}
}

// processNext pops and runs at most one queued request
func (o *Orchestrator) processNext() {
	req, ok := o.queue.Pop()
	if !ok {
		return
	}
	o.metrics.SetQueueDepth(o.queue.Len())
	o.setStatus(req.ID, StatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), o.timeoutFor(req))
	defer cancel()

	resp, err := o.execute(ctx, req)
	if err != nil {
		o.completeFailure(req.ID, err)
		return
	}
	o.completeSuccess(req.ID, resp)
}

// execute is the pipeline shared by the pump and ExecuteImmediate. The
// request must already be validated.
func (o *Orchestrator) execute(ctx context.Context, req *models.AIRequest) (*models.AIResponse, error) {
	start := o.now()

	o.logger.Info("processing AI request",
		zap.String("request_id", req.ID),
		zap.String("operation", string(req.Operation)),
		zap.String("priority", string(req.Priority)))

	if req.Options.CacheEnabled() {
		if resp, ok := o.cache.Get(req.Operation, cacheParams(req)); ok {
			o.metrics.ObserveCacheLookup(true)
			resp.RequestID = req.ID
			// The serve time replaces the original call time; Timestamp
			// keeps saying when the result was produced.
			resp.Metadata.ProcessingTimeMs = o.now().Sub(start).Milliseconds()
			resp.Metadata.CostEstimate = 0
			o.logger.Debug("cache hit", zap.String("request_id", req.ID))
			o.recordResult(req, resp)
			return resp, nil
		}
		o.metrics.ObserveCacheLookup(false)
	}

	if res := o.limiter.CheckLimit(globalScope, o.config.GlobalLimit); !res.Allowed {
		o.metrics.ObserveRateLimited(globalScope)
		err := services.NewDomainError(services.ErrorTypeRateLimited, "global request limit exceeded", nil).
			WithDetail("reset_at", res.ResetAt)
		return nil, o.failRequest(req, start, err, "", "", "")
	}

	cand, err := o.chooseProvider(req)
	if err != nil {
		return nil, o.failRequest(req, start, err, "", "", "")
	}
	o.logger.Debug("provider selected",
		zap.String("request_id", req.ID),
		zap.String("provider", cand.State.Name))

	pr, err := o.builder.Build(req)
	if err != nil {
		return nil, o.failRequest(req, start, services.NewDomainError(services.ErrorTypeValidation, err.Error(), err), "", "", "")
	}

	reply, transport, err := o.invoke(ctx, req, cand, pr)
	o.limiter.RecordRequest(globalScope, err == nil, o.config.GlobalLimit)
	if err != nil {
		wrapped := services.NewDomainError(services.ErrorTypeProvider,
			fmt.Sprintf("provider %s failed after retries and transport fallback", cand.State.Name), err)
		return nil, o.failRequest(req, start, wrapped, cand.State.Name, o.modelFor(req, cand), transport)
	}

	outcome := o.normalizer.Normalize(req.Operation, reply)
	resp := o.buildResponse(req, cand, reply, outcome, transport, start)

	if req.Options.CacheEnabled() && (!outcome.Degraded || o.config.CacheDegraded) {
		o.cache.Set(req.Operation, cacheParams(req), resp, cacheTags(req)...)
	}

	o.recordResult(req, resp)

	o.logger.Info("AI request completed",
		zap.String("request_id", req.ID),
		zap.String("provider", resp.Metadata.Provider),
		zap.String("transport", string(resp.Metadata.Transport)),
		zap.Bool("degraded", resp.Metadata.Degraded),
		zap.Int64("latency_ms", resp.Metadata.ProcessingTimeMs))

	return resp, nil
}

// chooseProvider ranks the current slate and returns the best candidate
// with limiter capacity left. An empty registry is a configuration problem;
// an exhausted slate distinguishes quota exhaustion from benched providers.
func (o *Orchestrator) chooseProvider(req *models.AIRequest) (providers.Candidate, error) {
	if o.registry.Count() == 0 {
		return providers.Candidate{}, services.NewDomainError(services.ErrorTypeNoProvider,
			"no AI providers are registered", nil)
	}

	candidates := o.registry.Candidates()
	if len(candidates) == 0 {
		return providers.Candidate{}, o.slateExhaustedError()
	}

	ranked := o.selector.Rank(candidates, req.Operation, req.Priority, req.Options.PreferredProvider)

	var earliestReset time.Time
	for _, cand := range ranked {
		res := o.limiter.CheckLimit(providerScope(cand.State.Name), o.config.ProviderLimit)
		if res.Allowed {
			return cand, nil
		}
		o.metrics.ObserveRateLimited(providerScope(cand.State.Name))
		if earliestReset.IsZero() || res.ResetAt.Before(earliestReset) {
			earliestReset = res.ResetAt
		}
	}

	return providers.Candidate{}, services.NewDomainError(services.ErrorTypeRateLimited,
		"all providers are rate limited", nil).
		WithDetail("reset_at", earliestReset)
}

// slateExhaustedError explains an empty candidate slate when providers are
// registered: either every budget window is spent or everything is benched
func (o *Orchestrator) slateExhaustedError() error {
	allOutOfBudget := true
	var earliestReset time.Time
	for _, st := range o.registry.Snapshot() {
		if st.HasCapacity() {
			allOutOfBudget = false
		}
		if !st.ResetAt.IsZero() && (earliestReset.IsZero() || st.ResetAt.Before(earliestReset)) {
			earliestReset = st.ResetAt
		}
	}

	if allOutOfBudget {
		return services.NewDomainError(services.ErrorTypeRateLimited,
			"all providers have exhausted their call budgets", nil).
			WithDetail("reset_at", earliestReset)
	}
	return services.NewDomainError(services.ErrorTypeProvider,
		"all providers are temporarily unavailable", nil)
}

// invoke tries the transports in configured order, exhausting retries on
// one before falling back to the next. The returned transport is the one
// that answered, or the last one tried on failure.
func (o *Orchestrator) invoke(ctx context.Context, req *models.AIRequest, cand providers.Candidate, pr *prompt.Prompt) (*providers.Reply, models.TransportType, error) {
	transports := o.transportOrder(cand)

	var lastErr error
	lastTransport := transports[0]
	for i, transport := range transports {
		lastTransport = transport
		reply, err := o.invokeOnTransport(ctx, req, cand, pr, transport)
		if err == nil {
			return reply, transport, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if i < len(transports)-1 {
			o.logger.Warn("transport exhausted, falling back",
				zap.String("request_id", req.ID),
				zap.String("provider", cand.State.Name),
				zap.String("from", string(transport)),
				zap.String("to", string(transports[i+1])),
				zap.Error(err))
		}
	}

	return nil, lastTransport, lastErr
}

// transportOrder resolves the configured mode against the candidate's
// per-transport success rates
func (o *Orchestrator) transportOrder(cand providers.Candidate) []models.TransportType {
	if !o.config.ProxyEnabled {
		return []models.TransportType{models.TransportDirect}
	}

	directFirst := []models.TransportType{models.TransportDirect, models.TransportProxy}
	proxyFirst := []models.TransportType{models.TransportProxy, models.TransportDirect}

	switch o.config.TransportMode {
	case TransportModeProxyFirst:
		return proxyFirst
	case TransportModeOptimal:
		if cand.State.ProxySuccessRate > cand.State.DirectSuccessRate {
			return proxyFirst
		}
		return directFirst
	default:
		return directFirst
	}
}

// invokeOnTransport calls the provider with exponential backoff. Every
// outbound call is recorded against the registry, the limiter, and
// metrics, including retries; locally rejected transports are not.
func (o *Orchestrator) invokeOnTransport(ctx context.Context, req *models.AIRequest, cand providers.Candidate, pr *prompt.Prompt, transport models.TransportType) (*providers.Reply, error) {
	inv := o.buildInvocation(req, cand, pr, transport)
	delay := o.config.RetryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		callStart := time.Now()
		reply, err := cand.Provider.Invoke(ctx, inv)

		if err != nil && isLocalError(err) {
			return nil, err
		}

		latency := time.Since(callStart)
		if reply != nil && reply.Latency > 0 {
			latency = reply.Latency
		}
		o.registry.RecordOutcome(cand.State.Name, providers.Outcome{
			Success:   err == nil,
			Latency:   latency,
			Transport: transport,
		})
		o.limiter.RecordRequest(providerScope(cand.State.Name), err == nil, o.config.ProviderLimit)
		o.metrics.ObserveProviderCall(cand.State.Name, string(transport), err == nil)

		if err == nil {
			return reply, nil
		}
		lastErr = err

		o.logger.Warn("provider call failed",
			zap.String("request_id", req.ID),
			zap.String("provider", cand.State.Name),
			zap.String("transport", string(transport)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if !providers.IsRetryable(err) || attempt == o.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, lastErr
}

// buildInvocation translates the prompt into the provider-neutral call
func (o *Orchestrator) buildInvocation(req *models.AIRequest, cand providers.Candidate, pr *prompt.Prompt, transport models.TransportType) *providers.Invocation {
	inv := &providers.Invocation{
		Operation:   req.Operation,
		Model:       req.Options.PreferredModel,
		System:      pr.System,
		User:        pr.User,
		MaxTokens:   pr.MaxTokens,
		Temperature: pr.Temperature,
		Transport:   transport,
		Metadata:    map[string]string{"request_id": req.ID},
	}

	// The schema rides along whenever the path can use it: tool calls on
	// direct, and the relay decides for itself on proxy.
	if transport == models.TransportProxy || cand.Provider.SupportsFunctionCalling() {
		inv.FunctionName = "record_result"
		inv.FunctionSchema = pr.Schema()
	}

	return inv
}

// buildResponse assembles the canonical response from a normalized outcome
func (o *Orchestrator) buildResponse(req *models.AIRequest, cand providers.Candidate, reply *providers.Reply, outcome *normalize.Outcome, transport models.TransportType, start time.Time) *models.AIResponse {
	model := reply.ModelUsed
	if model == "" {
		model = o.modelFor(req, cand)
	}

	return &models.AIResponse{
		RequestID: req.ID,
		Operation: req.Operation,
		Result:    outcome.Result,
		Metadata: models.ResponseMetadata{
			Provider:         cand.State.Name,
			Model:            model,
			Transport:        transport,
			ProcessingTimeMs: o.now().Sub(start).Milliseconds(),
			Confidence:       outcome.Confidence,
			Degraded:         outcome.Degraded,
			Encoding:         outcome.Encoding,
			Note:             outcome.Note,
			Timestamp:        o.now().UTC(),
			CostEstimate:     cand.State.CostPerCall,
		},
	}
}

func (o *Orchestrator) modelFor(req *models.AIRequest, cand providers.Candidate) string {
	if req.Options.PreferredModel != "" {
		return req.Options.PreferredModel
	}
	if cand.Provider != nil {
		return cand.Provider.DefaultModel()
	}
	return ""
}

// recordResult writes the history record and metrics for a served response
func (o *Orchestrator) recordResult(req *models.AIRequest, resp *models.AIResponse) {
	status := models.HistoryStatusSuccess
	if resp.Metadata.Degraded {
		status = models.HistoryStatusDegraded
	}

	rec := models.NewHistoryRecord(req.ID, req.Operation, status)
	rec.Provider = resp.Metadata.Provider
	rec.Model = resp.Metadata.Model
	rec.Transport = resp.Metadata.Transport
	rec.LatencyMs = resp.Metadata.ProcessingTimeMs
	rec.Cached = resp.Metadata.Cached
	rec.Confidence = resp.Metadata.Confidence
	rec.CostEstimate = resp.Metadata.CostEstimate
	if err := o.history.Record(rec); err != nil {
		o.logger.Warn("failed to record request history", zap.Error(err))
	}

	o.metrics.ObserveRequest(string(req.Operation), string(status), float64(resp.Metadata.ProcessingTimeMs))
}

// failRequest records the failure in history and metrics, then returns the
// same error for the caller to propagate
func (o *Orchestrator) failRequest(req *models.AIRequest, start time.Time, err error, provider, model string, transport models.TransportType) error {
	latencyMs := o.now().Sub(start).Milliseconds()

	rec := models.NewHistoryRecord(req.ID, req.Operation, models.HistoryStatusFailed)
	rec.Provider = provider
	rec.Model = model
	rec.Transport = transport
	rec.LatencyMs = latencyMs
	rec.ErrorCode = services.ErrorCode(err)
	if histErr := o.history.Record(rec); histErr != nil {
		o.logger.Warn("failed to record request history", zap.Error(histErr))
	}

	o.metrics.ObserveRequest(string(req.Operation), string(models.HistoryStatusFailed), float64(latencyMs))

	o.logger.Error("AI request failed",
		zap.String("request_id", req.ID),
		zap.String("operation", string(req.Operation)),
		zap.String("error_code", services.ErrorCode(err)),
		zap.Error(err))

	return err
}

// prepare applies defaults and validates a request before it enters the
// pipeline
func (o *Orchestrator) prepare(req *models.AIRequest) error {
	if req == nil {
		return services.NewDomainError(services.ErrorTypeValidation, "request is required", nil)
	}
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, err.Error(), err)
	}
	return nil
}

func (o *Orchestrator) timeoutFor(req *models.AIRequest) time.Duration {
	if req.Options.TimeoutMs > 0 {
		return time.Duration(req.Options.TimeoutMs) * time.Millisecond
	}
	return o.config.RequestTimeout
}

func (o *Orchestrator) setStatus(requestID string, status RequestStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.states[requestID]; ok {
		st.Status = status
	}
}

func (o *Orchestrator) completeSuccess(requestID string, resp *models.AIResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[requestID]
	if !ok {
		return
	}
	st.Status = StatusCompleted
	st.Response = resp
	st.CompletedAt = o.now()
}

func (o *Orchestrator) completeFailure(requestID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.states[requestID]
	if !ok {
		return
	}
	st.Status = StatusFailed
	st.Error = err.Error()
	st.ErrorCode = services.ErrorCode(err)
	st.CompletedAt = o.now()
}

// pruneStates drops finished request states past the retention window
func (o *Orchestrator) pruneStates(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, st := range o.states {
		if st.Status != StatusCompleted && st.Status != StatusFailed {
			continue
		}
		if now.Sub(st.CompletedAt) > o.config.StatusRetention {
			delete(o.states, id)
		}
	}
}

// isLocalError reports errors raised before any bytes left the process.
// These mark a transport as unusable rather than a provider call failing,
// so they skip stats, limiter, and retry handling entirely.
func isLocalError(err error) bool {
	var provErr *providers.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case "CREDENTIALS_MISSING", "PROXY_UNAVAILABLE", "MARSHAL_ERROR", "REQUEST_ERROR":
			return true
		}
	}
	return false
}

// cacheParams builds the cache key parameters: the payload plus the
// provider and model selectors, so a pinned-provider result never serves a
// request pinned elsewhere
func cacheParams(req *models.AIRequest) map[string]interface{} {
	params := make(map[string]interface{}, len(req.Payload)+2)
	for k, v := range req.Payload {
		params[k] = v
	}
	if req.Options.PreferredProvider != "" {
		params["_provider"] = req.Options.PreferredProvider
	}
	if req.Options.PreferredModel != "" {
		params["_model"] = req.Options.PreferredModel
	}
	return params
}

// cacheTags tags an entry by operation and, when known, subject, so either
// can be invalidated in bulk
func cacheTags(req *models.AIRequest) []string {
	tags := []string{"operation:" + string(req.Operation)}
	if req.Context != nil && req.Context.SubjectID != "" {
		tags = append(tags, "subject:"+req.Context.SubjectID)
	}
	return tags
}
