package orchestrator

import (
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/services/providers"
	"github.com/meridiancrm/ai-core/services/ratelimit"
)

// Transport ordering modes. optimal picks whichever transport has the
// higher per-transport success rate for the chosen provider; ties go to
// direct.
const (
	TransportModeDirectFirst = "direct_first"
	TransportModeProxyFirst  = "proxy_first"
	TransportModeOptimal     = "optimal"
)

// Config holds the orchestration pipeline settings
type Config struct {
	// QueueCapacity bounds the priority queue; Submit fails when full
	QueueCapacity int

	// PollInterval is the queue pump's tick. One request is processed per
	// tick, which keeps outbound provider traffic sequential.
	PollInterval time.Duration

	// MaxRetries is the maximum number of attempts per transport
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; it doubles per retry
	RetryBaseDelay time.Duration

	// RequestTimeout bounds one request end to end when the request does
	// not carry its own timeout
	RequestTimeout time.Duration

	// TransportMode orders the direct and proxy transports
	TransportMode string

	// ProxyEnabled reports whether the relay transport is configured at
	// all; when false only direct is attempted
	ProxyEnabled bool

	// Bulk analysis settings
	BulkMaxSubjects int
	BulkBatchSize   int
	BulkBatchDelay  time.Duration

	// CacheDegraded stores degraded results in the response cache. Off by
	// default: a transient parse failure should not be served for a full
	// TTL.
	CacheDegraded bool

	// StatusRetention is how long finished request states remain readable
	// through GetRequest
	StatusRetention time.Duration

	// GlobalLimit applies across all requests; ProviderLimit applies per
	// provider key
	GlobalLimit   ratelimit.Config
	ProviderLimit ratelimit.Config
}

// DefaultConfig returns the default orchestration settings
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   100,
		PollInterval:    100 * time.Millisecond,
		MaxRetries:      3,
		RetryBaseDelay:  500 * time.Millisecond,
		RequestTimeout:  40 * time.Second,
		TransportMode:   TransportModeDirectFirst,
		BulkMaxSubjects: 50,
		BulkBatchSize:   5,
		BulkBatchDelay:  time.Second,
		StatusRetention: 10 * time.Minute,
		GlobalLimit:     ratelimit.Config{MaxRequests: 120, Window: time.Minute},
		ProviderLimit:   ratelimit.Config{MaxRequests: 60, Window: time.Minute},
	}
}

// RequestStatus is the lifecycle stage of a submitted request
type RequestStatus string

const (
	StatusQueued     RequestStatus = "queued"
	StatusProcessing RequestStatus = "processing"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

// RequestState is the caller-visible record of a submitted request. Response
// is set once Status is completed; Error and ErrorCode once it is failed.
type RequestState struct {
	RequestID   string               `json:"request_id"`
	Operation   models.OperationType `json:"operation"`
	Priority    models.Priority      `json:"priority"`
	Status      RequestStatus        `json:"status"`
	Response    *models.AIResponse   `json:"response,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorCode   string               `json:"error_code,omitempty"`
	SubmittedAt time.Time            `json:"submitted_at"`
	CompletedAt time.Time            `json:"completed_at,omitempty"`
}

// ProviderStatus combines a provider's registry state with its limiter
// window. WindowRemaining is -1 when no provider limit is configured.
type ProviderStatus struct {
	providers.ProviderState
	WindowRequests  int `json:"window_requests"`
	WindowRemaining int `json:"window_remaining"`
}
