package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/repositories"
	"go.uber.org/zap"
)

// insertTimeout bounds a single repository write.
const insertTimeout = 5 * time.Second

// ErrPersistenceDisabled is returned by repository-backed queries when the
// service runs without a database.
var ErrPersistenceDisabled = errors.New("history persistence not configured")

// Config holds history service configuration
type Config struct {
	// MemorySize is how many records the in-memory window keeps.
	MemorySize int
	// BufferSize is the capacity of the persistence queue.
	BufferSize int
	// WorkerCount is the number of background writers.
	WorkerCount int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MemorySize:  500,
		BufferSize:  2000,
		WorkerCount: 2,
	}
}

// HistoryService keeps a bounded in-memory window of finished requests and,
// when a repository is configured, persists every record asynchronously so
// the request path never waits on the database.
type HistoryService struct {
	repo        repositories.HistoryRepository
	logger      *zap.Logger
	recordChan  chan *models.HistoryRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup

	mu      sync.Mutex
	started bool

	// recent holds the newest records last; reads walk it backwards.
	recentMu sync.RWMutex
	recent   []*models.HistoryRecord
	memSize  int
}

// NewHistoryService creates a new HistoryService instance. A nil repository
// disables persistence; the in-memory window still works.
func NewHistoryService(repo repositories.HistoryRepository, logger *zap.Logger, config Config) *HistoryService {
	defaults := DefaultConfig()
	if config.MemorySize <= 0 {
		config.MemorySize = defaults.MemorySize
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}

	return &HistoryService{
		repo:        repo,
		logger:      logger,
		recordChan:  make(chan *models.HistoryRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		recent:      make([]*models.HistoryRecord, 0, config.MemorySize),
		memSize:     config.MemorySize,
	}
}

// Start starts the background writers
func (s *HistoryService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("history service already started")
	}

	if s.repo != nil {
		for i := 0; i < s.workerCount; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
	}

	s.started = true
	s.logger.Info("started history service",
		zap.Bool("persistence", s.repo != nil),
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("memory_size", s.memSize))

	return nil
}

// Stop gracefully stops the history service.
// Waits for all queued records to be written.
func (s *HistoryService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("history service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping history service", zap.Int("pending_records", len(s.recordChan)))

	// No more records will be accepted.
	close(s.recordChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("history service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("history service stop timeout after %v", timeout)
	}
}

// Record adds a finished request to the in-memory window and, when
// persistence is configured, queues it for the background writers
// (non-blocking).
func (s *HistoryService) Record(record *models.HistoryRecord) error {
	if record == nil {
		return fmt.Errorf("history record is nil")
	}

	s.remember(record)

	if s.repo == nil {
		return nil
	}

	// The send stays inside the lock so Stop cannot close the channel
	// between the started check and the enqueue.
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("history service not started")
	}

	select {
	case s.recordChan <- record:
		return nil
	default:
		s.logger.Warn("history channel full, dropping record",
			zap.String("request_id", record.RequestID),
			zap.String("operation", string(record.Operation)))
		return fmt.Errorf("history buffer full")
	}
}

// Recent returns up to limit records from the in-memory window, newest
// first. A non-positive limit returns the whole window.
func (s *HistoryService) Recent(limit int) []*models.HistoryRecord {
	s.recentMu.RLock()
	defer s.recentMu.RUnlock()

	n := len(s.recent)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]*models.HistoryRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.recent[i])
	}
	return out
}

// ListPersisted queries the repository for history rows, newest first.
func (s *HistoryService) ListPersisted(ctx context.Context, filter repositories.HistoryFilter, limit, offset int) ([]*models.HistoryRecord, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.ListRecent(ctx, filter, limit, offset)
}

// PersistedStats aggregates persisted history rows since a point in time.
func (s *HistoryService) PersistedStats(ctx context.Context, since time.Time) (*repositories.HistoryStats, error) {
	if s.repo == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.repo.GetStats(ctx, since)
}

// remember appends a record to the in-memory window, dropping the oldest
// entry once the window is full.
func (s *HistoryService) remember(record *models.HistoryRecord) {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	s.recent = append(s.recent, record)
	if len(s.recent) > s.memSize {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:s.memSize]
	}
}

// worker drains the persistence queue
func (s *HistoryService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("history worker started", zap.Int("worker_id", id))

	for record := range s.recordChan {
		if err := s.persist(record); err != nil {
			s.logger.Error("failed to persist history record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("request_id", record.RequestID))
		}
	}

	s.logger.Debug("history worker stopped", zap.Int("worker_id", id))
}

// persist writes a single record with a bounded timeout
func (s *HistoryService) persist(record *models.HistoryRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}

	return nil
}

// GetStats returns statistics about the history service
func (s *HistoryService) GetStats() Stats {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.recentMu.RLock()
	memoryRecords := len(s.recent)
	s.recentMu.RUnlock()

	return Stats{
		MemoryRecords:  memoryRecords,
		MemorySize:     s.memSize,
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.recordChan),
		WorkerCount:    s.workerCount,
		Persisting:     s.repo != nil,
		Started:        started,
	}
}

// Stats represents history service statistics
type Stats struct {
	MemoryRecords  int  `json:"memory_records"`
	MemorySize     int  `json:"memory_size"`
	BufferSize     int  `json:"buffer_size"`
	PendingRecords int  `json:"pending_records"`
	WorkerCount    int  `json:"worker_count"`
	Persisting     bool `json:"persisting"`
	Started        bool `json:"started"`
}
