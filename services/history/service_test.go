package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/models"
	"github.com/meridiancrm/ai-core/repositories"
)

// MockHistoryRepository is a mock implementation of repositories.HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.HistoryRecord
}

func (m *MockHistoryRepository) Insert(ctx context.Context, record *models.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, record)
	m.inserted = append(m.inserted, record)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.HistoryRecord, error) {
	args := m.Called(ctx, requestID)
	if recs := args.Get(0); recs != nil {
		return recs.([]*models.HistoryRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockHistoryRepository) ListRecent(ctx context.Context, filter repositories.HistoryFilter, limit, offset int) ([]*models.HistoryRecord, error) {
	args := m.Called(ctx, filter, limit, offset)
	if recs := args.Get(0); recs != nil {
		return recs.([]*models.HistoryRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockHistoryRepository) GetStats(ctx context.Context, since time.Time) (*repositories.HistoryStats, error) {
	args := m.Called(ctx, since)
	if stats := args.Get(0); stats != nil {
		return stats.(*repositories.HistoryStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockHistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockHistoryRepository) GetInserted() []*models.HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserted
}

func testRecord(requestID string) *models.HistoryRecord {
	rec := models.NewHistoryRecord(requestID, models.OperationScoring, models.HistoryStatusSuccess)
	rec.Provider = "openai"
	rec.Model = "gpt-4o-mini"
	rec.Transport = models.TransportDirect
	rec.LatencyMs = 420
	rec.Confidence = 85
	return rec
}

func TestHistoryService_StartStop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	config := Config{
		MemorySize:  10,
		BufferSize:  10,
		WorkerCount: 2,
	}

	service := NewHistoryService(mockRepo, logger, config)

	err := service.Start()
	require.NoError(t, err)

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.True(t, stats.Persisting)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// Cannot start again
	err = service.Start()
	assert.Error(t, err)

	err = service.Stop(5 * time.Second)
	require.NoError(t, err)

	// Cannot stop again
	err = service.Stop(5 * time.Second)
	assert.Error(t, err)
}

func TestHistoryService_Record(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)

	service := NewHistoryService(mockRepo, logger, DefaultConfig())
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	rec := testRecord("req-1")
	err = service.Record(rec)
	require.NoError(t, err)

	// Wait for the background writer
	time.Sleep(100 * time.Millisecond)

	inserted := mockRepo.GetInserted()
	require.Equal(t, 1, len(inserted))
	assert.Equal(t, "req-1", inserted[0].RequestID)
	assert.Equal(t, models.OperationScoring, inserted[0].Operation)
	assert.Equal(t, models.HistoryStatusSuccess, inserted[0].Status)

	recent := service.Recent(1)
	require.Equal(t, 1, len(recent))
	assert.Equal(t, "req-1", recent[0].RequestID)
}

func TestHistoryService_MemoryOnly(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	// No repository: records land in the window without Start.
	service := NewHistoryService(nil, logger, Config{MemorySize: 10})

	err := service.Record(testRecord("req-1"))
	require.NoError(t, err)

	recent := service.Recent(0)
	require.Equal(t, 1, len(recent))
	assert.Equal(t, "req-1", recent[0].RequestID)

	stats := service.GetStats()
	assert.False(t, stats.Persisting)
	assert.Equal(t, 1, stats.MemoryRecords)
}

func TestHistoryService_Recent_NewestFirst(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	service := NewHistoryService(nil, logger, Config{MemorySize: 100})

	for i := 1; i <= 10; i++ {
		require.NoError(t, service.Record(testRecord(fmt.Sprintf("req-%d", i))))
	}

	recent := service.Recent(4)
	require.Equal(t, 4, len(recent))
	assert.Equal(t, "req-10", recent[0].RequestID)
	assert.Equal(t, "req-9", recent[1].RequestID)
	assert.Equal(t, "req-8", recent[2].RequestID)
	assert.Equal(t, "req-7", recent[3].RequestID)

	// A limit beyond the window returns everything.
	assert.Equal(t, 10, len(service.Recent(50)))
}

func TestHistoryService_WindowDropsOldest(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	service := NewHistoryService(nil, logger, Config{MemorySize: 3})

	for i := 1; i <= 5; i++ {
		require.NoError(t, service.Record(testRecord(fmt.Sprintf("req-%d", i))))
	}

	recent := service.Recent(0)
	require.Equal(t, 3, len(recent))
	assert.Equal(t, "req-5", recent[0].RequestID)
	assert.Equal(t, "req-4", recent[1].RequestID)
	assert.Equal(t, "req-3", recent[2].RequestID)
}

func TestHistoryService_ConcurrentRecording(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	config := Config{
		MemorySize:  500,
		BufferSize:  1000,
		WorkerCount: 5,
	}

	service := NewHistoryService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	goroutineCount := 10
	recordsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				service.Record(testRecord(fmt.Sprintf("req-%d-%d", worker, j)))
			}
		}(i)
	}

	wg.Wait()

	// Wait for all records to be written
	time.Sleep(1 * time.Second)

	expectedCount := goroutineCount * recordsPerGoroutine
	assert.Equal(t, expectedCount, len(mockRepo.GetInserted()))
	assert.Equal(t, expectedCount, len(service.Recent(0)))
}

func TestHistoryService_BufferFull(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	config := Config{
		MemorySize:  50,
		BufferSize:  5,
		WorkerCount: 1,
	}

	service := NewHistoryService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	// Slow down the writer
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(100 * time.Millisecond)
	})

	successCount := 0
	for i := 0; i < 20; i++ {
		if err := service.Record(testRecord(fmt.Sprintf("req-%d", i))); err == nil {
			successCount++
		}
	}

	// Some records are dropped from the persistence queue
	assert.Less(t, successCount, 20)

	// The in-memory window keeps all of them
	assert.Equal(t, 20, len(service.Recent(0)))
}

func TestHistoryService_RecordAfterStop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)

	service := NewHistoryService(mockRepo, logger, DefaultConfig())
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(5*time.Second))

	err := service.Record(testRecord("req-late"))
	assert.Error(t, err)

	// The window still accepted it
	assert.Equal(t, 1, len(service.Recent(0)))
}

func TestHistoryService_StopTimeout(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	config := Config{
		MemorySize:  10,
		BufferSize:  100,
		WorkerCount: 1,
	}

	service := NewHistoryService(mockRepo, logger, config)
	err := service.Start()
	require.NoError(t, err)

	// Very slow writer
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		time.Sleep(2 * time.Second)
	})

	service.Record(testRecord("req-slow"))
	time.Sleep(50 * time.Millisecond)

	err = service.Stop(100 * time.Millisecond)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestHistoryService_ListPersisted(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	service := NewHistoryService(mockRepo, logger, DefaultConfig())

	filter := repositories.HistoryFilter{Provider: "openai"}
	rows := []*models.HistoryRecord{testRecord("req-1")}
	mockRepo.On("ListRecent", mock.Anything, filter, 25, 0).Return(rows, nil)

	got, err := service.ListPersisted(context.Background(), filter, 25, 0)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	memOnly := NewHistoryService(nil, logger, DefaultConfig())
	_, err = memOnly.ListPersisted(context.Background(), repositories.HistoryFilter{}, 10, 0)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
}

func TestHistoryService_PersistedStats(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	service := NewHistoryService(mockRepo, logger, DefaultConfig())

	since := time.Now().Add(-24 * time.Hour)
	stats := &repositories.HistoryStats{TotalRequests: 12, Successful: 10, Failed: 2}
	mockRepo.On("GetStats", mock.Anything, since).Return(stats, nil)

	got, err := service.PersistedStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 12, got.TotalRequests)

	memOnly := NewHistoryService(nil, logger, DefaultConfig())
	_, err = memOnly.PersistedStats(context.Background(), since)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
}

func TestHistoryService_GetStats(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockRepo := new(MockHistoryRepository)
	config := Config{
		MemorySize:  100,
		BufferSize:  100,
		WorkerCount: 3,
	}

	service := NewHistoryService(mockRepo, logger, config)

	// Before start
	stats := service.GetStats()
	assert.False(t, stats.Started)
	assert.Equal(t, 3, stats.WorkerCount)
	assert.Equal(t, 100, stats.BufferSize)
	assert.Equal(t, 0, stats.PendingRecords)

	err := service.Start()
	require.NoError(t, err)
	defer service.Stop(5 * time.Second)

	stats = service.GetStats()
	assert.True(t, stats.Started)
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, 500, config.MemorySize)
	assert.Equal(t, 2000, config.BufferSize)
	assert.Equal(t, 2, config.WorkerCount)
}
