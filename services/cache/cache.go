package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridiancrm/ai-core/models"
)

const saveTimeout = 5 * time.Second

// Config controls cache sizing, per-operation freshness, and sweeping.
type Config struct {
	Capacity      int
	DefaultTTL    time.Duration
	OperationTTLs map[models.OperationType]time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the standard cache configuration. Enrichment data
// changes rarely and keeps for a day; scores drift with activity and keep
// for an hour; generated emails go stale fastest.
func DefaultConfig() Config {
	return Config{
		Capacity:   1000,
		DefaultTTL: time.Hour,
		OperationTTLs: map[models.OperationType]time.Duration{
			models.OperationEnrichment:      24 * time.Hour,
			models.OperationScoring:         time.Hour,
			models.OperationEmailGeneration: 30 * time.Minute,
		},
		SweepInterval: 5 * time.Minute,
	}
}

// TTLFor returns the TTL for an operation, falling back to DefaultTTL.
func (c Config) TTLFor(operation models.OperationType) time.Duration {
	if ttl, ok := c.OperationTTLs[operation]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// cacheEntry represents a single cache entry with TTL and tags
type cacheEntry struct {
	key       string
	response  *models.AIResponse
	tags      []string
	createdAt time.Time
	expiresAt time.Time
	element   *list.Element // position in the creation-order list
}

// isExpired checks if the cache entry has expired. An entry whose TTL
// elapses at T is already expired at exactly T.
func (e *cacheEntry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// ResponseCache is an in-memory cache for AI responses with per-operation
// TTLs and tag-based invalidation. When full it evicts the single entry
// that was created first: reads never reorder entries, so a hot but stale
// entry cannot outlive a cold fresh one.
//
// If a SnapshotStore is configured, the cache persists its contents after
// every mutation and restores them at startup, both best-effort.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ageList *list.List // front = oldest by creation
	config  Config
	logger  *zap.Logger
	store   SnapshotStore

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	saveCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// now is swappable in tests
	now func() time.Time
}

// NewResponseCache creates a new ResponseCache. store may be nil, in which
// case the cache is purely in-memory.
func NewResponseCache(config Config, store SnapshotStore, logger *zap.Logger) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*cacheEntry),
		ageList: list.New(),
		config:  config,
		logger:  logger,
		store:   store,
		saveCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// Get retrieves a cached response for the operation and parameters.
// Returns a copy flagged as cached, so callers cannot mutate the stored
// entry through the returned pointer.
func (c *ResponseCache) Get(operation models.OperationType, params map[string]interface{}) (*models.AIResponse, bool) {
	key := BuildKey(operation, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if entry.isExpired(c.now()) {
		c.removeEntry(entry)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.hits++
	resp := *entry.response
	resp.Result = cloneResult(entry.response.Result)
	resp.Metadata.Cached = true
	return &resp, true
}

// cloneResult deep-copies a result through a JSON round trip, keeping the
// concrete type: a *ScoringResult comes back as a fresh *ScoringResult, a
// snapshot-rehydrated map comes back as a fresh map. Falls back to the
// original value if the result does not survive the round trip.
func cloneResult(result interface{}) interface{} {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return result
	}
	clone := reflect.New(reflect.TypeOf(result))
	if err := json.Unmarshal(data, clone.Interface()); err != nil {
		return result
	}
	return clone.Elem().Interface()
}

// Set stores a response under the operation and parameters. Tags allow
// later invalidation of related entries, e.g. everything for one contact.
func (c *ResponseCache) Set(operation models.OperationType, params map[string]interface{}, response *models.AIResponse, tags ...string) {
	if response == nil {
		return
	}

	key := BuildKey(operation, params)
	now := c.now()
	expiresAt := now.Add(c.config.TTLFor(operation))

	c.mu.Lock()
	if entry, exists := c.entries[key]; exists {
		// Rewriting a key makes it the newest entry by creation.
		entry.response = response
		entry.tags = tags
		entry.createdAt = now
		entry.expiresAt = expiresAt
		c.ageList.MoveToBack(entry.element)
		c.mu.Unlock()
		c.notifySave()
		return
	}

	if c.config.Capacity > 0 && len(c.entries) >= c.config.Capacity {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:       key,
		response:  response,
		tags:      tags,
		createdAt: now,
		expiresAt: expiresAt,
	}
	entry.element = c.ageList.PushBack(key)
	c.entries[key] = entry
	c.mu.Unlock()

	c.notifySave()
}

// Invalidate removes the entry for the operation and parameters. Returns
// whether an entry was removed.
func (c *ResponseCache) Invalidate(operation models.OperationType, params map[string]interface{}) bool {
	key := BuildKey(operation, params)

	c.mu.Lock()
	entry, exists := c.entries[key]
	if exists {
		c.removeEntry(entry)
	}
	c.mu.Unlock()

	if exists {
		c.notifySave()
	}
	return exists
}

// InvalidateByTag removes all entries carrying the tag and returns how many
// were removed.
func (c *ResponseCache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	removed := 0
	for _, entry := range c.entries {
		for _, t := range entry.tags {
			if t == tag {
				c.removeEntry(entry)
				removed++
				break
			}
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.notifySave()
	}
	return removed
}

// Clear removes all entries from the cache and returns how many were removed.
func (c *ResponseCache) Clear() int {
	c.mu.Lock()
	removed := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.ageList.Init()
	c.mu.Unlock()

	if removed > 0 {
		c.notifySave()
	}
	return removed
}

// CleanupExpired removes all expired entries and returns how many were removed.
func (c *ResponseCache) CleanupExpired() int {
	c.mu.Lock()
	now := c.now()
	expired := make([]*cacheEntry, 0)
	for _, entry := range c.entries {
		if entry.isExpired(now) {
			expired = append(expired, entry)
		}
	}
	for _, entry := range expired {
		c.removeEntry(entry)
		c.expirations++
	}
	c.mu.Unlock()

	if len(expired) > 0 {
		c.notifySave()
	}
	return len(expired)
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *ResponseCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:        len(c.entries),
		MaxSize:     c.config.Capacity,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		HitRate:     c.calculateHitRate(),
	}
}

// calculateHitRate calculates the cache hit rate (must be called with lock held)
func (c *ResponseCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// LoadSnapshot restores entries from the snapshot store. Corrupt snapshots
// are discarded with a warning; the cache simply starts empty. Entries that
// expired while the process was down are skipped.
func (c *ResponseCache) LoadSnapshot(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	data, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var tuples []snapshotTuple
	if err := json.Unmarshal(data, &tuples); err != nil {
		c.logger.Warn("discarding corrupt cache snapshot", zap.Error(err))
		return nil
	}

	sort.SliceStable(tuples, func(i, j int) bool {
		return tuples[i].Entry.CreatedAt.Before(tuples[j].Entry.CreatedAt)
	})

	now := c.now()
	restored := 0

	c.mu.Lock()
	for _, tuple := range tuples {
		if tuple.Key == "" || tuple.Entry.Response == nil {
			continue
		}
		if !now.Before(tuple.Entry.ExpiresAt) {
			continue
		}
		if c.config.Capacity > 0 && len(c.entries) >= c.config.Capacity {
			break
		}
		if _, exists := c.entries[tuple.Key]; exists {
			continue
		}

		entry := &cacheEntry{
			key:       tuple.Key,
			response:  tuple.Entry.Response,
			tags:      tuple.Entry.Tags,
			createdAt: tuple.Entry.CreatedAt,
			expiresAt: tuple.Entry.ExpiresAt,
		}
		entry.element = c.ageList.PushBack(tuple.Key)
		c.entries[tuple.Key] = entry
		restored++
	}
	c.mu.Unlock()

	if restored > 0 {
		c.logger.Info("restored cache entries from snapshot", zap.Int("entries", restored))
	}
	return nil
}

// Start launches the background workers: the expiry sweeper and, when a
// snapshot store is configured, the persistence writer.
func (c *ResponseCache) Start() {
	if c.store != nil {
		c.wg.Add(1)
		go c.persistLoop()
	}
	if c.config.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
}

// Stop halts the background workers. A final snapshot is written before the
// persistence writer exits.
func (c *ResponseCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// persistLoop writes the snapshot whenever the cache changes. Writes are
// coalesced: a burst of mutations produces one snapshot of the final state.
func (c *ResponseCache) persistLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.saveSnapshot()
			return
		case <-c.saveCh:
			c.saveSnapshot()
		}
	}
}

// sweepLoop periodically drops expired entries
func (c *ResponseCache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := c.CleanupExpired(); removed > 0 {
				c.logger.Debug("swept expired cache entries", zap.Int("entries", removed))
			}
		case <-c.stopCh:
			return
		}
	}
}

// saveSnapshot encodes the cache and writes it to the store. Persistence is
// best-effort: failures are logged and never surface to callers.
func (c *ResponseCache) saveSnapshot() {
	data, err := c.encodeSnapshot()
	if err != nil {
		c.logger.Warn("failed to encode cache snapshot", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := c.store.Save(ctx, data); err != nil {
		c.logger.Warn("failed to persist cache snapshot", zap.Error(err))
	}
}

// encodeSnapshot serializes entries in creation order, oldest first.
func (c *ResponseCache) encodeSnapshot() ([]byte, error) {
	c.mu.RLock()
	tuples := make([]snapshotTuple, 0, len(c.entries))
	for el := c.ageList.Front(); el != nil; el = el.Next() {
		key := el.Value.(string)
		entry, exists := c.entries[key]
		if !exists {
			continue
		}
		tuples = append(tuples, snapshotTuple{
			Key: key,
			Entry: persistedEntry{
				Response:  entry.response,
				Tags:      entry.tags,
				CreatedAt: entry.createdAt,
				ExpiresAt: entry.expiresAt,
			},
		})
	}
	c.mu.RUnlock()

	return json.Marshal(tuples)
}

// notifySave signals the persistence writer without blocking. A pending
// signal already covers this mutation.
func (c *ResponseCache) notifySave() {
	if c.store == nil {
		return
	}
	select {
	case c.saveCh <- struct{}{}:
	default:
	}
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *ResponseCache) removeEntry(entry *cacheEntry) {
	c.ageList.Remove(entry.element)
	delete(c.entries, entry.key)
}

// evictOldest evicts the entry created earliest (must be called with lock held)
func (c *ResponseCache) evictOldest() {
	front := c.ageList.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	if entry, exists := c.entries[key]; exists {
		c.removeEntry(entry)
		c.evictions++
	}
}
