package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridiancrm/ai-core/models"
)

// SnapshotStore persists the cache contents as a single opaque blob.
// Implementations must treat a missing snapshot as (nil, nil), not an error.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// snapshotTuple is one [key, entry] pair in the snapshot blob. The blob is
// a JSON array of these two-element arrays, which keeps snapshots written
// by older deployments readable.
type snapshotTuple struct {
	Key   string
	Entry persistedEntry
}

// persistedEntry is the durable form of a cache entry.
type persistedEntry struct {
	Response  *models.AIResponse `json:"response"`
	Tags      []string           `json:"tags,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// MarshalJSON encodes the tuple as a two-element array.
func (t snapshotTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{t.Key, t.Entry})
}

// UnmarshalJSON decodes a two-element array into the tuple.
func (t *snapshotTuple) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[0], &t.Key); err != nil {
		return fmt.Errorf("snapshot tuple key: %w", err)
	}
	if err := json.Unmarshal(raw[1], &t.Entry); err != nil {
		return fmt.Errorf("snapshot tuple entry: %w", err)
	}
	return nil
}

// FileSnapshotStore persists the snapshot blob to a local file.
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore creates a new FileSnapshotStore writing to path.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

// Load reads the snapshot file. A missing file is not an error.
func (s *FileSnapshotStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return data, nil
}

// Save writes the snapshot via a temp file and rename, so a crash mid-write
// never leaves a truncated snapshot behind.
func (s *FileSnapshotStore) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// RedisSnapshotStore persists the snapshot blob under a single Redis key.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotStore creates a new RedisSnapshotStore using the given key.
func NewRedisSnapshotStore(client *redis.Client, key string) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, key: key}
}

// Load reads the snapshot blob. A missing key is not an error.
func (s *RedisSnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}
	return data, nil
}

// Save writes the snapshot blob without expiry; snapshot freshness is
// governed by the entries inside it, not by the key.
func (s *RedisSnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}
	return nil
}
