package registry

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// SnapshotCache persists the last successfully applied payload per
// (group, dataID), one bucket per group. It backs degraded starts when the
// registry is unreachable.
type SnapshotCache struct {
	db *bolt.DB
}

// OpenSnapshotCache opens (or creates) the cache file.
func OpenSnapshotCache(path string) (*SnapshotCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{db: db}, nil
}

// Put stores the payload for a key, overwriting any previous snapshot.
func (c *SnapshotCache) Put(group, dataID string, payload []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(group))
		if err != nil {
			return err
		}
		return b.Put([]byte(dataID), payload)
	})
}

// Get returns the stored payload, or (nil, nil) when no snapshot exists.
func (c *SnapshotCache) Get(group, dataID string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(group))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(dataID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Close closes the underlying database.
func (c *SnapshotCache) Close() error {
	return c.db.Close()
}

// FallbackConfigService serves reads from an inner ConfigService and falls
// back to the snapshot cache when the inner read fails or reports absent.
// Listener registration always goes to the inner service.
type FallbackConfigService struct {
	inner ConfigService
	cache *SnapshotCache
	log   *zap.Logger
}

// NewFallbackConfigService wraps inner with snapshot fallback.
func NewFallbackConfigService(inner ConfigService, cache *SnapshotCache, log *zap.Logger) *FallbackConfigService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackConfigService{inner: inner, cache: cache, log: log.Named("config_fallback")}
}

func (f *FallbackConfigService) GetConfig(ctx context.Context, dataID, group string) ([]byte, error) {
	payload, err := f.inner.GetConfig(ctx, dataID, group)
	if err == nil && payload != nil {
		return payload, nil
	}
	cached, cerr := f.cache.Get(group, dataID)
	if cerr == nil && cached != nil {
		f.log.Warn("serving config from snapshot",
			zap.String("data_id", dataID),
			zap.String("group", group),
			zap.Error(err))
		return cached, nil
	}
	return payload, err
}

func (f *FallbackConfigService) AddListener(ctx context.Context, dataID, group string, l Listener) error {
	return f.inner.AddListener(ctx, dataID, group, l)
}

func (f *FallbackConfigService) RemoveListener(ctx context.Context, dataID, group string, l Listener) error {
	return f.inner.RemoveListener(ctx, dataID, group, l)
}
