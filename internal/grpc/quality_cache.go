package grpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/godilite/qa-workflow/internal/repository/models"
	"github.com/godilite/qa-workflow/pkg/cache"
)

type CacheKeyType string

const (
	cacheKeyLatestQuality CacheKeyType = "grpc:latest_quality"

	defaultCacheDuration = 10 * time.Minute
	defaultSetTimeout    = 5 * time.Second
)

// SnapshotFetcher loads the latest stored snapshot of a domain.
type SnapshotFetcher func(ctx context.Context, domainID string) (*models.QualitySnapshot, error)

// QualityCache keeps the latest quality snapshot of each domain in the shared
// cache. Misses are filled from the store; newly stored snapshots are written
// through. A fill whose fetch overlapped a store is not written, so it can
// never replace the newer snapshot.
type QualityCache struct {
	cache  Cacher
	ttl    time.Duration
	logger *zap.Logger
	sf     singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

func NewQualityCache(c Cacher, ttl time.Duration, logger *zap.Logger) *QualityCache {
	if c == nil {
		panic("nil Cacher provided to NewQualityCache")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultCacheDuration
	}
	return &QualityCache{
		cache:       c,
		ttl:         ttl,
		logger:      logger.Named("quality-cache"),
		generations: map[string]uint64{},
	}
}

func latestQualityKey(domainID string) string {
	return fmt.Sprintf("%s:%s", cacheKeyLatestQuality, domainID)
}

// addTTLJitter adds up to ±15s random jitter to TTL to avoid mass expiration.
func addTTLJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	jitter := time.Duration(rand.Intn(30)-15) * time.Second
	return ttl + jitter
}

func (q *QualityCache) generation(domainID string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.generations[domainID]
}

// Latest returns the cached snapshot of domainID. Concurrent misses share a
// single fetch.
func (q *QualityCache) Latest(ctx context.Context, domainID string, fetch SnapshotFetcher) (models.QualitySnapshot, error) {
	key := latestQualityKey(domainID)

	var cached models.QualitySnapshot
	err := q.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		q.logger.Debug("cache hit", zap.String("key", key))
		return cached, nil
	case errors.Is(err, cache.ErrMiss):
		q.logger.Debug("cache miss", zap.String("key", key))
	default:
		q.logger.Warn("cache get error (treating as miss)", zap.String("key", key), zap.Error(err))
	}

	v, err, shared := q.sf.Do(key, func() (any, error) {
		gen := q.generation(domainID)
		s, err := fetch(ctx, domainID)
		if err != nil {
			return nil, err
		}
		q.fill(ctx, domainID, gen, *s)
		return *s, nil
	})
	if err != nil {
		return models.QualitySnapshot{}, err
	}
	if shared {
		q.logger.Debug("singleflight shared result", zap.String("key", key))
	}
	return v.(models.QualitySnapshot), nil
}

// fill caches s unless a snapshot was stored since gen was read.
func (q *QualityCache) fill(ctx context.Context, domainID string, gen uint64, s models.QualitySnapshot) {
	key := latestQualityKey(domainID)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.generations[domainID] != gen {
		q.logger.Debug("snapshot stored during fetch, fill skipped", zap.String("key", key))
		return
	}

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSetTimeout)
	defer cancel()
	if err := q.cache.Set(setCtx, key, s, addTTLJitter(q.ttl)); err != nil {
		q.logger.Warn("failed to set cache on miss", zap.String("key", key), zap.Error(err))
	}
}

// Store writes a newly persisted snapshot through to the cache. It has the
// shape of a service.SnapshotListener. If the write fails the entry is
// deleted instead.
func (q *QualityCache) Store(ctx context.Context, s *models.QualitySnapshot) error {
	key := latestQualityKey(s.DomainID)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.generations[s.DomainID]++

	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSetTimeout)
	defer cancel()
	err := q.cache.Set(setCtx, key, *s, addTTLJitter(q.ttl))
	if err == nil {
		return nil
	}
	q.logger.Warn("write-through failed, dropping entry", zap.String("key", key), zap.Error(err))
	if delErr := q.cache.Delete(setCtx, key); delErr != nil {
		return errors.Join(err, delErr)
	}
	return nil
}
