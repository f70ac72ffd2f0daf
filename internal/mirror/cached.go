package mirror

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/internal/cache"
)

// Cache is the subset of cache.RedisCache used for mirror reads
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedStore serves Fetch from a read-through cache and drops the cached
// entry on every write. Cache failures fall back to the wrapped store.
type CachedStore struct {
	Store
	cache Cache
	ttl   time.Duration
}

// NewCachedStore wraps next with a read-through cache
func NewCachedStore(next Store, c Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: next, cache: c, ttl: ttl}
}

func (s *CachedStore) Fetch(ctx context.Context, trackingID string) (*Record, error) {
	key := cache.ShipmentKey(trackingID)

	var cached Record
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if err != cache.ErrCacheMiss {
		log.Debug().Err(err).Str("tracking_id", trackingID).Msg("Mirror cache read failed")
	}

	record, err := s.Store.Fetch(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, record, s.ttl); err != nil {
		log.Debug().Err(err).Str("tracking_id", trackingID).Msg("Mirror cache write failed")
	}

	return record, nil
}

func (s *CachedStore) AppendAnnotation(ctx context.Context, trackingID string, annotation Annotation) error {
	if err := s.Store.AppendAnnotation(ctx, trackingID, annotation); err != nil {
		return err
	}
	s.invalidate(ctx, trackingID)
	return nil
}

func (s *CachedStore) Create(ctx context.Context, record *Record) error {
	if err := s.Store.Create(ctx, record); err != nil {
		return err
	}
	s.invalidate(ctx, record.TrackingID)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, trackingID string) {
	if err := s.cache.Delete(ctx, cache.ShipmentKey(trackingID)); err != nil {
		log.Warn().Err(err).Str("tracking_id", trackingID).Msg("Failed to invalidate mirror cache entry")
	}
}
