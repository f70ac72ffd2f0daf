package mirror_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/cache"
	"example.com/backstage/services/shipment/internal/mirror"
	"example.com/backstage/services/shipment/internal/mirror/mirrortest"
)

func newCachedStore(t *testing.T) (*mirror.CachedStore, *mirrortest.MockStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	redisCache, err := cache.NewRedisCache(config.RedisConfig{Host: mr.Host(), Port: port, Enabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { redisCache.Close() })

	store := new(mirrortest.MockStore)
	return mirror.NewCachedStore(store, redisCache, time.Minute), store, mr
}

func TestCachedStoreFetchReadsThrough(t *testing.T) {
	cached, store, mr := newCachedStore(t)
	ctx := context.Background()

	record := &mirror.Record{
		TrackingID: "TRACK001",
		Status:     mirror.StatusPending,
		Notes:      []mirror.Annotation{{Text: "Package received", Author: "0xabc"}},
	}
	store.On("Fetch", mock.Anything, "TRACK001").Return(record, nil).Once()

	first, err := cached.Fetch(ctx, "TRACK001")
	require.NoError(t, err)
	assert.Same(t, record, first)
	assert.True(t, mr.Exists(cache.ShipmentKey("TRACK001")))

	second, err := cached.Fetch(ctx, "TRACK001")
	require.NoError(t, err)
	assert.Equal(t, "TRACK001", second.TrackingID)
	assert.Equal(t, "Package received", second.Notes[0].Text)

	store.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestCachedStoreAppendInvalidates(t *testing.T) {
	cached, store, mr := newCachedStore(t)
	ctx := context.Background()

	store.On("Fetch", mock.Anything, "TRACK001").Return(&mirror.Record{TrackingID: "TRACK001"}, nil)
	store.On("AppendAnnotation", mock.Anything, "TRACK001", mock.Anything).Return(nil)

	_, err := cached.Fetch(ctx, "TRACK001")
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.ShipmentKey("TRACK001")))

	require.NoError(t, cached.AppendAnnotation(ctx, "TRACK001", mirror.Annotation{Text: "Arrived at hub"}))
	assert.False(t, mr.Exists(cache.ShipmentKey("TRACK001")))

	_, err = cached.Fetch(ctx, "TRACK001")
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestCachedStoreDoesNotCacheMisses(t *testing.T) {
	cached, store, mr := newCachedStore(t)

	store.On("Fetch", mock.Anything, "MISSING").Return(nil, mirror.ErrNotFound)

	_, err := cached.Fetch(context.Background(), "MISSING")
	require.ErrorIs(t, err, mirror.ErrNotFound)
	assert.False(t, mr.Exists(cache.ShipmentKey("MISSING")))
}

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	cached, store, mr := newCachedStore(t)
	mr.Close()

	store.On("Fetch", mock.Anything, "TRACK001").Return(&mirror.Record{TrackingID: "TRACK001"}, nil)
	store.On("AppendAnnotation", mock.Anything, "TRACK001", mock.Anything).Return(nil)

	record, err := cached.Fetch(context.Background(), "TRACK001")
	require.NoError(t, err)
	assert.Equal(t, "TRACK001", record.TrackingID)

	require.NoError(t, cached.AppendAnnotation(context.Background(), "TRACK001", mirror.Annotation{Text: "Arrived at hub"}))
}

func TestCachedStoreAppendErrorSkipsInvalidation(t *testing.T) {
	cached, store, _ := newCachedStore(t)

	store.On("AppendAnnotation", mock.Anything, "MISSING", mock.Anything).Return(mirror.ErrNotFound)

	err := cached.AppendAnnotation(context.Background(), "MISSING", mirror.Annotation{Text: "Arrived at hub"})
	require.ErrorIs(t, err, mirror.ErrNotFound)
}
