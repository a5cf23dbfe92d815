package boundarycache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"github.com/rpattn/matters/internal/domain"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache(context.Background(), "redis://"+s.Addr(), time.Hour)
	gt.NoError(t, err).Required()
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestSetAndGet(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	matterID := uuid.New()

	first := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	last := first.Add(5 * time.Hour)
	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{First: &first, Last: &last})).Required()

	got, ok, err := cache.Get(ctx, matterID)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
	gt.Bool(t, got.First.Equal(first)).True()
	gt.Bool(t, got.Last.Equal(last)).True()
}

func TestGetMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	_, ok, err := cache.Get(context.Background(), uuid.New())
	gt.NoError(t, err)
	gt.Bool(t, ok).False()
}

func TestEmptyBoundariesRoundTrip(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	matterID := uuid.New()

	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{})).Required()

	got, ok, err := cache.Get(ctx, matterID)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
	gt.Value(t, got.First).Nil()
	gt.Value(t, got.Last).Nil()
}

func TestEntriesExpire(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()
	matterID := uuid.New()

	now := time.Now().UTC()
	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{First: &now, Last: &now})).Required()

	s.FastForward(2 * time.Hour)

	_, ok, err := cache.Get(ctx, matterID)
	gt.NoError(t, err)
	gt.Bool(t, ok).False()
}

func TestCorruptEntryIsAnError(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	matterID := uuid.New()
	gt.NoError(t, cache.client.HSet(ctx, cache.key(matterID), "payload", "{broken").Err()).Required()

	_, ok, err := cache.Get(ctx, matterID)
	gt.Value(t, err).NotNil()
	gt.Bool(t, ok).False()
}

func TestSetNeverMovesLastBackwards(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	matterID := uuid.New()

	first := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	newer := first.Add(3 * time.Hour)
	older := first.Add(time.Hour)

	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{First: &first, Last: &newer})).Required()
	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{First: &first, Last: &older})).Required()
	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{})).Required()

	got, ok, err := cache.Get(ctx, matterID)
	gt.NoError(t, err).Required()
	gt.Bool(t, ok).True()
	gt.Bool(t, got.Last.Equal(newer)).True()

	latest := newer.Add(time.Hour)
	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{First: &first, Last: &latest})).Required()
	got, _, err = cache.Get(ctx, matterID)
	gt.NoError(t, err).Required()
	gt.Bool(t, got.Last.Equal(latest)).True()
}

func TestDelete(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()
	matterID := uuid.New()

	now := time.Now().UTC()
	gt.NoError(t, cache.Set(ctx, matterID, domain.PhaseBoundaries{First: &now, Last: &now})).Required()
	gt.NoError(t, cache.Delete(ctx, matterID)).Required()

	_, ok, err := cache.Get(ctx, matterID)
	gt.NoError(t, err)
	gt.Bool(t, ok).False()

	gt.NoError(t, cache.Delete(ctx, uuid.New()))
}

func TestNoop(t *testing.T) {
	var cache Cache = Noop{}
	gt.NoError(t, cache.Set(context.Background(), uuid.New(), domain.PhaseBoundaries{}))
	gt.NoError(t, cache.Delete(context.Background(), uuid.New()))
	_, ok, err := cache.Get(context.Background(), uuid.New())
	gt.NoError(t, err)
	gt.Bool(t, ok).False()
}
