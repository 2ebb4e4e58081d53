package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/cache"
	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveLot() *domain.Lot {
	return &domain.Lot{
		ID:           uuid.New(),
		EventID:      uuid.New(),
		Title:        "Lot",
		StartPrice:   decimal.NewFromInt(100),
		CurrentPrice: decimal.NewFromInt(100),
		MinIncrement: decimal.NewFromInt(10),
		EndsAt:       time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		Status:       domain.LotStatusLive,
		Version:      1,
	}
}

func newCache(t *testing.T) *cache.LotCache {
	t.Helper()
	c, err := cache.New(16, nil)
	require.NoError(t, err)
	return c
}

func TestLotCache_LoadsOnceThenServesFromMemory(t *testing.T) {
	c := newCache(t)
	lot := liveLot()
	var loads int32
	load := func(ctx context.Context, id uuid.UUID) (*domain.Lot, error) {
		atomic.AddInt32(&loads, 1)
		return lot, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), lot.ID, load)
		require.NoError(t, err)
		assert.Equal(t, lot.ID, v.ID)
		assert.True(t, v.MinimumBid.Equal(decimal.NewFromInt(100)))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestLotCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := newCache(t)
	lot := liveLot()
	var loads int32
	release := make(chan struct{})
	load := func(ctx context.Context, id uuid.UUID) (*domain.Lot, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return lot, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), lot.ID, load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestLotCache_LoadErrorIsNotCached(t *testing.T) {
	c := newCache(t)
	id := uuid.New()
	_, err := c.Get(context.Background(), id, func(context.Context, uuid.UUID) (*domain.Lot, error) {
		return nil, domain.ErrLotNotFound
	})
	assert.ErrorIs(t, err, domain.ErrLotNotFound)
	assert.Zero(t, c.Len())
}

func TestLotCache_AppliesNewerChangesOnly(t *testing.T) {
	c := newCache(t)
	lot := liveLot()
	load := func(context.Context, uuid.UUID) (*domain.Lot, error) { return lot, nil }
	_, err := c.Get(context.Background(), lot.ID, load)
	require.NoError(t, err)

	leader := uuid.New()
	c.OnLotChange(domain.LotChange{
		LotID:        lot.ID,
		CurrentPrice: decimal.NewFromInt(100),
		EndsAt:       lot.EndsAt,
		WinnerID:     &leader,
		Status:       domain.LotStatusLive,
		BidCount:     1,
		Version:      2,
	})
	// A stale redelivery must not roll the view back.
	c.OnLotChange(domain.LotChange{LotID: lot.ID, CurrentPrice: decimal.NewFromInt(100), Status: domain.LotStatusLive, Version: 1})

	v, err := c.Get(context.Background(), lot.ID, func(context.Context, uuid.UUID) (*domain.Lot, error) {
		return nil, errors.New("must not load")
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version)
	require.NotNil(t, v.WinnerID)
	assert.Equal(t, leader, *v.WinnerID)
	assert.True(t, v.MinimumBid.Equal(decimal.NewFromInt(110)))
}

func TestLotCache_IgnoresChangesForUncachedLots(t *testing.T) {
	c := newCache(t)
	c.OnLotChange(domain.LotChange{LotID: uuid.New(), Version: 5})
	assert.Zero(t, c.Len())
}
