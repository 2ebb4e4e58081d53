// Package cache keeps public lot views in memory. Views are loaded once per
// miss and then kept current by applying change-stream records, so hot lots
// are served without touching the database.
package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// LotCache is a bounded, concurrency-safe cache of domain.LotView.
type LotCache struct {
	views  *lru.Cache
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a LotCache holding at most size views.
func New(size int, logger *slog.Logger) (*LotCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	views, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("cache.New: %w", err)
	}
	return &LotCache{views: views, logger: logger.With("component", "lot_cache")}, nil
}

// Get returns the cached view for id, calling load on a miss. Concurrent
// misses for the same lot share a single load.
func (c *LotCache) Get(ctx context.Context, id uuid.UUID, load func(ctx context.Context, id uuid.UUID) (*domain.Lot, error)) (domain.LotView, error) {
	if v, ok := c.views.Get(id); ok {
		return v.(domain.LotView), nil
	}

	res, err, _ := c.group.Do(id.String(), func() (interface{}, error) {
		lot, err := load(ctx, id)
		if err != nil {
			return nil, err
		}
		view := lot.View()
		c.store(view)
		return view, nil
	})
	if err != nil {
		return domain.LotView{}, err
	}
	return res.(domain.LotView), nil
}

// store keeps the newest of view and whatever is already cached.
func (c *LotCache) store(view domain.LotView) {
	if cur, ok := c.views.Peek(view.ID); ok && cur.(domain.LotView).Version >= view.Version {
		return
	}
	c.views.Add(view.ID, view)
}

// OnLotChange implements notify.Sink. Changes for lots that are not cached
// are ignored; the next Get loads them.
func (c *LotCache) OnLotChange(ch domain.LotChange) {
	cur, ok := c.views.Peek(ch.LotID)
	if !ok {
		return
	}
	view := cur.(domain.LotView)
	if !view.Apply(ch) {
		return
	}
	c.views.Add(view.ID, view)
	c.logger.Debug("view updated", "lot_id", ch.LotID, "version", ch.Version)
}

// Len reports the number of cached views.
func (c *LotCache) Len() int {
	return c.views.Len()
}
