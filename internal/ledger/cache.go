package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"settlement-engine/internal/models"
	"settlement-engine/internal/util"
)

// StateCache stores terminal sale states. A miss is reported as ok == false.
type StateCache interface {
	GetSaleState(ctx context.Context, key string) (state models.SaleState, ok bool, err error)
	SetSaleState(ctx context.Context, key string, state models.SaleState) error
}

// Cached answers lookups for terminal sales from a cache and delegates
// everything else to the wrapped ledger. Only terminal states are cached,
// since they can never change.
type Cached struct {
	next   Ledger
	cache  StateCache
	logger *zap.Logger
}

// NewCached wraps next with cache
func NewCached(next Ledger, cache StateCache) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// Lookup checks the cache before the wrapped ledger
func (c *Cached) Lookup(ctx context.Context, saleID common.Address) (models.SaleState, error) {
	key := Key(saleID)
	state, ok, err := c.cache.GetSaleState(ctx, key)
	if err != nil {
		c.logger.Warn("Sale state cache read failed", zap.String("sale_id", key), zap.Error(err))
	} else if ok && state.Terminal() {
		return state, nil
	}

	state, err = c.next.Lookup(ctx, saleID)
	if err != nil {
		return "", err
	}
	if state.Terminal() {
		c.remember(ctx, key, state)
	}
	return state, nil
}

// MarkFulfilled records a fulfillment and caches it
func (c *Cached) MarkFulfilled(ctx context.Context, saleID common.Address) error {
	if err := c.next.MarkFulfilled(ctx, saleID); err != nil {
		return err
	}
	c.remember(ctx, Key(saleID), models.SaleStateFulfilled)
	return nil
}

// MarkCancelled records a cancellation and caches it
func (c *Cached) MarkCancelled(ctx context.Context, saleID common.Address) error {
	if err := c.next.MarkCancelled(ctx, saleID); err != nil {
		return err
	}
	c.remember(ctx, Key(saleID), models.SaleStateCancelled)
	return nil
}

// Fulfill delegates the compare-and-swap and caches the outcome
func (c *Cached) Fulfill(ctx context.Context, saleID common.Address, settlement Settlement) error {
	if err := c.next.Fulfill(ctx, saleID, settlement); err != nil {
		return err
	}
	c.remember(ctx, Key(saleID), models.SaleStateFulfilled)
	return nil
}

func (c *Cached) remember(ctx context.Context, key string, state models.SaleState) {
	if err := c.cache.SetSaleState(ctx, key, state); err != nil {
		c.logger.Warn("Sale state cache write failed", zap.String("sale_id", key), zap.Error(err))
	}
}

// LocalCache is an in-process StateCache
type LocalCache struct {
	items *gocache.Cache
}

// NewLocalCache creates a local cache with the given entry lifetime
func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{items: gocache.New(ttl, 2*ttl)}
}

func (l *LocalCache) GetSaleState(_ context.Context, key string) (models.SaleState, bool, error) {
	v, ok := l.items.Get(key)
	if !ok {
		return "", false, nil
	}
	state, ok := v.(models.SaleState)
	return state, ok, nil
}

func (l *LocalCache) SetSaleState(_ context.Context, key string, state models.SaleState) error {
	l.items.SetDefault(key, state)
	return nil
}
