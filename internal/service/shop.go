package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/gamification"
	"github.com/and161185/streakkeeper/internal/metrics"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
)

// CatalogCache caches catalog listings. Lookups report ok=false on a miss.
type CatalogCache interface {
	Get(ctx context.Context, includeDisabled bool) ([]model.ShopItem, bool, error)
	Set(ctx context.Context, includeDisabled bool, items []model.ShopItem) error
	Invalidate(ctx context.Context) error
}

// ShopService defines catalog browsing and purchases.
type ShopService interface {
	// Catalog lists shop items; disabled ones only when includeDisabled is set.
	Catalog(ctx context.Context, includeDisabled bool) ([]model.ShopItem, error)
	// OwnedItems lists the user's holdings.
	OwnedItems(ctx context.Context, userID uuid.UUID) ([]model.OwnedItem, error)
	// Purchase buys qty units of an item atomically.
	Purchase(ctx context.Context, userID uuid.UUID, itemID string, qty int64) (model.PurchaseResult, error)
	// SeedCatalog upserts catalog entries and drops cached listings.
	SeedCatalog(ctx context.Context, items []model.ShopItem) error
}

type ShopServiceImpl struct {
	store   repository.GamificationStore
	effects gamification.EffectTable
	cache   CatalogCache
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewShopService constructs ShopService. cache and m may be nil.
func NewShopService(store repository.GamificationStore, effects gamification.EffectTable, cache CatalogCache, log *zap.Logger, m *metrics.Metrics) *ShopServiceImpl {
	if effects == nil {
		effects = gamification.DefaultEffects()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ShopServiceImpl{store: store, effects: effects, cache: cache, log: log, metrics: m}
}

// Catalog reads through the cache when one is configured. Cache failures
// fall back to the store.
func (s *ShopServiceImpl) Catalog(ctx context.Context, includeDisabled bool) ([]model.ShopItem, error) {
	if s.cache != nil {
		items, ok, err := s.cache.Get(ctx, includeDisabled)
		switch {
		case err != nil:
			s.metrics.ObserveCache("error")
			s.log.Warn("catalog cache get", zap.Error(err))
		case ok:
			s.metrics.ObserveCache("hit")
			return items, nil
		default:
			s.metrics.ObserveCache("miss")
		}
	}

	items, err := s.store.Catalog(ctx, includeDisabled)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, includeDisabled, items); err != nil {
			s.log.Warn("catalog cache set", zap.Error(err))
		}
	}
	return items, nil
}

// OwnedItems lists holdings, depleted ones included.
func (s *ShopServiceImpl) OwnedItems(ctx context.Context, userID uuid.UUID) ([]model.OwnedItem, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	return s.store.OwnedItems(ctx, userID)
}

// Purchase validates and executes a purchase in one transaction.
// Checks run before any write: item exists, item enabled, qty > 0, funds.
// On success gems are debited, the holding is incremented and the item's
// bonus effects are applied.
func (s *ShopServiceImpl) Purchase(ctx context.Context, userID uuid.UUID, itemID string, qty int64) (model.PurchaseResult, error) {
	if userID == uuid.Nil {
		return model.PurchaseResult{}, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}

	var res model.PurchaseResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return fmt.Errorf("item %q: %w", itemID, err)
		}
		st, err := tx.State(ctx, userID)
		if err != nil {
			return fmt.Errorf("user state: %w", err)
		}
		cost, err := gamification.CheckPurchase(*item, qty, st.GemsBalance)
		if err != nil {
			return err
		}

		st.GemsBalance -= cost
		owned, err := tx.AddOwned(ctx, userID, itemID, qty)
		if err != nil {
			return err
		}
		s.effects.Apply(st, itemID, qty)
		if err := tx.PutState(ctx, st); err != nil {
			return err
		}

		res = model.PurchaseResult{
			Success:     true,
			Message:     fmt.Sprintf("purchased %d x %s", qty, item.Name),
			GemsBalance: st.GemsBalance,
			Quantity:    owned.Quantity,
		}
		return nil
	})

	label := itemID
	if errors.Is(err, errs.ErrNotFound) {
		label = "unknown"
	}
	s.metrics.ObservePurchase(label, err)
	if err != nil {
		return model.PurchaseResult{}, err
	}

	s.log.Info("purchase",
		zap.String("user", userID.String()),
		zap.String("item", itemID),
		zap.Int64("qty", qty),
		zap.Int64("balance", res.GemsBalance),
	)
	return res, nil
}

// SeedCatalog upserts items and invalidates cached listings.
func (s *ShopServiceImpl) SeedCatalog(ctx context.Context, items []model.ShopItem) error {
	if err := s.store.UpsertItems(ctx, items); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log.Warn("catalog cache invalidate", zap.Error(err))
		}
	}
	return nil
}
