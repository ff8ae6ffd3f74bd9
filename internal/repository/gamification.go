package repository

import (
	"context"

	"github.com/and161185/streakkeeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// Tx is the view of the store inside a single optimistic transaction.
// Reads observe a consistent snapshot; writes become visible only on commit.
type Tx interface {
	// State loads a user's gamification record for update.
	State(ctx context.Context, userID uuid.UUID) (*model.GamificationState, error)
	// PutState writes back a record loaded in this transaction.
	PutState(ctx context.Context, st *model.GamificationState) error
	// Item loads a catalog entry.
	Item(ctx context.Context, itemID string) (*model.ShopItem, error)
	// Owned loads a user's holding of an item; a missing holding is returned
	// as a zero-quantity OwnedItem, not an error.
	Owned(ctx context.Context, userID uuid.UUID, itemID string) (model.OwnedItem, error)
	// AddOwned adds delta to the holding, creating it on first use.
	// PurchasedAt is set only on creation. The resulting quantity must stay >= 0.
	AddOwned(ctx context.Context, userID uuid.UUID, itemID string, delta int64) (model.OwnedItem, error)
}

// GamificationStore is the transactional store behind purchases, repairs and
// the daily reconciliation.
type GamificationStore interface {
	// RunInTx runs fn in a transaction, retrying it from scratch on write
	// conflicts. fn must not have side effects outside tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// State returns a user's gamification record.
	State(ctx context.Context, userID uuid.UUID) (*model.GamificationState, error)
	// OwnedItems lists a user's holdings, depleted ones included.
	OwnedItems(ctx context.Context, userID uuid.UUID) ([]model.OwnedItem, error)

	// Catalog lists shop items ordered by category and cost.
	Catalog(ctx context.Context, includeDisabled bool) ([]model.ShopItem, error)
	// UpsertItems inserts or replaces catalog entries.
	UpsertItems(ctx context.Context, items []model.ShopItem) error

	// ListStates pages through all records ordered by user id, starting after afterID.
	ListStates(ctx context.Context, afterID uuid.UUID, limit int) ([]model.GamificationState, error)
	// ApplyReconciled writes states computed by the reconciler. Each write is
	// conditional on the version the state was read at.
	ApplyReconciled(ctx context.Context, states []model.GamificationState) ([]model.ReconcileWrite, error)
}
