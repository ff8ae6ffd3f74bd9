package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
)

func seeded(t *testing.T) (*Store, uuid.UUID) {
	t.Helper()
	s := New()
	uid := uuid.Must(uuid.NewV4())
	require.NoError(t, s.Create(context.Background(), &model.User{ID: uid, Username: "alice"}, 100))
	return s, uid
}

func TestStore_CreateAndLookup(t *testing.T) {
	t.Parallel()
	s, uid := seeded(t)
	ctx := context.Background()

	u, err := s.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uid, u.ID)

	_, err = s.GetByID(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.ErrorIs(t, s.Create(ctx, &model.User{ID: uuid.Must(uuid.NewV4()), Username: "alice"}, 0), errs.ErrAlreadyExists)

	st, err := s.State(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, int64(100), st.GemsBalance)
	require.Equal(t, int64(1), st.Ver)
}

func TestStore_AddOwned_KeepsPurchasedAt(t *testing.T) {
	t.Parallel()
	s, uid := seeded(t)
	ctx := context.Background()

	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return first })
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AddOwned(ctx, uid, "HAT", 2)
		return err
	}))

	s.SetClock(func() time.Time { return first.Add(48 * time.Hour) })
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AddOwned(ctx, uid, "HAT", 1)
		return err
	}))

	items, err := s.OwnedItems(ctx, uid)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(3), items[0].Quantity)
	require.Equal(t, first, items[0].PurchasedAt)

	err = s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AddOwned(ctx, uid, "HAT", -4)
		return err
	})
	require.ErrorIs(t, err, errs.ErrFailedPrecondition)
}

func TestStore_RunInTx_RetriesOnConflict(t *testing.T) {
	t.Parallel()
	s, uid := seeded(t)
	ctx := context.Background()

	attempts := 0
	err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		attempts++
		st, err := tx.State(ctx, uid)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// concurrent writer commits between our read and commit
			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx2 repository.Tx) error {
				other, err := tx2.State(ctx, uid)
				if err != nil {
					return err
				}
				other.GemsBalance -= 10
				return tx2.PutState(ctx, other)
			}))
		}
		st.GemsBalance -= 50
		return tx.PutState(ctx, st)
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	st, err := s.State(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, int64(40), st.GemsBalance)
	require.Equal(t, int64(3), st.Ver)
}

func TestStore_RunInTx_ErrorDiscardsWrites(t *testing.T) {
	t.Parallel()
	s, uid := seeded(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		st, err := tx.State(ctx, uid)
		if err != nil {
			return err
		}
		st.GemsBalance = 0
		if err := tx.PutState(ctx, st); err != nil {
			return err
		}
		return errs.ErrInsufficientFunds
	})
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	st, _ := s.State(ctx, uid)
	require.Equal(t, int64(100), st.GemsBalance)
}

func TestStore_ListStatesAndApplyReconciled(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.PutState(model.GamificationState{UserID: uuid.Must(uuid.NewV4())})
	}

	var all []model.GamificationState
	after := uuid.Nil
	for {
		page, err := s.ListStates(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		after = page[len(page)-1].UserID
	}
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].UserID.String(), all[i].UserID.String())
	}

	stale := all[1]
	stale.Ver = 99
	missing := model.GamificationState{UserID: uuid.Must(uuid.NewV4())}
	res, err := s.ApplyReconciled(ctx, []model.GamificationState{all[0], stale, missing})
	require.NoError(t, err)
	require.Equal(t, model.WriteApplied, res[0].Outcome)
	require.Equal(t, model.WriteConflict, res[1].Outcome)
	require.Equal(t, model.WriteFailed, res[2].Outcome)

	st, _ := s.State(ctx, all[0].UserID)
	require.Equal(t, int64(2), st.Ver)
}

func TestStore_Catalog(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertItems(ctx, []model.ShopItem{
		{ID: "B", Category: "power", CostInGems: 50},
		{ID: "A", Category: "power", CostInGems: 10},
		{ID: "OLD", Category: "cosmetic", CostInGems: 5, IsDisabled: true},
	}))

	items, err := s.Catalog(ctx, false)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, []string{items[0].ID, items[1].ID})

	items, err = s.Catalog(ctx, true)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "OLD", items[0].ID)
}
