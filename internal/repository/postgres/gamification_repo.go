package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultMaxAttempts = 8
	defaultRetryDelay  = 20 * time.Millisecond
	maxRetryDelay      = 640 * time.Millisecond
)

const stateCols = `user_id, current_streak, longest_streak, last_activity_date,
gems_balance, xp_total, xp_weekly, streak_freezes, is_streak_protected,
streak_freeze_usage_dates, streak_repair_dates, streak_reset_dates,
lost_streak_value, lost_streak_at, last_reconciled_date, ver, updated_at`

const stateSet = `current_streak=$2, longest_streak=$3, last_activity_date=$4,
gems_balance=$5, xp_total=$6, xp_weekly=$7, streak_freezes=$8, is_streak_protected=$9,
streak_freeze_usage_dates=$10, streak_repair_dates=$11, streak_reset_dates=$12,
lost_streak_value=$13, lost_streak_at=$14, last_reconciled_date=$15,
ver=ver+1, updated_at=now()`

const itemCols = `id, name, cost_in_gems, category, type, is_disabled, description, image_url`

// GamificationRepo implements GamificationStore using PostgreSQL.
// Transactions run at SERIALIZABLE and are retried on serialization failures.
type GamificationRepo struct {
	db          *DB
	maxAttempts int
	retryDelay  time.Duration
}

var _ repository.GamificationStore = (*GamificationRepo)(nil)

// NewGamificationRepo constructs a gamification repository.
func NewGamificationRepo(db *DB) *GamificationRepo {
	return &GamificationRepo{db: db, maxAttempts: defaultMaxAttempts, retryDelay: defaultRetryDelay}
}

// RunInTx runs fn in a serializable transaction, retrying with backoff on conflicts.
func (r *GamificationRepo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	delay := r.retryDelay
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err := r.db.withTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			return fn(ctx, &pgTx{tx: tx})
		})
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		if delay < maxRetryDelay {
			delay *= 2
		}
	}
	return fmt.Errorf("gamification tx: %d attempts: %w", r.maxAttempts, errs.ErrVersionConflict)
}

// State selects a user's gamification row.
func (r *GamificationRepo) State(ctx context.Context, userID uuid.UUID) (*model.GamificationState, error) {
	q := `SELECT ` + stateCols + ` FROM gamification WHERE user_id=$1`
	return scanState(r.db.Pool.QueryRow(ctx, q, userID))
}

// OwnedItems lists a user's holdings.
func (r *GamificationRepo) OwnedItems(ctx context.Context, userID uuid.UUID) ([]model.OwnedItem, error) {
	const q = `
SELECT shop_item_id, quantity, purchased_at
FROM owned_items WHERE user_id=$1
ORDER BY shop_item_id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OwnedItem
	for rows.Next() {
		var it model.OwnedItem
		if err = rows.Scan(&it.ShopItemID, &it.Quantity, &it.PurchasedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Catalog lists shop items.
func (r *GamificationRepo) Catalog(ctx context.Context, includeDisabled bool) ([]model.ShopItem, error) {
	q := `SELECT ` + itemCols + ` FROM shop_items
WHERE $1 OR NOT is_disabled
ORDER BY category, cost_in_gems, id`
	rows, err := r.db.Pool.Query(ctx, q, includeDisabled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ShopItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// UpsertItems inserts or replaces catalog entries in one transaction.
func (r *GamificationRepo) UpsertItems(ctx context.Context, items []model.ShopItem) error {
	const q = `
INSERT INTO shop_items (id, name, cost_in_gems, category, type, is_disabled, description, image_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name, cost_in_gems=EXCLUDED.cost_in_gems, category=EXCLUDED.category,
  type=EXCLUDED.type, is_disabled=EXCLUDED.is_disabled, description=EXCLUDED.description,
  image_url=EXCLUDED.image_url`
	return r.db.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i, it := range items {
			if _, err := tx.Exec(ctx, q, it.ID, it.Name, it.CostInGems, it.Category,
				string(it.Type), it.IsDisabled, it.Description, it.ImageURL); err != nil {
				return fmt.Errorf("item[%d] %s: %w", i, it.ID, err)
			}
		}
		return nil
	})
}

// ListStates pages through gamification rows in user id order.
func (r *GamificationRepo) ListStates(ctx context.Context, afterID uuid.UUID, limit int) ([]model.GamificationState, error) {
	q := `SELECT ` + stateCols + ` FROM gamification
WHERE user_id > $1
ORDER BY user_id
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GamificationState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// ApplyReconciled sends all version-guarded updates as one batch. The batch
// runs as an implicit transaction, so if any statement fails the whole batch
// is rolled back and the updates are retried one by one.
func (r *GamificationRepo) ApplyReconciled(ctx context.Context, states []model.GamificationState) ([]model.ReconcileWrite, error) {
	if len(states) == 0 {
		return nil, nil
	}
	q := `UPDATE gamification SET ` + stateSet + ` WHERE user_id=$1 AND ver=$16`

	b := &pgx.Batch{}
	for i := range states {
		b.Queue(q, append(stateArgs(&states[i]), states[i].Ver)...)
	}
	br := r.db.Pool.SendBatch(ctx, b)
	res := make([]model.ReconcileWrite, 0, len(states))
	var batchErr error
	for _, st := range states {
		tag, err := br.Exec()
		if err != nil {
			batchErr = err
			break
		}
		res = append(res, writeOutcome(st.UserID, tag))
	}
	if err := br.Close(); err != nil && batchErr == nil {
		batchErr = err
	}
	if batchErr == nil {
		return res, nil
	}

	res = res[:0]
	for i := range states {
		tag, err := r.db.Pool.Exec(ctx, q, append(stateArgs(&states[i]), states[i].Ver)...)
		if err != nil {
			res = append(res, model.ReconcileWrite{UserID: states[i].UserID, Outcome: model.WriteFailed, Err: err})
			continue
		}
		res = append(res, writeOutcome(states[i].UserID, tag))
	}
	return res, nil
}

func writeOutcome(userID uuid.UUID, tag pgconn.CommandTag) model.ReconcileWrite {
	if tag.RowsAffected() == 0 {
		return model.ReconcileWrite{UserID: userID, Outcome: model.WriteConflict, Err: errs.ErrVersionConflict}
	}
	return model.ReconcileWrite{UserID: userID, Outcome: model.WriteApplied}
}

// pgTx implements repository.Tx on top of a pgx transaction.
type pgTx struct{ tx pgx.Tx }

func (t *pgTx) State(ctx context.Context, userID uuid.UUID) (*model.GamificationState, error) {
	q := `SELECT ` + stateCols + ` FROM gamification WHERE user_id=$1 FOR UPDATE`
	return scanState(t.tx.QueryRow(ctx, q, userID))
}

func (t *pgTx) PutState(ctx context.Context, st *model.GamificationState) error {
	q := `UPDATE gamification SET ` + stateSet + ` WHERE user_id=$1`
	tag, err := t.tx.Exec(ctx, q, stateArgs(st)...)
	if err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("%w: %v", errs.ErrFailedPrecondition, err)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (t *pgTx) Item(ctx context.Context, itemID string) (*model.ShopItem, error) {
	q := `SELECT ` + itemCols + ` FROM shop_items WHERE id=$1`
	return scanItem(t.tx.QueryRow(ctx, q, itemID))
}

func (t *pgTx) Owned(ctx context.Context, userID uuid.UUID, itemID string) (model.OwnedItem, error) {
	const q = `
SELECT quantity, purchased_at FROM owned_items
WHERE user_id=$1 AND shop_item_id=$2 FOR UPDATE`
	it := model.OwnedItem{ShopItemID: itemID}
	if err := t.tx.QueryRow(ctx, q, userID, itemID).Scan(&it.Quantity, &it.PurchasedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.OwnedItem{ShopItemID: itemID}, nil
		}
		return model.OwnedItem{}, err
	}
	return it, nil
}

func (t *pgTx) AddOwned(ctx context.Context, userID uuid.UUID, itemID string, delta int64) (model.OwnedItem, error) {
	const q = `
INSERT INTO owned_items (user_id, shop_item_id, quantity, purchased_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id, shop_item_id)
DO UPDATE SET quantity = owned_items.quantity + EXCLUDED.quantity
RETURNING quantity, purchased_at`
	it := model.OwnedItem{ShopItemID: itemID}
	if err := t.tx.QueryRow(ctx, q, userID, itemID, delta).Scan(&it.Quantity, &it.PurchasedAt); err != nil {
		if isCheckViolation(err) {
			return model.OwnedItem{}, fmt.Errorf("%w: owned quantity of %s would go negative", errs.ErrFailedPrecondition, itemID)
		}
		return model.OwnedItem{}, err
	}
	return it, nil
}

// --- scanning helpers ---

func scanState(row pgx.Row) (*model.GamificationState, error) {
	var st model.GamificationState
	err := row.Scan(
		&st.UserID, &st.CurrentStreak, &st.LongestStreak, &st.LastActivityDate,
		&st.GemsBalance, &st.XPTotal, &st.XPWeekly, &st.StreakFreezes, &st.IsStreakProtected,
		&st.StreakFreezeUsageDates, &st.StreakRepairDates, &st.StreakResetDates,
		&st.LostStreakValue, &st.LostStreakAt, &st.LastReconciledDate, &st.Ver, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func scanItem(row pgx.Row) (*model.ShopItem, error) {
	var (
		it  model.ShopItem
		typ string
	)
	err := row.Scan(&it.ID, &it.Name, &it.CostInGems, &it.Category, &typ, &it.IsDisabled, &it.Description, &it.ImageURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	it.Type = model.ItemType(typ)
	return &it, nil
}

// stateArgs returns $1..$15 for stateSet.
func stateArgs(st *model.GamificationState) []any {
	return []any{
		st.UserID, st.CurrentStreak, st.LongestStreak, st.LastActivityDate,
		st.GemsBalance, st.XPTotal, st.XPWeekly, st.StreakFreezes, st.IsStreakProtected,
		nonNilDates(st.StreakFreezeUsageDates), nonNilDates(st.StreakRepairDates), nonNilDates(st.StreakResetDates),
		st.LostStreakValue, st.LostStreakAt, st.LastReconciledDate,
	}
}

func nonNilDates(d []time.Time) []time.Time {
	if d == nil {
		return []time.Time{}
	}
	return d
}
