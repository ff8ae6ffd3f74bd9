package gamification

import (
	"fmt"
	"math"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
)

// Item ids with built-in behavior.
const (
	// ItemStreakFreeze adds to the freeze counter consumed by reconciliation.
	ItemStreakFreeze = "STREAK_FREEZE"
	// ItemStreakRevivalElixir is the consumable spent by streak repair.
	ItemStreakRevivalElixir = "STREAK_REVIVAL_ELIXIR"
)

// CheckPurchase validates a purchase of qty units against the current balance
// and returns the total cost. Checks run in a fixed order: disabled item,
// quantity, funds.
func CheckPurchase(item model.ShopItem, qty, balance int64) (int64, error) {
	if item.IsDisabled {
		return 0, fmt.Errorf("item %s: %w", item.ID, errs.ErrItemDisabled)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive, got %d", errs.ErrInvalidArgument, qty)
	}
	if item.CostInGems > math.MaxInt64/qty {
		return 0, fmt.Errorf("item %s x%d: %w", item.ID, qty, errs.ErrInsufficientFunds)
	}
	cost := item.CostInGems * qty
	if cost > balance {
		return 0, fmt.Errorf("need %d gems, have %d: %w", cost, balance, errs.ErrInsufficientFunds)
	}
	return cost, nil
}

// Field names a numeric gamification counter a shop item may touch.
type Field string

const (
	FieldStreakFreezes Field = "streak_freezes"
	FieldXPTotal       Field = "xp_total"
	FieldXPWeekly      Field = "xp_weekly"
)

// Mutation is a bonus effect bundled with a purchase.
// PerUnit multiplies Delta by the purchased quantity.
type Mutation struct {
	Field   Field
	Delta   int64
	PerUnit bool
}

// EffectTable maps shop item ids to the mutations applied on purchase.
type EffectTable map[string][]Mutation

// DefaultEffects credits bought freezes to the freeze counter and bundles one
// extra freeze with every elixir purchase.
func DefaultEffects() EffectTable {
	return EffectTable{
		ItemStreakFreeze:        {{Field: FieldStreakFreezes, Delta: 1, PerUnit: true}},
		ItemStreakRevivalElixir: {{Field: FieldStreakFreezes, Delta: 1}},
	}
}

// Apply runs the mutations registered for itemID against st.
// Counters are clamped at zero.
func (t EffectTable) Apply(st *model.GamificationState, itemID string, qty int64) {
	for _, m := range t[itemID] {
		d := m.Delta
		if m.PerUnit {
			d *= qty
		}
		switch m.Field {
		case FieldStreakFreezes:
			st.StreakFreezes = clampAdd(st.StreakFreezes, d)
		case FieldXPTotal:
			st.XPTotal = clampAdd(st.XPTotal, d)
		case FieldXPWeekly:
			st.XPWeekly = clampAdd(st.XPWeekly, d)
		}
	}
}

func clampAdd(v, d int64) int64 {
	if v+d < 0 {
		return 0
	}
	return v + d
}
