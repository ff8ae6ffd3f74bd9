package gamification

import (
	"fmt"
	"math"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
)

// Grant credits gems and XP. Negative amounts, and amounts that would
// overflow a counter, are rejected and leave st unchanged.
func Grant(st *model.GamificationState, gems, xp int64) error {
	if gems < 0 || xp < 0 {
		return fmt.Errorf("%w: grant amounts must be non-negative", errs.ErrInvalidArgument)
	}
	if gems > math.MaxInt64-st.GemsBalance {
		return fmt.Errorf("%w: %d gems would overflow balance %d", errs.ErrInvalidArgument, gems, st.GemsBalance)
	}
	if xp > math.MaxInt64-st.XPTotal || xp > math.MaxInt64-st.XPWeekly {
		return fmt.Errorf("%w: %d xp would overflow the xp counters", errs.ErrInvalidArgument, xp)
	}
	st.GemsBalance += gems
	st.XPTotal += xp
	st.XPWeekly += xp
	return nil
}
