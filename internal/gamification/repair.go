package gamification

import (
	"fmt"
	"time"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/model"
)

// RepairWindow is how long after a reset the lost streak can be restored.
const RepairWindow = 48 * time.Hour

// CheckRepair validates that st can be repaired at now.
// The elixir holding is checked before the window.
func CheckRepair(st model.GamificationState, elixir model.OwnedItem, now time.Time, window time.Duration) error {
	if elixir.Quantity <= 0 {
		return errs.ErrNoElixir
	}
	if st.LostStreakAt == nil || st.LostStreakValue <= 0 {
		return errs.ErrNothingToRepair
	}
	if now.Sub(*st.LostStreakAt) > window {
		return fmt.Errorf("lost %s ago: %w", now.Sub(*st.LostStreakAt).Truncate(time.Minute), errs.ErrRepairExpired)
	}
	return nil
}

// ApplyRepair restores the lost streak and clears the snapshot.
// LastActivityDate moves to yesterday so the restored streak survives the
// next reconciliation only if the user is active today.
func ApplyRepair(st model.GamificationState, now time.Time) (model.GamificationState, model.AuditEvent) {
	out := st.Clone()
	today := Day(now)

	out.CurrentStreak = st.LostStreakValue
	if out.CurrentStreak > out.LongestStreak {
		out.LongestStreak = out.CurrentStreak
	}
	out.StreakRepairDates = append(out.StreakRepairDates, today)
	out.LostStreakValue = 0
	out.LostStreakAt = nil

	y := Yesterday(now)
	if out.LastActivityDate == nil || Day(*out.LastActivityDate).Before(y) {
		out.LastActivityDate = &y
	}

	return out, model.AuditEvent{UserID: st.UserID, Kind: model.AuditStreakRepaired, Day: today, Value: out.CurrentStreak}
}
