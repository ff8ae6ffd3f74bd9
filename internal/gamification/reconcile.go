package gamification

import (
	"time"

	"github.com/and161185/streakkeeper/internal/model"
)

// Reconcile applies the daily streak-continuity and weekly XP rules to one user.
//
// The weekly XP reset also catches up on a Monday that was missed, so a
// failed Monday write is repaired by the next day's run.
//
// It returns the new state, the transitions applied and whether the state must
// be written back. A state already stamped for today's UTC day, or one with no
// recorded activity, is returned unchanged with changed=false.
func Reconcile(st model.GamificationState, now time.Time) (model.GamificationState, []model.AuditEvent, bool) {
	today := Day(now)
	if st.LastActivityDate == nil {
		return st, nil, false
	}
	if st.LastReconciledDate != nil && !Day(*st.LastReconciledDate).Before(today) {
		return st, nil, false
	}

	out := st.Clone()
	var events []model.AuditEvent

	out.IsStreakProtected = false

	missed := Day(*st.LastActivityDate).Before(Yesterday(now))
	if missed && out.CurrentStreak > 0 {
		if out.StreakFreezes > 0 {
			out.StreakFreezes--
			out.IsStreakProtected = true
			out.StreakFreezeUsageDates = append(out.StreakFreezeUsageDates, today)
			events = append(events, model.AuditEvent{
				UserID: st.UserID, Kind: model.AuditFreezeConsumed, Day: today, Value: out.CurrentStreak,
			})
		} else {
			out.LostStreakValue = out.CurrentStreak
			lostAt := now.UTC()
			out.LostStreakAt = &lostAt
			out.CurrentStreak = 0
			out.StreakResetDates = append(out.StreakResetDates, today)
			events = append(events, model.AuditEvent{
				UserID: st.UserID, Kind: model.AuditStreakReset, Day: today, Value: out.LostStreakValue,
			})
		}
	}

	if out.XPWeekly != 0 && weekRolledOver(st.LastReconciledDate, now) {
		events = append(events, model.AuditEvent{
			UserID: st.UserID, Kind: model.AuditWeeklyXPReset, Day: today, Value: out.XPWeekly,
		})
		out.XPWeekly = 0
	}

	out.LastReconciledDate = &today
	return out, events, true
}
