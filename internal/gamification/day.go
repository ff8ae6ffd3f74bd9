// Package gamification holds the pure streak, XP and shop bookkeeping rules.
// Nothing here touches storage; callers load a state, apply a rule and persist
// the result inside their own transaction.
package gamification

import "time"

// Day truncates t to midnight UTC. All day boundaries use UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Yesterday returns the UTC day before t.
func Yesterday(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, -1)
}

// IsWeeklyReset reports whether t falls on the UTC weekday that starts a new XP week.
func IsWeeklyReset(t time.Time) bool {
	return t.UTC().Weekday() == time.Monday
}


// WeekStart returns the Monday 00:00 UTC that opens the XP week containing t.
func WeekStart(t time.Time) time.Time {
	d := Day(t)
	return d.AddDate(0, 0, -((int(d.Weekday()) + 6) % 7))
}

// weekRolledOver reports whether the weekly XP counter is due for a reset at
// now: on Mondays, or on any later day when the last reconciliation happened
// before this week started.
func weekRolledOver(lastReconciled *time.Time, now time.Time) bool {
	if IsWeeklyReset(now) {
		return true
	}
	return lastReconciled != nil && Day(*lastReconciled).Before(WeekStart(now))
}
