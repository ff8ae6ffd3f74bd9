package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/and161185/streakkeeper/internal/gamification"
	"github.com/and161185/streakkeeper/internal/metrics"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
	"github.com/and161185/streakkeeper/internal/repository/memory"
)

// monday 00:10 UTC
var recNow = time.Date(2024, 6, 10, 0, 10, 0, 0, time.UTC)

func daysBefore(n int) *time.Time {
	d := gamification.Day(recNow).AddDate(0, 0, -n)
	return &d
}

func seedUser(store *memory.Store, streak, freezes, xpWeekly int64, last *time.Time) uuid.UUID {
	uid := uuid.Must(uuid.NewV4())
	store.PutState(model.GamificationState{
		UserID:           uid,
		CurrentStreak:    streak,
		LongestStreak:    streak,
		LastActivityDate: last,
		StreakFreezes:    freezes,
		XPWeekly:         xpWeekly,
		XPTotal:          xpWeekly,
	})
	return uid
}

func TestReconciler_Run(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	active := seedUser(store, 5, 0, 30, daysBefore(1))
	frozen := seedUser(store, 8, 2, 0, daysBefore(3))
	reset := seedUser(store, 4, 0, 10, daysBefore(2))
	idle := seedUser(store, 0, 0, 0, nil)

	m := metrics.New()
	r := NewReconciler(store, 2, nil, m)
	r.SetClock(func() time.Time { return recNow })

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, gamification.Day(recNow), rep.Day)
	require.Equal(t, 4, rep.Scanned)
	require.Equal(t, 3, rep.Updated)
	require.Equal(t, 1, rep.Skipped)
	require.Equal(t, 1, rep.FreezesUsed)
	require.Equal(t, 1, rep.Resets)
	require.Equal(t, 2, rep.WeeklyResets)
	require.Zero(t, rep.Conflicts)
	require.Zero(t, rep.Failed)

	st, _ := store.State(ctx, active)
	require.Equal(t, int64(5), st.CurrentStreak)
	require.Zero(t, st.XPWeekly)
	require.Equal(t, int64(30), st.XPTotal)

	st, _ = store.State(ctx, frozen)
	require.Equal(t, int64(8), st.CurrentStreak)
	require.Equal(t, int64(1), st.StreakFreezes)
	require.True(t, st.IsStreakProtected)

	st, _ = store.State(ctx, reset)
	require.Zero(t, st.CurrentStreak)
	require.Equal(t, int64(4), st.LostStreakValue)
	require.Equal(t, recNow, *st.LostStreakAt)

	st, _ = store.State(ctx, idle)
	require.Nil(t, st.LastReconciledDate)

	require.Equal(t, 1.0, testutil.ToFloat64(m.AuditEvents.WithLabelValues(string(model.AuditStreakReset))))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ReconcileWrites.WithLabelValues("applied")))

	// same day again is a no-op
	rep, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, rep.Scanned)
	require.Zero(t, rep.Updated)
	require.Equal(t, 4, rep.Skipped)

	st, _ = store.State(ctx, frozen)
	require.Equal(t, int64(1), st.StreakFreezes)
}

// racingStore lets a purchase commit between the reconciler's read and its
// write: once, or on every write when always is set.
type racingStore struct {
	*memory.Store
	victim uuid.UUID
	always bool
	races  int
}

func (s *racingStore) ApplyReconciled(ctx context.Context, states []model.GamificationState) ([]model.ReconcileWrite, error) {
	if s.races == 0 || s.always {
		s.races++
		err := s.Store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			st, err := tx.State(ctx, s.victim)
			if err != nil {
				return err
			}
			st.GemsBalance += 5
			return tx.PutState(ctx, st)
		})
		if err != nil {
			return nil, err
		}
	}
	return s.Store.ApplyReconciled(ctx, states)
}

func TestReconciler_ConflictIsRetriedInRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	victim := seedUser(mem, 3, 0, 40, daysBefore(2))
	other := seedUser(mem, 3, 0, 0, daysBefore(2))
	store := &racingStore{Store: mem, victim: victim}

	r := NewReconciler(store, 10, nil, nil)
	r.SetClock(func() time.Time { return recNow })

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Conflicts)
	require.Equal(t, 2, rep.Updated)
	require.Equal(t, 2, rep.Resets)
	require.Equal(t, 1, rep.WeeklyResets)

	st, _ := mem.State(ctx, victim)
	require.Zero(t, st.CurrentStreak)
	require.Zero(t, st.XPWeekly)
	require.Equal(t, int64(5), st.GemsBalance, "concurrent purchase kept")
	require.Len(t, st.StreakResetDates, 1)
	st, _ = mem.State(ctx, other)
	require.Zero(t, st.CurrentStreak)

	// nothing left for a second run the same day
	rep, err = r.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, rep.Updated)
}

func TestReconciler_MissedMondayResetCaughtUpTuesday(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	victim := uuid.Must(uuid.NewV4())
	mem.PutState(model.GamificationState{
		UserID:             victim,
		LastActivityDate:   daysBefore(1),
		LastReconciledDate: daysBefore(1),
		XPWeekly:           340,
		XPTotal:            900,
	})
	store := &racingStore{Store: mem, victim: victim, always: true}

	r := NewReconciler(store, 10, nil, nil)
	r.SetClock(func() time.Time { return recNow })
	rep, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, maxWriteAttempts, rep.Conflicts)
	require.Zero(t, rep.WeeklyResets)

	st, _ := mem.State(ctx, victim)
	require.Equal(t, int64(340), st.XPWeekly, "every monday write lost")

	store.always = false
	r.SetClock(func() time.Time { return recNow.AddDate(0, 0, 1) })
	rep, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.WeeklyResets)

	st, _ = mem.State(ctx, victim)
	require.Zero(t, st.XPWeekly)
	require.Equal(t, int64(900), st.XPTotal)
}

type failingStore struct {
	*memory.Store
	listErr  error
	applyErr error
	failUser uuid.UUID
}

func (s *failingStore) ListStates(ctx context.Context, after uuid.UUID, limit int) ([]model.GamificationState, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListStates(ctx, after, limit)
}

func (s *failingStore) ApplyReconciled(ctx context.Context, states []model.GamificationState) ([]model.ReconcileWrite, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	var keep []model.GamificationState
	var out []model.ReconcileWrite
	for _, st := range states {
		if st.UserID == s.failUser {
			out = append(out, model.ReconcileWrite{UserID: st.UserID, Outcome: model.WriteFailed, Err: errors.New("disk full")})
			continue
		}
		keep = append(keep, st)
	}
	res, err := s.Store.ApplyReconciled(ctx, keep)
	return append(out, res...), err
}

func TestReconciler_FailedWriteDoesNotAbortPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	bad := seedUser(mem, 3, 0, 0, daysBefore(2))
	seedUser(mem, 3, 1, 0, daysBefore(2))
	r := NewReconciler(&failingStore{Store: mem, failUser: bad}, 10, nil, nil)
	r.SetClock(func() time.Time { return recNow })

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 1, rep.Updated)
	require.Equal(t, 1, rep.FreezesUsed)
	require.Zero(t, rep.Resets)
}

func TestReconciler_StoreErrorsAbort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := memory.New()
	seedUser(mem, 3, 0, 0, daysBefore(2))

	r := NewReconciler(&failingStore{Store: mem, listErr: errors.New("db down")}, 10, nil, nil)
	_, err := r.Run(ctx)
	require.ErrorContains(t, err, "db down")

	r = NewReconciler(&failingStore{Store: mem, applyErr: errors.New("batch lost")}, 10, nil, nil)
	r.SetClock(func() time.Time { return recNow })
	_, err = r.Run(ctx)
	require.ErrorContains(t, err, "batch lost")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewReconciler(mem, 10, nil, nil).Run(cctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReconciler_RepairThenRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	lostAt := recNow.AddDate(0, 0, -1)
	uid := uuid.Must(uuid.NewV4())
	store.PutState(model.GamificationState{
		UserID: uid, LongestStreak: 9, LastActivityDate: daysBefore(3),
		LostStreakValue: 9, LostStreakAt: &lostAt, LastReconciledDate: daysBefore(1),
	})
	require.NoError(t, store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.AddOwned(ctx, uid, gamification.ItemStreakRevivalElixir, 1)
		return err
	}))

	streaks := NewStreakService(store, 0, nil, nil)
	streaks.SetClock(func() time.Time { return recNow.Add(time.Hour) })
	_, err := streaks.Repair(ctx, uid)
	require.NoError(t, err)

	r := NewReconciler(store, 10, nil, nil)
	r.SetClock(func() time.Time { return recNow.Add(2 * time.Hour) })
	rep, err := r.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, rep.Resets)

	st, _ := store.State(ctx, uid)
	require.Equal(t, int64(9), st.CurrentStreak)
}
