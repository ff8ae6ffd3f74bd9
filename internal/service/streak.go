package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/streakkeeper/internal/errs"
	"github.com/and161185/streakkeeper/internal/gamification"
	"github.com/and161185/streakkeeper/internal/metrics"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
)

// StreakService defines per-user streak operations.
type StreakService interface {
	// Profile returns the user's gamification record.
	Profile(ctx context.Context, userID uuid.UUID) (*model.GamificationState, error)
	// Repair spends one streak revival elixir to restore a recently lost streak.
	Repair(ctx context.Context, userID uuid.UUID) (model.RepairResult, error)
	// Grant credits gems and XP.
	Grant(ctx context.Context, userID uuid.UUID, gems, xp int64) (*model.GamificationState, error)
}

type StreakServiceImpl struct {
	store   repository.GamificationStore
	window  time.Duration
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewStreakService constructs StreakService. A non-positive window falls back
// to gamification.RepairWindow.
func NewStreakService(store repository.GamificationStore, window time.Duration, log *zap.Logger, m *metrics.Metrics) *StreakServiceImpl {
	if window <= 0 {
		window = gamification.RepairWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreakServiceImpl{store: store, window: window, now: time.Now, log: log, metrics: m}
}

// SetClock overrides the time source.
func (s *StreakServiceImpl) SetClock(now func() time.Time) { s.now = now }

// Profile returns the current record.
func (s *StreakServiceImpl) Profile(ctx context.Context, userID uuid.UUID) (*model.GamificationState, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	return s.store.State(ctx, userID)
}

// Repair checks the elixir holding, then the repair window, and only then
// writes: elixir -1, streak restored, snapshot cleared.
func (s *StreakServiceImpl) Repair(ctx context.Context, userID uuid.UUID) (model.RepairResult, error) {
	if userID == uuid.Nil {
		return model.RepairResult{}, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	now := s.now()

	var (
		res model.RepairResult
		ev  model.AuditEvent
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		st, err := tx.State(ctx, userID)
		if err != nil {
			return fmt.Errorf("user state: %w", err)
		}
		elixir, err := tx.Owned(ctx, userID, gamification.ItemStreakRevivalElixir)
		if err != nil {
			return err
		}
		if err := gamification.CheckRepair(*st, elixir, now, s.window); err != nil {
			return err
		}

		if _, err := tx.AddOwned(ctx, userID, gamification.ItemStreakRevivalElixir, -1); err != nil {
			return err
		}
		var out model.GamificationState
		out, ev = gamification.ApplyRepair(*st, now)
		if err := tx.PutState(ctx, &out); err != nil {
			return err
		}
		res = model.RepairResult{Success: true, RestoredStreak: out.CurrentStreak}
		return nil
	})
	s.metrics.ObserveRepair(err)
	if err != nil {
		return model.RepairResult{}, err
	}

	s.metrics.ObserveAudit(ev)
	s.log.Info("streak repaired",
		zap.String("user", userID.String()),
		zap.Int64("streak", res.RestoredStreak),
	)
	return res, nil
}

// Grant credits gems and XP in one transaction.
func (s *StreakServiceImpl) Grant(ctx context.Context, userID uuid.UUID, gems, xp int64) (*model.GamificationState, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}

	var out *model.GamificationState
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		st, err := tx.State(ctx, userID)
		if err != nil {
			return fmt.Errorf("user state: %w", err)
		}
		if err := gamification.Grant(st, gems, xp); err != nil {
			return err
		}
		if err := tx.PutState(ctx, st); err != nil {
			return err
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("grant",
		zap.String("user", userID.String()),
		zap.Int64("gems", gems),
		zap.Int64("xp", xp),
	)
	return out, nil
}
