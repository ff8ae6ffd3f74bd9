package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/streakkeeper/internal/gamification"
	"github.com/and161185/streakkeeper/internal/metrics"
	"github.com/and161185/streakkeeper/internal/model"
	"github.com/and161185/streakkeeper/internal/repository"
)

const (
	defaultPageSize = 500
	// maxWriteAttempts bounds how often a conflicted user is re-read and
	// re-written within one run.
	maxWriteAttempts = 3
)

// Reconciler runs the daily streak and weekly XP rollover over all users.
type Reconciler struct {
	store    repository.GamificationStore
	pageSize int
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewReconciler constructs a Reconciler. A non-positive pageSize uses the default.
func NewReconciler(store repository.GamificationStore, pageSize int, log *zap.Logger, m *metrics.Metrics) *Reconciler {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: store, pageSize: pageSize, now: time.Now, log: log, metrics: m}
}

// SetClock overrides the time source.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Run reconciles every user once for the current UTC day.
//
// Users are read page by page in id order; changed states of a page are
// written in one batch, each write guarded by the version it was read at.
// A lost write is counted as a conflict; the user is re-read, reduced and
// written again up to maxWriteAttempts times before being left to the next run.
// Only listing or batch errors abort the run.
func (r *Reconciler) Run(ctx context.Context) (model.ReconcileReport, error) {
	start := time.Now()
	now := r.now()
	rep := model.ReconcileReport{Day: gamification.Day(now)}

	err := r.run(ctx, now, &rep)
	r.metrics.ObserveRun(time.Since(start), err)

	fields := []zap.Field{
		zap.Time("day", rep.Day),
		zap.Int("scanned", rep.Scanned),
		zap.Int("updated", rep.Updated),
		zap.Int("skipped", rep.Skipped),
		zap.Int("conflicts", rep.Conflicts),
		zap.Int("failed", rep.Failed),
		zap.Int("freezes_used", rep.FreezesUsed),
		zap.Int("resets", rep.Resets),
		zap.Int("weekly_resets", rep.WeeklyResets),
		zap.Duration("dur", time.Since(start)),
	}
	if err != nil {
		r.log.Error("reconcile aborted", append(fields, zap.Error(err))...)
		return rep, err
	}
	r.log.Info("reconcile done", fields...)
	return rep, nil
}

func (r *Reconciler) run(ctx context.Context, now time.Time, rep *model.ReconcileReport) error {
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.store.ListStates(ctx, after, r.pageSize)
		if err != nil {
			return fmt.Errorf("list states after %s: %w", after, err)
		}
		if len(page) == 0 {
			return nil
		}
		after = page[len(page)-1].UserID
		rep.Scanned += len(page)

		if err := r.reconcilePage(ctx, page, now, rep); err != nil {
			return err
		}
		if len(page) < r.pageSize {
			return nil
		}
	}
}

func (r *Reconciler) reconcilePage(ctx context.Context, page []model.GamificationState, now time.Time, rep *model.ReconcileReport) error {
	changed := make([]model.GamificationState, 0, len(page))
	events := make(map[uuid.UUID][]model.AuditEvent, len(page))
	for _, st := range page {
		out, evs, ok := gamification.Reconcile(st, now)
		if !ok {
			rep.Skipped++
			continue
		}
		changed = append(changed, out)
		events[st.UserID] = evs
	}
	if len(changed) == 0 {
		return nil
	}

	pending := changed
	for attempt := 1; ; attempt++ {
		writes, err := r.store.ApplyReconciled(ctx, pending)
		if err != nil {
			return fmt.Errorf("apply reconciled: %w", err)
		}
		var conflicted []uuid.UUID
		for _, w := range writes {
			r.metrics.ObserveWrite(w.Outcome)
			switch w.Outcome {
			case model.WriteApplied:
				rep.Updated++
				r.record(rep, events[w.UserID])
			case model.WriteConflict:
				rep.Conflicts++
				conflicted = append(conflicted, w.UserID)
			default:
				rep.Failed++
				r.log.Warn("reconcile write failed", zap.String("user", w.UserID.String()), zap.Error(w.Err))
			}
		}
		if len(conflicted) == 0 {
			return nil
		}
		if attempt >= maxWriteAttempts {
			for _, id := range conflicted {
				r.log.Warn("reconcile conflict unresolved", zap.String("user", id.String()), zap.Int("attempts", attempt))
			}
			return nil
		}

		pending, err = r.reread(ctx, conflicted, now, events, rep)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
	}
}

// reread loads the current state of conflicted users and reduces it again.
// Users another writer has already reconciled for today drop out.
func (r *Reconciler) reread(ctx context.Context, ids []uuid.UUID, now time.Time, events map[uuid.UUID][]model.AuditEvent, rep *model.ReconcileReport) ([]model.GamificationState, error) {
	out := make([]model.GamificationState, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := r.store.State(ctx, id)
		if err != nil {
			rep.Failed++
			r.log.Warn("reconcile reread failed", zap.String("user", id.String()), zap.Error(err))
			continue
		}
		next, evs, ok := gamification.Reconcile(*st, now)
		if !ok {
			continue
		}
		events[id] = evs
		out = append(out, next)
	}
	return out, nil
}

func (r *Reconciler) record(rep *model.ReconcileReport, events []model.AuditEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case model.AuditFreezeConsumed:
			rep.FreezesUsed++
		case model.AuditStreakReset:
			rep.Resets++
		case model.AuditWeeklyXPReset:
			rep.WeeklyResets++
		}
		r.log.Info("gamification transition",
			zap.String("user", ev.UserID.String()),
			zap.String("kind", string(ev.Kind)),
			zap.Time("day", ev.Day),
			zap.Int64("value", ev.Value),
		)
	}
	r.metrics.ObserveAudit(events...)
}
