package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/streakkeeper/internal/model"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePurchase("X", nil)
	m.ObserveRepair(errors.New("x"))
	m.ObserveAudit(model.AuditEvent{Kind: model.AuditStreakReset})
	m.ObserveWrite(model.WriteConflict)
	m.ObserveRun(time.Second, nil)
	m.ObserveCache("hit")

	resp, err := UnaryServerInterceptor(nil)(context.Background(), "req",
		&grpc.UnaryServerInfo{FullMethod: "/x"},
		func(ctx context.Context, req any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObservePurchase("STREAK_FREEZE", nil)
	m.ObservePurchase("STREAK_FREEZE", errors.New("boom"))
	m.ObserveAudit(
		model.AuditEvent{Kind: model.AuditFreezeConsumed},
		model.AuditEvent{Kind: model.AuditFreezeConsumed},
		model.AuditEvent{Kind: model.AuditWeeklyXPReset},
	)
	m.ObserveWrite(model.WriteApplied)
	m.ObserveWrite(model.WriteConflict)
	m.ObserveWrite(model.WriteFailed)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Purchases.WithLabelValues("STREAK_FREEZE", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Purchases.WithLabelValues("STREAK_FREEZE", "error")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.AuditEvents.WithLabelValues("freeze_consumed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileWrites.WithLabelValues("conflict")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileWrites.WithLabelValues("failed")))
}

func TestUnaryServerInterceptor(t *testing.T) {
	m := New()
	ic := UnaryServerInterceptor(m)
	info := &grpc.UnaryServerInfo{FullMethod: "/streakkeeper.v1.StreakKeeper/PurchaseItem"}

	_, _ = ic(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.FailedPrecondition, "insufficient funds")
	})
	_, _ = ic(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})

	require.Equal(t, 1.0, testutil.ToFloat64(m.RequestCounter.WithLabelValues(info.FullMethod, "FailedPrecondition")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RequestCounter.WithLabelValues(info.FullMethod, "OK")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.RequestsInFlight.WithLabelValues(info.FullMethod)))
}
