package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/streakkeeper/internal/model"
)

type countingJob struct {
	runs  atomic.Int32
	block chan struct{}
}

func (j *countingJob) Run(ctx context.Context) (model.ReconcileReport, error) {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return model.ReconcileReport{}, ctx.Err()
		}
	}
	return model.ReconcileReport{}, nil
}

func TestNew_BadSpec(t *testing.T) {
	_, err := New("not a schedule", &countingJob{}, 0, nil)
	require.Error(t, err)
}

func TestNext_IsDailyUTC(t *testing.T) {
	s, err := New("10 0 * * *", &countingJob{}, 0, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	defer s.Stop()

	next := s.Next().UTC()
	require.Equal(t, 0, next.Hour())
	require.Equal(t, 10, next.Minute())
	require.True(t, next.After(time.Now()))
}

func TestTick_SkipsOverlap(t *testing.T) {
	job := &countingJob{block: make(chan struct{})}
	s, err := New("@every 1h", job, 0, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.tick() // returns immediately
	require.Equal(t, int32(1), job.runs.Load())

	close(job.block)
	<-done
	s.tick()
	require.Equal(t, int32(2), job.runs.Load())
}

func TestStop_CancelsRun(t *testing.T) {
	job := &countingJob{block: make(chan struct{})}
	s, err := New("@every 1h", job, 0, nil)
	require.NoError(t, err)
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run not cancelled by Stop")
	}
}

func TestRunNow_BusyWhileTicking(t *testing.T) {
	job := &countingJob{block: make(chan struct{})}
	s, err := New("@every 1h", job, 0, nil)
	require.NoError(t, err)
	s.Start(context.Background())
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.tick()
		close(done)
	}()
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	close(job.block)
	<-done
	_, err = s.RunNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), job.runs.Load())
}
