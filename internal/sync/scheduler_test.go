package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockRunner implements Runner for testing.
type mockRunner struct {
	calls   atomic.Int32
	runFunc func(ctx context.Context, call int) *Report
}

func (m *mockRunner) Run(ctx context.Context) *Report {
	call := int(m.calls.Add(1))
	if m.runFunc == nil {
		return &Report{Success: true, StartedAt: time.Now()}
	}
	return m.runFunc(ctx, call)
}

func newTestScheduler(t *testing.T, runner Runner, cfg SchedulerConfig) *Scheduler {
	t.Helper()

	s, err := NewScheduler(runner, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestNewScheduler(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     SchedulerConfig
		errMsg  string
		runner  Runner
		wantErr bool
	}{
		"valid config applies defaults": {
			cfg:    SchedulerConfig{Interval: time.Minute},
			runner: &mockRunner{},
		},
		"missing runner": {
			cfg:     SchedulerConfig{Interval: time.Minute},
			wantErr: true,
			errMsg:  "runner is required",
		},
		"zero interval": {
			runner:  &mockRunner{},
			wantErr: true,
			errMsg:  "interval must be positive",
		},
		"negative stop timeout": {
			cfg:     SchedulerConfig{Interval: time.Minute, StopTimeout: -time.Second},
			runner:  &mockRunner{},
			wantErr: true,
			errMsg:  "stop timeout must not be negative",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := NewScheduler(tc.runner, tc.cfg, nil)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, s)
			} else {
				require.NoError(t, err)
				require.Equal(t, 60*time.Second, s.config.CrashPause)
				require.Equal(t, 10*time.Second, s.config.StopTimeout)
				require.False(t, s.Running())
			}
		})
	}
}

func TestScheduler_StartAndStopAreIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, &mockRunner{}, SchedulerConfig{Interval: time.Hour})

	require.NoError(t, s.Stop(), "stopping a stopped scheduler is a no-op")

	s.Start()
	done := s.done
	s.Start()
	require.True(t, s.Running())
	require.Equal(t, done, s.done, "second start does not launch another loop")

	require.NoError(t, s.Stop())
	require.False(t, s.Running())
	require.NoError(t, s.Stop())
}

func TestScheduler_RunsPassesOnInterval(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{
		runFunc: func(_ context.Context, _ int) *Report {
			return &Report{Success: true, EventsSynced: 2, StartedAt: time.Now(), Duration: time.Millisecond}
		},
	}
	s := newTestScheduler(t, runner, SchedulerConfig{Interval: 10 * time.Millisecond})

	s.Start()
	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	stats := s.Statistics()
	require.GreaterOrEqual(t, stats.TotalSyncs, 3)
	require.Equal(t, stats.TotalSyncs, stats.SuccessfulSyncs)
	require.Equal(t, int64(2*stats.TotalSyncs), stats.TotalEventsSynced)
	require.NotNil(t, stats.LastSyncTime)
}

func TestScheduler_StopDoesNotCancelInFlightPass(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var passCtxErr atomic.Value

	runner := &mockRunner{
		runFunc: func(ctx context.Context, call int) *Report {
			if call == 1 {
				close(started)
				<-release
				passCtxErr.Store(ctx.Err() != nil)
			}
			return &Report{Success: true, StartedAt: time.Now()}
		},
	}
	s := newTestScheduler(t, runner, SchedulerConfig{Interval: time.Millisecond, StopTimeout: 2 * time.Second})

	s.Start()
	<-started

	stopErr := make(chan error, 1)
	go func() { stopErr <- s.Stop() }()

	// Stop is waiting on the pass.
	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-stopErr:
		t.Fatalf("stop returned before the pass finished: %v", err)
	default:
	}

	close(release)
	require.NoError(t, <-stopErr)
	require.Equal(t, false, passCtxErr.Load(), "in-flight pass context is not cancelled")
	require.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_StopTimesOut(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	runner := &mockRunner{
		runFunc: func(_ context.Context, call int) *Report {
			if call == 1 {
				close(started)
				<-release
			}
			return &Report{Success: true, StartedAt: time.Now()}
		},
	}
	s := newTestScheduler(t, runner, SchedulerConfig{Interval: time.Millisecond, StopTimeout: 20 * time.Millisecond})

	s.Start()
	<-started

	require.ErrorIs(t, s.Stop(), ErrStopTimeout)
	require.False(t, s.Running())
}

func TestScheduler_RecoversFromPanickingPass(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{
		runFunc: func(_ context.Context, call int) *Report {
			if call == 1 {
				panic("database exploded")
			}
			return &Report{Success: true, StartedAt: time.Now()}
		},
	}
	s := newTestScheduler(t, runner, SchedulerConfig{
		CrashPause: 5 * time.Millisecond,
		Interval:   5 * time.Millisecond,
	})

	var (
		mu      sync.Mutex
		reports []*Report
	)
	s.Subscribe(func(r *Report) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
	})

	s.Start()
	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	require.False(t, reports[0].Success)
	require.Equal(t, []string{"sync pass crashed: database exploded"}, reports[0].Errors)
	require.True(t, reports[1].Success)

	stats := s.Statistics()
	require.Equal(t, 1, stats.FailedSyncs)
}

func TestScheduler_SyncNow(t *testing.T) {
	t.Parallel()

	durations := []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}
	runner := &mockRunner{
		runFunc: func(_ context.Context, call int) *Report {
			report := &Report{
				Duration:     durations[call-1],
				EventsSynced: call,
				StartedAt:    time.Date(2024, 1, 1, 0, 0, call, 0, time.UTC),
				Success:      true,
			}
			if call == 2 {
				report.Errors = []string{"boom"}
				report.Success = false
			}
			return report
		},
	}
	s := newTestScheduler(t, runner, SchedulerConfig{Interval: time.Hour})

	var notified atomic.Int32
	unsubscribe := s.Subscribe(func(*Report) { notified.Add(1) })

	for range 2 {
		require.NotNil(t, s.SyncNow(context.Background()))
	}
	unsubscribe()
	s.SyncNow(context.Background())

	require.Equal(t, int32(2), notified.Load())
	require.False(t, s.Running(), "manual passes do not start the loop")

	stats := s.Statistics()
	require.Equal(t, 3, stats.TotalSyncs)
	require.Equal(t, 2, stats.SuccessfulSyncs)
	require.Equal(t, 1, stats.FailedSyncs)
	require.Equal(t, int64(6), stats.TotalEventsSynced)
	require.Equal(t, 3*time.Second, stats.AverageDuration)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 8, 0, time.UTC), *stats.LastSyncTime)
}

func TestScheduler_SyncNowWithNilReport(t *testing.T) {
	t.Parallel()

	runner := &mockRunner{runFunc: func(context.Context, int) *Report { return nil }}
	s := newTestScheduler(t, runner, SchedulerConfig{Interval: time.Hour})

	report := s.SyncNow(context.Background())
	require.False(t, report.Success)
	require.Equal(t, []string{"sync pass returned no report"}, report.Errors)
}

func TestStatistics_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	var r statsRecorder
	r.record(&Report{Success: true, StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})

	snap := r.snapshot()
	*snap.LastSyncTime = time.Time{}

	require.False(t, r.snapshot().LastSyncTime.IsZero())
}
