package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type attempt struct {
	kind   JobKind
	status JobStatus
	start  time.Time
	end    time.Time
}

// startScheduler runs a scheduler until the test ends and reports every job attempt on the returned channel
func startScheduler(t *testing.T, cfg Config, exec JobExecutorFunc, opts ...Option) (*Scheduler, <-chan attempt) {
	t.Helper()
	attempts := make(chan attempt, 16)
	opts = append(opts, WithJobDone(func(j *Job) {
		attempts <- attempt{kind: j.Kind, status: j.Status, start: j.PeriodStart, end: j.PeriodEnd}
	}))
	s := NewScheduler(cfg, exec, zap.NewNop(), opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, attempts
}

func next(t *testing.T, attempts <-chan attempt) attempt {
	t.Helper()
	select {
	case a := <-attempts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a job")
		return attempt{}
	}
}

func TestScheduler_ScheduleDaily(t *testing.T) {
	s, attempts := startScheduler(t, Config{}, func(context.Context, *Job) error { return nil })
	now := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)

	require.NoError(t, s.ScheduleDaily(now, true))

	first, second := next(t, attempts), next(t, attempts)
	assert.Equal(t, JobIntegrityCheck, first.kind)
	assert.Equal(t, JobReportArchive, second.kind)
	for _, a := range []attempt{first, second} {
		assert.Equal(t, JobStatusSuccess, a.status)
		assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), a.start)
		assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), a.end)
	}
}

func TestScheduler_ScheduleDailyWithoutArchive(t *testing.T) {
	s, attempts := startScheduler(t, Config{}, func(context.Context, *Job) error { return nil })

	require.NoError(t, s.ScheduleDaily(time.Now(), false))

	assert.Equal(t, JobIntegrityCheck, next(t, attempts).kind)
	select {
	case a := <-attempts:
		t.Fatalf("unexpected job %s", a.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_RetriesFailedJobs(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	exec := func(context.Context, *Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}
	s, attempts := startScheduler(t, Config{RetryAttempts: 2, RetryDelay: time.Millisecond}, exec)

	require.NoError(t, s.SubmitJob(NewJob(JobIntegrityCheck, time.Time{}, time.Time{}, 2)))

	assert.Equal(t, JobStatusFailed, next(t, attempts).status)
	assert.Equal(t, JobStatusSuccess, next(t, attempts).status)
}

func TestScheduler_GivesUpAfterMaxRetries(t *testing.T) {
	s, attempts := startScheduler(t, Config{RetryDelay: time.Millisecond},
		func(context.Context, *Job) error { return errors.New("still broken") })

	require.NoError(t, s.SubmitJob(NewJob(JobIntegrityCheck, time.Time{}, time.Time{}, 1)))

	assert.Equal(t, JobStatusFailed, next(t, attempts).status)
	assert.Equal(t, JobStatusFailed, next(t, attempts).status)
	select {
	case <-attempts:
		t.Fatal("job retried beyond its limit")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_SubmitErrors(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		s := NewScheduler(Config{}, JobExecutorFunc(func(context.Context, *Job) error { return nil }), nil)
		assert.ErrorIs(t, s.SubmitJob(NewJob(JobIntegrityCheck, time.Time{}, time.Time{}, 0)), ErrSchedulerNotRunning)
	})

	t.Run("queue full", func(t *testing.T) {
		started, release := make(chan struct{}, 4), make(chan struct{})
		s, _ := startScheduler(t, Config{QueueSize: 1}, func(ctx context.Context, _ *Job) error {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		})
		defer close(release)

		require.NoError(t, s.SubmitJob(NewJob(JobIntegrityCheck, time.Time{}, time.Time{}, 0)))
		<-started
		require.NoError(t, s.SubmitJob(NewJob(JobIntegrityCheck, time.Time{}, time.Time{}, 0)))
		assert.ErrorIs(t, s.SubmitJob(NewJob(JobIntegrityCheck, time.Time{}, time.Time{}, 0)), ErrJobQueueFull)
	})
}

func TestCronTrigger_RunsOncePerDay(t *testing.T) {
	clock := shared.NewFixedClock(time.Date(2024, 3, 5, 1, 59, 0, 0, time.UTC))
	s, attempts := startScheduler(t, Config{}, func(context.Context, *Job) error { return nil })
	trigger := NewCronTrigger(CronTriggerConfig{Hour: 2, Minute: 0}, s, clock, nil)

	assert.False(t, trigger.checkAndTrigger(), "before the scheduled time")

	clock.Advance(time.Minute)
	assert.True(t, trigger.checkAndTrigger())
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), next(t, attempts).start)

	clock.Advance(3 * time.Hour)
	assert.False(t, trigger.checkAndTrigger(), "already ran today")

	clock.Advance(21 * time.Hour)
	assert.True(t, trigger.checkAndTrigger())
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), next(t, attempts).start)
}

func TestCronTrigger_StartStop(t *testing.T) {
	s, _ := startScheduler(t, Config{}, func(context.Context, *Job) error { return nil })
	trigger := NewCronTrigger(CronTriggerConfig{CheckInterval: 10 * time.Millisecond}, s, nil, nil)

	ctx := context.Background()
	require.NoError(t, trigger.Start(ctx))
	require.NoError(t, trigger.Start(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(stopCtx))
	require.NoError(t, trigger.Stop(stopCtx))
}

func TestCronTrigger_TriggerNow(t *testing.T) {
	clock := shared.NewFixedClock(time.Date(2024, 3, 5, 0, 30, 0, 0, time.UTC))
	s, attempts := startScheduler(t, Config{}, func(context.Context, *Job) error { return nil })

	cfg := DefaultCronTriggerConfig()
	assert.Equal(t, 2, cfg.Hour)
	assert.Equal(t, time.Minute, cfg.CheckInterval)
	cfg.ArchiveReports = true
	trigger := NewCronTrigger(cfg, s, clock, nil)

	require.NoError(t, trigger.TriggerNow())
	first, second := next(t, attempts), next(t, attempts)
	assert.Equal(t, JobIntegrityCheck, first.kind)
	assert.Equal(t, JobReportArchive, second.kind)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), first.start)

	assert.False(t, trigger.checkAndTrigger(), "still before the scheduled time")
}
