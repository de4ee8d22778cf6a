// Package scheduler runs the ledger's background jobs: the daily integrity
// check and, optionally, archiving the previous day's period report.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStatus represents the status of a scheduled job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobKind names what a job does
type JobKind string

const (
	// JobIntegrityCheck compares batch balances with stock levels and looks for orphans
	JobIntegrityCheck JobKind = "INTEGRITY_CHECK"
	// JobReportArchive stores the period report of [PeriodStart, PeriodEnd)
	JobReportArchive JobKind = "REPORT_ARCHIVE"
)

// Job is one run of a background task
type Job struct {
	ID          uuid.UUID
	Kind        JobKind
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time
}

// NewJob creates a pending job
func NewJob(kind JobKind, periodStart, periodEnd time.Time, maxRetries int) *Job {
	return &Job{
		ID:          uuid.New(),
		Kind:        kind,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      JobStatusPending,
		MaxRetries:  maxRetries,
	}
}

func (j *Job) start(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

func (j *Job) complete(now time.Time) {
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

func (j *Job) fail(now time.Time, err string) {
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job failed and has retries left
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

func (j *Job) scheduleRetry(now time.Time, delay time.Duration) {
	j.RetryCount++
	j.Status = JobStatusPending
	next := now.Add(delay)
	j.NextRetryAt = &next
	j.Error = ""
}

func (j *Job) fields() []zap.Field {
	return []zap.Field{
		zap.String("job_id", j.ID.String()),
		zap.String("job_kind", string(j.Kind)),
	}
}

// JobExecutor runs jobs
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}

// JobExecutorFunc adapts a function to JobExecutor
type JobExecutorFunc func(ctx context.Context, job *Job) error

// Execute calls f
func (f JobExecutorFunc) Execute(ctx context.Context, job *Job) error { return f(ctx, job) }

// Config holds the worker pool settings
type Config struct {
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 1,
		QueueSize:         16,
		JobTimeout:        30 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        5 * time.Minute,
	}
}

// Scheduler runs submitted jobs on a small worker pool, retrying failures
type Scheduler struct {
	config   Config
	executor JobExecutor
	clock    shared.Clock
	logger   *zap.Logger

	jobs      chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	// onDone, when set, is called after each job attempt
	onDone func(*Job)
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the wall clock
func WithClock(c shared.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithJobDone registers a callback run after every job attempt
func WithJobDone(fn func(*Job)) Option {
	return func(s *Scheduler) { s.onDone = fn }
}

// NewScheduler creates a new scheduler instance
func NewScheduler(config Config, executor JobExecutor, logger *zap.Logger, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = defaults.MaxConcurrentJobs
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		config:   config,
		executor: executor,
		clock:    shared.SystemClock{},
		logger:   logger,
		jobs:     make(chan *Job, config.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitJob queues a job. It fails when the scheduler is stopped or the queue is full.
func (s *Scheduler) SubmitJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	select {
	case s.jobs <- job:
		s.logger.Debug("Job submitted", job.fields()...)
		return nil
	default:
		return ErrJobQueueFull
	}
}

func (s *Scheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *Scheduler) processJob(ctx context.Context, job *Job, workerID int) {
	if job.NextRetryAt != nil {
		if wait := job.NextRetryAt.Sub(s.clock.Now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	job.start(s.clock.Now())
	log := s.logger.With(append(job.fields(), zap.Int("worker_id", workerID))...)
	log.Info("Processing job")

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	err := s.executor.Execute(jobCtx, job)
	cancel()

	if err == nil {
		job.complete(s.clock.Now())
		log.Info("Job completed")
		s.done(job)
		return
	}

	job.fail(s.clock.Now(), err.Error())
	log.Error("Job failed", zap.Error(err), zap.Int("retry_count", job.RetryCount))
	retry := job.ShouldRetry() && ctx.Err() == nil
	s.done(job)
	if !retry {
		return
	}

	job.scheduleRetry(s.clock.Now(), s.config.RetryDelay)
	select {
	case s.jobs <- job:
		log.Info("Job scheduled for retry", zap.Int("retry_count", job.RetryCount), zap.Int("max_retries", job.MaxRetries))
	default:
		log.Warn("Failed to re-queue job for retry")
	}
}

func (s *Scheduler) done(job *Job) {
	if s.onDone != nil {
		s.onDone(job)
	}
}

// ScheduleDaily queues the jobs covering the day before now: the integrity
// check and, when archiveReports is set, the archive of that day's period report.
func (s *Scheduler) ScheduleDaily(now time.Time, archiveReports bool) error {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -1)

	if err := s.SubmitJob(NewJob(JobIntegrityCheck, start, end, s.config.RetryAttempts)); err != nil {
		return err
	}
	if archiveReports {
		return s.SubmitJob(NewJob(JobReportArchive, start, end, s.config.RetryAttempts))
	}
	return nil
}
