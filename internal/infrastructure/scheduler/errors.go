package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrUnknownJobKind is returned by executors for kinds they do not run
	ErrUnknownJobKind = errors.New("unknown job kind")

	// ErrArchiveDisabled is returned for report archive jobs without an archive
	ErrArchiveDisabled = errors.New("report archive is not configured")
)
