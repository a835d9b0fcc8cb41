package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidJobType is returned for unknown job types
	ErrInvalidJobType = errors.New("invalid job type")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrGenerationIncomplete is returned when some tenants could not be invoiced
	ErrGenerationIncomplete = errors.New("invoice generation incomplete")

	// ErrSweepIncomplete is returned when some overdue invoices could not be updated
	ErrSweepIncomplete = errors.New("overdue sweep incomplete")
)
