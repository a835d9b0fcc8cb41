package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rentbill/backend/internal/domain/billing"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobSubmitter accepts billing jobs
type JobSubmitter interface {
	ScheduleGeneration(landlordID *uuid.UUID, year int, month time.Month) (*Job, error)
	ScheduleSweep(asOf time.Time) (*Job, error)
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// GenerationCron is a standard five-field expression for monthly invoice generation
	GenerationCron string
	// SweepCron is a standard five-field expression for the overdue sweep
	SweepCron string
	// Location is the time zone the expressions are evaluated in
	Location *time.Location
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		GenerationCron: "0 2 1 * *", // 02:00 on the 1st
		SweepCron:      "0 3 * * *", // 03:00 daily
		Location:       time.UTC,
	}
}

// CronTrigger submits generation and sweep jobs on their cron schedules
type CronTrigger struct {
	config    CronTriggerConfig
	submitter JobSubmitter
	logger    *zap.Logger
	clock     func() time.Time

	mu        sync.Mutex
	cron      *cron.Cron
	isRunning bool
}

// NewCronTrigger validates both expressions and creates a trigger
func NewCronTrigger(cfg CronTriggerConfig, submitter JobSubmitter, logger *zap.Logger) (*CronTrigger, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for name, expr := range map[string]string{"generation_cron": cfg.GenerationCron, "sweep_cron": cfg.SweepCron} {
		if _, err := cron.ParseStandard(expr); err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidConfig, name, expr, err)
		}
	}
	return &CronTrigger{
		config:    cfg,
		submitter: submitter,
		logger:    logger,
		clock:     time.Now,
	}, nil
}

// Start registers both schedules and starts the cron runner
func (c *CronTrigger) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isRunning {
		return nil
	}

	runner := cron.New(cron.WithLocation(c.config.Location))
	if _, err := runner.AddFunc(c.config.GenerationCron, func() { c.TriggerGeneration(c.clock()) }); err != nil {
		return fmt.Errorf("register generation schedule: %w", err)
	}
	if _, err := runner.AddFunc(c.config.SweepCron, func() { c.TriggerSweep(c.clock()) }); err != nil {
		return fmt.Errorf("register sweep schedule: %w", err)
	}
	runner.Start()

	c.cron = runner
	c.isRunning = true
	c.logger.Info("Cron trigger started",
		zap.String("generation_cron", c.config.GenerationCron),
		zap.String("sweep_cron", c.config.SweepCron),
		zap.String("location", c.config.Location.String()),
	)
	return nil
}

// Stop stops the cron runner and waits for a running trigger to return
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	runner := c.cron
	c.mu.Unlock()

	select {
	case <-runner.Stop().Done():
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRuns returns the next run time of each registered schedule
func (c *CronTrigger) NextRuns() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return nil
	}
	entries := c.cron.Entries()
	next := make([]time.Time, len(entries))
	for i, e := range entries {
		next[i] = e.Next
	}
	return next
}

// TriggerGeneration submits generation of the billing month containing now
// for all landlords
func (c *CronTrigger) TriggerGeneration(now time.Time) {
	local := now.In(c.config.Location)
	job, err := c.submitter.ScheduleGeneration(nil, local.Year(), local.Month())
	if err != nil {
		c.logger.Error("Failed to schedule invoice generation",
			zap.Int("year", local.Year()),
			zap.Int("month", int(local.Month())),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("Scheduled invoice generation",
		zap.String("job_id", job.ID.String()),
		zap.Int("year", job.Year),
		zap.Int("month", int(job.Month)),
	)
}

// TriggerSweep submits an overdue sweep as of the calendar day of now
func (c *CronTrigger) TriggerSweep(now time.Time) {
	local := now.In(c.config.Location)
	asOf := billing.DateOf(local)
	job, err := c.submitter.ScheduleSweep(asOf)
	if err != nil {
		c.logger.Error("Failed to schedule overdue sweep", zap.Time("as_of", asOf), zap.Error(err))
		return
	}
	c.logger.Info("Scheduled overdue sweep", zap.String("job_id", job.ID.String()), zap.Time("as_of", job.AsOf))
}
