package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSubmitter struct {
	mu          sync.Mutex
	generations []*Job
	sweeps      []*Job
	err         error
}

func (r *recordingSubmitter) ScheduleGeneration(landlordID *uuid.UUID, year int, month time.Month) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	job := NewGenerationJob(landlordID, year, month, 0)
	r.generations = append(r.generations, job)
	return job, nil
}

func (r *recordingSubmitter) ScheduleSweep(asOf time.Time) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	job := NewSweepJob(asOf, 0)
	r.sweeps = append(r.sweeps, job)
	return job, nil
}

func TestNewCronTrigger_ValidatesExpressions(t *testing.T) {
	tests := []struct {
		name       string
		generation string
		sweep      string
		wantErr    bool
	}{
		{"defaults", "0 2 1 * *", "0 3 * * *", false},
		{"descriptor", "@monthly", "@daily", false},
		{"bad generation", "every month", "0 3 * * *", true},
		{"bad sweep", "0 2 1 * *", "61 3 * * *", true},
		{"empty", "", "0 3 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCronTrigger(CronTriggerConfig{GenerationCron: tt.generation, SweepCron: tt.sweep}, &recordingSubmitter{}, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCronTrigger_TriggerGeneration(t *testing.T) {
	submitter := &recordingSubmitter{}
	trigger, err := NewCronTrigger(DefaultCronTriggerConfig(), submitter, nil)
	require.NoError(t, err)

	trigger.TriggerGeneration(time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC))

	require.Len(t, submitter.generations, 1)
	job := submitter.generations[0]
	assert.Nil(t, job.LandlordID)
	assert.Equal(t, 2026, job.Year)
	assert.Equal(t, time.March, job.Month)
}

func TestCronTrigger_UsesConfiguredLocation(t *testing.T) {
	submitter := &recordingSubmitter{}
	cfg := DefaultCronTriggerConfig()
	cfg.Location = time.FixedZone("UTC+3", 3*60*60)
	trigger, err := NewCronTrigger(cfg, submitter, nil)
	require.NoError(t, err)

	// 22:30 UTC on 31 March is already 1 April in UTC+3.
	now := time.Date(2026, 3, 31, 22, 30, 0, 0, time.UTC)
	trigger.TriggerGeneration(now)
	trigger.TriggerSweep(now)

	require.Len(t, submitter.generations, 1)
	assert.Equal(t, time.April, submitter.generations[0].Month)
	require.Len(t, submitter.sweeps, 1)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), submitter.sweeps[0].AsOf)
}

func TestCronTrigger_LogsSubmitFailures(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	submitter := &recordingSubmitter{err: ErrJobQueueFull}
	trigger, err := NewCronTrigger(DefaultCronTriggerConfig(), submitter, zap.New(core))
	require.NoError(t, err)

	trigger.TriggerSweep(time.Now())
	trigger.TriggerGeneration(time.Now())

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Failed to schedule overdue sweep", logs.All()[0].Message)
	assert.Equal(t, ErrJobQueueFull.Error(), logs.All()[0].ContextMap()["error"])
}

func TestCronTrigger_StartStop(t *testing.T) {
	trigger, err := NewCronTrigger(DefaultCronTriggerConfig(), &recordingSubmitter{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Nil(t, trigger.NextRuns())
	require.NoError(t, trigger.Start(ctx))
	require.NoError(t, trigger.Start(ctx))

	next := trigger.NextRuns()
	require.Len(t, next, 2)
	for _, at := range next {
		assert.True(t, at.After(time.Now()))
	}

	require.NoError(t, trigger.Stop(ctx))
	require.NoError(t, trigger.Stop(ctx))
}
