package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupJobRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&JobRunRecord{}))
	return db
}

func TestJobRunRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(setupJobRunDB(t), nil)

	landlordID := uuid.New()
	job := NewGenerationJob(&landlordID, 2026, time.March, 1)

	job.Start()
	repo.RecordStart(ctx, job)
	job.Fail("database unavailable")
	repo.RecordFinish(ctx, job)

	job.prepareRetry()
	job.Start()
	repo.RecordStart(ctx, job)
	job.Complete()
	repo.RecordFinish(ctx, job)

	runs, err := repo.FindByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 1, runs[0].Attempt)
	assert.Equal(t, string(JobStatusFailed), runs[0].Status)
	assert.Equal(t, "database unavailable", runs[0].Error)
	assert.Equal(t, "2026-03", runs[0].Period)
	assert.Equal(t, &landlordID, runs[0].LandlordID)
	assert.NotNil(t, runs[0].CompletedAt)

	assert.Equal(t, 2, runs[1].Attempt)
	assert.Equal(t, string(JobStatusSuccess), runs[1].Status)
	assert.Empty(t, runs[1].Error)

	last, err := repo.LastRun(ctx, JobTypeGenerateInvoices)
	require.NoError(t, err)
	assert.Equal(t, 2, last.Attempt)

	_, err = repo.LastRun(ctx, JobTypeSweepOverdue)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestJobPeriod(t *testing.T) {
	assert.Equal(t, "2026-11", jobPeriod(NewGenerationJob(nil, 2026, time.November, 0)))
	assert.Equal(t, "2026-03-10", jobPeriod(NewSweepJob(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), 0)))
}

func TestScheduler_RecordsRunsInDatabase(t *testing.T) {
	repo := NewJobRunRepository(setupJobRunDB(t), nil)
	var attempts atomic.Int32
	s := startScheduler(t, testSchedulerConfig(), funcExecutor(func(context.Context, *Job) error {
		if attempts.Add(1) == 1 {
			return errors.New("lock busy")
		}
		return nil
	}), WithJobRecorder(repo))

	job, err := s.ScheduleSweep(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runs, err := repo.FindByJob(context.Background(), job.ID)
		return err == nil && len(runs) == 2 && runs[1].Status == string(JobStatusSuccess)
	}, 2*time.Second, 10*time.Millisecond)
}
