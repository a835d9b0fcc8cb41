package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// JobRunRecord is one attempt of a scheduled billing job
type JobRunRecord struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	JobID       uuid.UUID  `gorm:"column:job_id;type:uuid;not null;index"`
	JobType     string     `gorm:"column:job_type;size:30;not null"`
	LandlordID  *uuid.UUID `gorm:"column:landlord_id;type:uuid"`
	Period      string     `gorm:"column:period;size:10"`
	Attempt     int        `gorm:"column:attempt;not null"`
	Status      string     `gorm:"column:status;size:20;not null"`
	Error       string     `gorm:"column:error;type:text"`
	StartedAt   time.Time  `gorm:"column:started_at;not null"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

// TableName returns the table name for GORM
func (JobRunRecord) TableName() string {
	return "billing_job_runs"
}

// JobRunRepository stores job run history. Write failures are logged and
// never fail the job.
type JobRunRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewJobRunRepository creates a new JobRunRepository
func NewJobRunRepository(db *gorm.DB, logger *zap.Logger) *JobRunRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobRunRepository{db: db, logger: logger}
}

// runID is the record id of one attempt of job
func runID(job *Job) uuid.UUID {
	return uuid.NewSHA1(job.ID, []byte{byte(job.RetryCount)})
}

func jobPeriod(job *Job) string {
	if job.Type == JobTypeSweepOverdue {
		return job.AsOf.Format(time.DateOnly)
	}
	return time.Date(job.Year, job.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// RecordStart implements JobRecorder
func (r *JobRunRepository) RecordStart(ctx context.Context, job *Job) {
	started := time.Now()
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	record := &JobRunRecord{
		ID:         runID(job),
		JobID:      job.ID,
		JobType:    string(job.Type),
		LandlordID: job.LandlordID,
		Period:     jobPeriod(job),
		Attempt:    job.RetryCount + 1,
		Status:     string(JobStatusRunning),
		StartedAt:  started,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		r.logger.Warn("Failed to record job start", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// RecordFinish implements JobRecorder
func (r *JobRunRepository) RecordFinish(ctx context.Context, job *Job) {
	completed := time.Now()
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	err := r.db.WithContext(ctx).
		Model(&JobRunRecord{}).
		Where("id = ?", runID(job)).
		Updates(map[string]any{
			"status":       string(job.Status),
			"error":        job.Error,
			"completed_at": completed,
		}).Error
	if err != nil {
		r.logger.Warn("Failed to record job finish", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// FindByJob returns every recorded attempt of a job, oldest first
func (r *JobRunRepository) FindByJob(ctx context.Context, jobID uuid.UUID) ([]JobRunRecord, error) {
	var records []JobRunRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("attempt ASC").
		Find(&records).Error
	return records, err
}

// LastRun returns the most recent attempt of the given job type
func (r *JobRunRepository) LastRun(ctx context.Context, jobType JobType) (*JobRunRecord, error) {
	var record JobRunRecord
	err := r.db.WithContext(ctx).
		Where("job_type = ?", string(jobType)).
		Order("started_at DESC, attempt DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

var _ JobRecorder = (*JobRunRepository)(nil)
