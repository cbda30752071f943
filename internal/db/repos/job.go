package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// JobRepository provides access to job-related database operations
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new job repository instance
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save inserts the job or overwrites the stored row with the same ID
func (r *JobRepository) Save(ctx context.Context, job *models.Job) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(job).Error
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where(&models.Job{ID: id}).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// List returns jobs ordered by arrival, newest first
func (r *JobRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	if opts == nil {
		opts = &models.ListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = models.DefaultLimit
	}

	qry := r.db.WithContext(ctx).Model(&models.Job{})
	if opts.State != nil {
		qry = qry.Where(models.JobStateField+" = ?", *opts.State)
	}

	var jobs []models.Job
	err := qry.Limit(limit).Offset(opts.Offset).
		Order(models.JobSequenceField + " DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// LoadPending returns every job that had not reached a terminal state, in arrival order
func (r *JobRepository) LoadPending(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where(models.JobStateField+" IN ?", []models.JobState{models.JobStateQueued, models.JobStateRunning}).
		Order(models.JobEnqueuedAtField + " ASC").
		Order(models.JobSequenceField + " ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending jobs: %w", err)
	}
	return jobs, nil
}

// MaxSequence returns the highest arrival sequence stored, or zero
func (r *JobRepository) MaxSequence(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	row := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("MAX(" + models.JobSequenceField + ")").
		Row()
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read max job sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}
