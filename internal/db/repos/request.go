package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// RequestRepository provides access to submitted service requests
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new request repository instance
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Save inserts or overwrites a service request
func (r *RequestRepository) Save(ctx context.Context, req *models.ServiceRequest) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(req).Error
	if err != nil {
		return fmt.Errorf("failed to save request %s: %w", req.ID, err)
	}
	return nil
}

// GetByID retrieves a service request by its ID
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.ServiceRequest, error) {
	var req models.ServiceRequest
	err := r.db.WithContext(ctx).Where(&models.ServiceRequest{ID: id}).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &req, nil
}

// ListAwaiting returns requests still waiting for an approver, oldest first
func (r *RequestRepository) ListAwaiting(ctx context.Context, limit int) ([]models.ServiceRequest, error) {
	if limit <= 0 {
		limit = models.DefaultLimit
	}
	var reqs []models.ServiceRequest
	err := r.db.WithContext(ctx).
		Where(&models.ServiceRequest{Status: models.RequestStatusAwaitingApproval}).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting requests: %w", err)
	}
	return reqs, nil
}
