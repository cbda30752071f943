package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// ApprovalRepository provides access to approval records
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates a new approval repository instance
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create stores a new approval record. Records are never updated afterwards, and a
// request holds at most one approving record.
func (r *ApprovalRepository) Create(ctx context.Context, record *models.ApprovalRecord) error {
	if record.ID != 0 {
		return fmt.Errorf("approval record %d already stored", record.ID)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if record.Decision.Approved() {
			var count int64
			err := tx.Model(&models.ApprovalRecord{}).
				Where("request_id = ? AND decision <> ?", record.RequestID, models.ApprovalRejected).
				Count(&count).Error
			if err != nil {
				return fmt.Errorf("failed to check approval records: %w", err)
			}
			if count > 0 {
				return fmt.Errorf("request %s already has an approval", record.RequestID)
			}
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create approval record: %w", err)
		}
		return nil
	})
}

// Delete removes an approval record whose job could not be scheduled
func (r *ApprovalRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.ApprovalRecord{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete approval record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("approval record %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetActive returns the non-rejected approval record of a request, if any
func (r *ApprovalRepository) GetActive(ctx context.Context, requestID string) (*models.ApprovalRecord, error) {
	var record models.ApprovalRecord
	err := r.db.WithContext(ctx).
		Where("request_id = ? AND decision <> ?", requestID, models.ApprovalRejected).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active approval for request %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval record: %w", err)
	}
	return &record, nil
}

// ListByRequest returns every approval record of a request, oldest first
func (r *ApprovalRepository) ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalRecord, error) {
	var records []models.ApprovalRecord
	err := r.db.WithContext(ctx).
		Where(&models.ApprovalRecord{RequestID: requestID}).
		Order("decided_at ASC").Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list approval records: %w", err)
	}
	return records, nil
}
