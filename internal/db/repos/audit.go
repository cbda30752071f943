package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// AuditRepository persists audit ledger entries
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Write appends a single entry. Existing entries are never modified.
func (r *AuditRepository) Write(ctx context.Context, entry models.AuditEntry) error {
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to write audit entry %d: %w", entry.Sequence, err)
	}
	return nil
}

// Last returns the most recent entry, used to resume the hash chain after restart
func (r *AuditRepository) Last(ctx context.Context) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	err := r.db.WithContext(ctx).Order("sequence DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last audit entry: %w", err)
	}
	return &entry, nil
}

// List returns entries matching the filter in append order
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	qry := r.db.WithContext(ctx).Model(&models.AuditEntry{})
	if filter.SubjectID != "" {
		qry = qry.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Actor != "" {
		qry = qry.Where("actor = ?", filter.Actor)
	}
	if len(filter.EventTypes) > 0 {
		qry = qry.Where("event_type IN ?", filter.EventTypes)
	}
	if !filter.From.IsZero() {
		qry = qry.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		qry = qry.Where("timestamp <= ?", filter.To)
	}
	if filter.Limit > 0 {
		qry = qry.Limit(filter.Limit)
	}

	var entries []models.AuditEntry
	if err := qry.Order("sequence ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
