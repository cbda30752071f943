package handlers

import (
	"errors"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

const (
	// DefaultPageSize is the default number of items per page
	DefaultPageSize = models.DefaultLimit
	// MinPageSize is the minimum allowed page size
	MinPageSize = 1
	// MaxPageSize is the maximum allowed page size
	MaxPageSize = 1000
)

// getPaginationOptions returns a ListOptions struct with validated pagination parameters.
// A zero limit selects the default page size; larger limits are clamped.
func getPaginationOptions(page, limit int) (*models.ListOptions, error) {
	if page < 0 {
		return nil, errors.New(ErrMsgNegativePagination)
	}
	if page == 0 {
		page = 1
	}
	if limit < 0 {
		return nil, errors.New(ErrMsgInvalidLimit)
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return &models.ListOptions{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, nil
}
