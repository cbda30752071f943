package adapters

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

// DryRunAdapter logs the operation instead of performing it. The server falls back to it
// for kinds without a configured backend.
type DryRunAdapter struct {
	Name string
}

// Invoke records the call and echoes the payload keys
func (a *DryRunAdapter) Invoke(ctx context.Context, payload models.Payload, deadline time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	logger.InfoWithFields("dry-run adapter invoked", map[string]interface{}{
		"adapter":  a.Name,
		"fields":   keys,
		"deadline": deadline.Format(time.RFC3339),
	})
	return Result{Output: map[string]string{
		"dry_run": "true",
		"fields":  strings.Join(keys, ","),
	}}, nil
}
