package handlers

import (
	"context"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
)

// Workflow is the part of the workflow engine the handlers serve
type Workflow interface {
	Submit(ctx context.Context, req workflow.Request) (*models.ApprovalRecord, error)
	Decide(ctx context.Context, requestID string, d workflow.ApproverDecision) (*models.ApprovalRecord, error)
	RequestStatus(ctx context.Context, requestID string) (workflow.Status, error)
	Awaiting(ctx context.Context, limit int) ([]models.ServiceRequest, error)
	Job(ctx context.Context, id string) (models.Job, error)
	History(ctx context.Context, opts *models.ListOptions) ([]models.Job, error)
}

// JobControl is the part of the job scheduler the handlers drive
type JobControl interface {
	Cancel(ctx context.Context, id string) (models.Job, error)
	QueueDepth() int
	Running() int
	MaxConcurrentJobs() int
}

// Archiver uploads ledger exports to object storage
type Archiver interface {
	Archive(ctx context.Context, ledger *audit.Ledger, filter models.AuditFilter) (audit.ArchiveResult, error)
}

var (
	_ Workflow = (*workflow.Engine)(nil)
	_ Archiver = (*audit.Archiver)(nil)
)
