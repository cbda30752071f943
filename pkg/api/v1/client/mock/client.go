// Package mock provides a function-field implementation of the API client for tests
package mock

import (
	"context"
	"fmt"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/client"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/types"
)

// MockClient implements the Client interface for testing
type MockClient struct {
	// Function fields that can be set to mock behavior
	HealthCheckFn         func(ctx context.Context) (map[string]string, error)
	SubmitRequestFn       func(ctx context.Context, req workflow.Request) (types.SubmitResponse, error)
	DecideRequestFn       func(ctx context.Context, requestID string, decision workflow.ApproverDecision) (types.SubmitResponse, error)
	GetRequestStatusFn    func(ctx context.Context, requestID string) (workflow.Status, error)
	GetAwaitingRequestsFn func(ctx context.Context, limit int) ([]models.ServiceRequest, error)
	GetJobsFn             func(ctx context.Context, opts *models.ListOptions) ([]models.Job, error)
	GetJobFn              func(ctx context.Context, id string) (models.Job, error)
	CancelJobFn           func(ctx context.Context, id string) (models.Job, error)
	GetQueueFn            func(ctx context.Context) (types.QueueResponse, error)
	GetAuditFn            func(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
	ExportAuditFn         func(ctx context.Context, format audit.Format, filter models.AuditFilter) ([]byte, error)
	VerifyAuditFn         func(ctx context.Context) (types.VerifyResponse, error)
	ArchiveAuditFn        func(ctx context.Context, filter models.AuditFilter) (audit.ArchiveResult, error)

	// Calls records the name of every invoked method in order
	Calls []string
}

var _ client.Client = (*MockClient)(nil)

func notConfigured(method string) error {
	return fmt.Errorf("mock: %s not configured", method)
}

// HealthCheck implements client.Client
func (m *MockClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	m.Calls = append(m.Calls, "HealthCheck")
	if m.HealthCheckFn != nil {
		return m.HealthCheckFn(ctx)
	}
	return nil, notConfigured("HealthCheck")
}

// SubmitRequest implements client.Client
func (m *MockClient) SubmitRequest(ctx context.Context, req workflow.Request) (types.SubmitResponse, error) {
	m.Calls = append(m.Calls, "SubmitRequest")
	if m.SubmitRequestFn != nil {
		return m.SubmitRequestFn(ctx, req)
	}
	return types.SubmitResponse{}, notConfigured("SubmitRequest")
}

// DecideRequest implements client.Client
func (m *MockClient) DecideRequest(ctx context.Context, requestID string, decision workflow.ApproverDecision) (types.SubmitResponse, error) {
	m.Calls = append(m.Calls, "DecideRequest")
	if m.DecideRequestFn != nil {
		return m.DecideRequestFn(ctx, requestID, decision)
	}
	return types.SubmitResponse{}, notConfigured("DecideRequest")
}

// GetRequestStatus implements client.Client
func (m *MockClient) GetRequestStatus(ctx context.Context, requestID string) (workflow.Status, error) {
	m.Calls = append(m.Calls, "GetRequestStatus")
	if m.GetRequestStatusFn != nil {
		return m.GetRequestStatusFn(ctx, requestID)
	}
	return workflow.Status{}, notConfigured("GetRequestStatus")
}

// GetAwaitingRequests implements client.Client
func (m *MockClient) GetAwaitingRequests(ctx context.Context, limit int) ([]models.ServiceRequest, error) {
	m.Calls = append(m.Calls, "GetAwaitingRequests")
	if m.GetAwaitingRequestsFn != nil {
		return m.GetAwaitingRequestsFn(ctx, limit)
	}
	return nil, notConfigured("GetAwaitingRequests")
}

// GetJobs implements client.Client
func (m *MockClient) GetJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	m.Calls = append(m.Calls, "GetJobs")
	if m.GetJobsFn != nil {
		return m.GetJobsFn(ctx, opts)
	}
	return nil, notConfigured("GetJobs")
}

// GetJob implements client.Client
func (m *MockClient) GetJob(ctx context.Context, id string) (models.Job, error) {
	m.Calls = append(m.Calls, "GetJob")
	if m.GetJobFn != nil {
		return m.GetJobFn(ctx, id)
	}
	return models.Job{}, notConfigured("GetJob")
}

// CancelJob implements client.Client
func (m *MockClient) CancelJob(ctx context.Context, id string) (models.Job, error) {
	m.Calls = append(m.Calls, "CancelJob")
	if m.CancelJobFn != nil {
		return m.CancelJobFn(ctx, id)
	}
	return models.Job{}, notConfigured("CancelJob")
}

// GetQueue implements client.Client
func (m *MockClient) GetQueue(ctx context.Context) (types.QueueResponse, error) {
	m.Calls = append(m.Calls, "GetQueue")
	if m.GetQueueFn != nil {
		return m.GetQueueFn(ctx)
	}
	return types.QueueResponse{}, notConfigured("GetQueue")
}

// GetAudit implements client.Client
func (m *MockClient) GetAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	m.Calls = append(m.Calls, "GetAudit")
	if m.GetAuditFn != nil {
		return m.GetAuditFn(ctx, filter)
	}
	return nil, notConfigured("GetAudit")
}

// ExportAudit implements client.Client
func (m *MockClient) ExportAudit(ctx context.Context, format audit.Format, filter models.AuditFilter) ([]byte, error) {
	m.Calls = append(m.Calls, "ExportAudit")
	if m.ExportAuditFn != nil {
		return m.ExportAuditFn(ctx, format, filter)
	}
	return nil, notConfigured("ExportAudit")
}

// VerifyAudit implements client.Client
func (m *MockClient) VerifyAudit(ctx context.Context) (types.VerifyResponse, error) {
	m.Calls = append(m.Calls, "VerifyAudit")
	if m.VerifyAuditFn != nil {
		return m.VerifyAuditFn(ctx)
	}
	return types.VerifyResponse{}, notConfigured("VerifyAudit")
}

// ArchiveAudit implements client.Client
func (m *MockClient) ArchiveAudit(ctx context.Context, filter models.AuditFilter) (audit.ArchiveResult, error) {
	m.Calls = append(m.Calls, "ArchiveAudit")
	if m.ArchiveAuditFn != nil {
		return m.ArchiveAuditFn(ctx, filter)
	}
	return audit.ArchiveResult{}, notConfigured("ArchiveAudit")
}
