// Package client provides the API client for interacting with the ServiceGrid API
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/routes"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/types"
)

// DefaultTimeout is the default timeout for API requests
const DefaultTimeout = 30 * time.Second

// Client is the interface for API client
type Client interface {
	// Health Check
	HealthCheck(ctx context.Context) (map[string]string, error)

	// Request Endpoints
	SubmitRequest(ctx context.Context, req workflow.Request) (types.SubmitResponse, error)
	DecideRequest(ctx context.Context, requestID string, decision workflow.ApproverDecision) (types.SubmitResponse, error)
	GetRequestStatus(ctx context.Context, requestID string) (workflow.Status, error)
	GetAwaitingRequests(ctx context.Context, limit int) ([]models.ServiceRequest, error)

	// Job Endpoints
	GetJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	CancelJob(ctx context.Context, id string) (models.Job, error)
	GetQueue(ctx context.Context) (types.QueueResponse, error)

	// Audit Endpoints
	GetAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
	ExportAudit(ctx context.Context, format audit.Format, filter models.AuditFilter) ([]byte, error)
	VerifyAudit(ctx context.Context) (types.VerifyResponse, error)
	ArchiveAudit(ctx context.Context, filter models.AuditFilter) (audit.ArchiveResult, error)
}

var _ Client = &APIClient{}

// Options contains configuration options for the API client
type Options struct {
	// BaseURL is the base URL of the API
	BaseURL string

	// Timeout is the request timeout
	Timeout time.Duration
}

// DefaultOptions returns the default client options
func DefaultOptions() *Options {
	return &Options{
		BaseURL: routes.DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// APIClient implements the Client interface
type APIClient struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates a new API client with the given options
func NewClient(opts *Options) (Client, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	// Validate the base URL
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &APIClient{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		timeout: timeout,
	}, nil
}

// envelope is the wire shape of types.SlugResponse with the data left undecoded
type envelope struct {
	Slug  types.Slug      `json:"slug"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// createAgent creates a new Fiber Agent for the given method and endpoint
func (c *APIClient) createAgent(ctx context.Context, method, endpoint string, body interface{}) (*fiber.Agent, error) {
	// Resolve the endpoint URL
	fullURL := c.baseURL + endpoint

	// Create a new agent based on the HTTP method
	var agent *fiber.Agent
	switch method {
	case http.MethodGet:
		agent = fiber.Get(fullURL)
	case http.MethodPost:
		agent = fiber.Post(fullURL)
	case http.MethodPut:
		agent = fiber.Put(fullURL)
	case http.MethodDelete:
		agent = fiber.Delete(fullURL)
	case http.MethodPatch:
		agent = fiber.Patch(fullURL)
	default:
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	// Set timeout from context or client default
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	} else {
		agent.Timeout(c.timeout)
	}

	// Set common headers
	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")

	// Add body if provided
	if body != nil {
		agent.JSON(body)
	}

	return agent, nil
}

// send executes the agent and returns the raw body of a 2xx response
func (c *APIClient) send(agent *fiber.Agent) ([]byte, error) {
	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("error sending request: %w", errs[0])
	}

	if statusCode < 200 || statusCode >= 300 {
		// Prefer the slug error message, falling back to the raw body
		msg := string(body)
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
			msg = env.Error
		}
		return nil, &fiber.Error{
			Code:    statusCode,
			Message: msg,
		}
	}
	return body, nil
}

// doRequest sends the HTTP request and decodes the data of the slug response into v
func (c *APIClient) doRequest(agent *fiber.Agent, v interface{}) error {
	body, err := c.send(agent)
	if err != nil {
		return err
	}
	if v == nil || len(body) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	// endpoints outside the slug convention, such as the health check
	if env.Slug == "" {
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("error decoding response: %w", err)
		}
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("error decoding response data: %w", err)
	}
	return nil
}

// executeRequest creates an agent, sends the request, and processes the response
func (c *APIClient) executeRequest(ctx context.Context, method, endpoint string, body, response interface{}) error {
	agent, err := c.createAgent(ctx, method, endpoint, body)
	if err != nil {
		return err
	}

	return c.doRequest(agent, response)
}

// listOptionsToQuery converts list options to URL query parameters
func listOptionsToQuery(opts *models.ListOptions) url.Values {
	q := url.Values{}
	if opts == nil {
		return q
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.State != nil {
		q.Set("state", string(*opts.State))
	}
	return q
}

// auditFilterToQuery converts an audit filter to URL query parameters
func auditFilterToQuery(filter models.AuditFilter) url.Values {
	q := url.Values{}
	if filter.SubjectID != "" {
		q.Set("subject", filter.SubjectID)
	}
	if filter.Actor != "" {
		q.Set("actor", filter.Actor)
	}
	if len(filter.EventTypes) > 0 {
		names := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			names[i] = string(et)
		}
		q.Set("event_type", strings.Join(names, ","))
	}
	if !filter.From.IsZero() {
		q.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		q.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	return q
}

// HealthCheck checks the health of the API
func (c *APIClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	var response map[string]string
	if err := c.executeRequest(ctx, http.MethodGet, routes.HealthCheckURL(), nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// SubmitRequest submits a service request. The returned approval is nil while the request
// awaits a named approver.
func (c *APIClient) SubmitRequest(ctx context.Context, req workflow.Request) (types.SubmitResponse, error) {
	var response types.SubmitResponse
	err := c.executeRequest(ctx, http.MethodPost, routes.SubmitRequestURL(), req, &response)
	return response, err
}

// DecideRequest records an approver decision on a parked request
func (c *APIClient) DecideRequest(ctx context.Context, requestID string, decision workflow.ApproverDecision) (types.SubmitResponse, error) {
	var response types.SubmitResponse
	err := c.executeRequest(ctx, http.MethodPost, routes.DecideRequestURL(requestID), decision, &response)
	return response, err
}

// GetRequestStatus retrieves the status of a service request
func (c *APIClient) GetRequestStatus(ctx context.Context, requestID string) (workflow.Status, error) {
	var response workflow.Status
	err := c.executeRequest(ctx, http.MethodGet, routes.GetRequestStatusURL(requestID), nil, &response)
	return response, err
}

// GetAwaitingRequests lists requests parked for a named approver
func (c *APIClient) GetAwaitingRequests(ctx context.Context, limit int) ([]models.ServiceRequest, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var response types.ListResponse[models.ServiceRequest]
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetAwaitingRequestsURL(q), nil, &response); err != nil {
		return nil, err
	}
	return response.Rows, nil
}

// GetJobs lists jobs, newest arrival first
func (c *APIClient) GetJobs(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	var response types.ListResponse[models.Job]
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetJobsURL(listOptionsToQuery(opts)), nil, &response); err != nil {
		return nil, err
	}
	return response.Rows, nil
}

// GetJob retrieves a job by ID
func (c *APIClient) GetJob(ctx context.Context, id string) (models.Job, error) {
	var response models.Job
	err := c.executeRequest(ctx, http.MethodGet, routes.GetJobURL(id), nil, &response)
	return response, err
}

// CancelJob cancels a job
func (c *APIClient) CancelJob(ctx context.Context, id string) (models.Job, error) {
	var response models.Job
	err := c.executeRequest(ctx, http.MethodDelete, routes.CancelJobURL(id), nil, &response)
	return response, err
}

// GetQueue reports the scheduler load
func (c *APIClient) GetQueue(ctx context.Context) (types.QueueResponse, error) {
	var response types.QueueResponse
	err := c.executeRequest(ctx, http.MethodGet, routes.GetQueueURL(), nil, &response)
	return response, err
}

// GetAudit queries the audit ledger
func (c *APIClient) GetAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	var response types.ListResponse[models.AuditEntry]
	if err := c.executeRequest(ctx, http.MethodGet, routes.GetAuditURL(auditFilterToQuery(filter)), nil, &response); err != nil {
		return nil, err
	}
	return response.Rows, nil
}

// ExportAudit downloads matching audit entries in the given format
func (c *APIClient) ExportAudit(ctx context.Context, format audit.Format, filter models.AuditFilter) ([]byte, error) {
	q := auditFilterToQuery(filter)
	q.Set("format", string(format))
	agent, err := c.createAgent(ctx, http.MethodGet, routes.ExportAuditURL(q), nil)
	if err != nil {
		return nil, err
	}
	agent.Set("Accept", format.ContentType())
	return c.send(agent)
}

// VerifyAudit asks the server to recompute the audit hash chain
func (c *APIClient) VerifyAudit(ctx context.Context) (types.VerifyResponse, error) {
	var response types.VerifyResponse
	err := c.executeRequest(ctx, http.MethodGet, routes.VerifyAuditURL(), nil, &response)
	return response, err
}

// ArchiveAudit uploads matching audit entries to object storage
func (c *APIClient) ArchiveAudit(ctx context.Context, filter models.AuditFilter) (audit.ArchiveResult, error) {
	var response audit.ArchiveResult
	err := c.executeRequest(ctx, http.MethodPost, routes.ArchiveAuditURL(), filter, &response)
	return response, err
}
