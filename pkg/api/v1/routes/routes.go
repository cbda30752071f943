// Package routes defines the API routes and URL structure
package routes

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/observability"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/handlers"
)

/*

To keep this file organized, routes should be organized in the following way:

1. Smallest scope first (i.e. request routes before job routes)
2. For similar scopes, put the endpoints in alphabetical order
3. Order routes in GET, POST, PUT, DELETE order.
	a. Within this ordering, param urls (ie /:id) should go last, otherwise fiber will interpret the route slug as that param.
	b. After param considerations, order alphabetically.
4. For clarity, naming should match the action (i.e. GetJob, CancelJob)

*/

// API base configuration
const (
	// DefaultPort is the default port for the API
	DefaultPort = "8080"
	// APIv1Prefix is the prefix for all API endpoints
	APIv1Prefix = "/api/v1"
)

// DefaultBaseURL is the default base URL for the API
var DefaultBaseURL = fmt.Sprintf("http://localhost:%s", DefaultPort)

// Route names for lookup
const (
	// Operational routes
	HealthCheck = "HealthCheck"
	Metrics     = "Metrics"

	// Request routes
	GetAwaitingRequests = "GetAwaitingRequests"
	GetRequestStatus    = "GetRequestStatus"
	SubmitRequest       = "SubmitRequest"
	DecideRequest       = "DecideRequest"

	// Job routes
	GetJobs   = "GetJobs"
	GetJob    = "GetJob"
	CancelJob = "CancelJob"
	GetQueue  = "GetQueue"

	// Audit routes
	GetAudit     = "GetAudit"
	ExportAudit  = "ExportAudit"
	VerifyAudit  = "VerifyAudit"
	ArchiveAudit = "ArchiveAudit"
)

// routeCache stores extracted routes for use prior to compilation
var (
	routeCache     map[string]string
	routeCacheMu   sync.RWMutex
	routeCacheInit sync.Once
)

// RegisterRoutes configures all the v1 routes
//
// NOTE: route ordering is important because routes will try and match in the order they are registered.
// For example, if we register GetJob before a static /jobs/... route, the static segment will get interpreted as a job ID.
func RegisterRoutes(
	app *fiber.App,
	requestHandler *handlers.RequestHandler,
	jobHandler *handlers.JobHandler,
	auditHandler *handlers.AuditHandler,
) {
	// API v1 routes
	v1 := app.Group(APIv1Prefix)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	}).Name(HealthCheck)

	// Prometheus exposition
	app.Get("/metrics", adaptor.HTTPHandler(observability.Handler())).Name(Metrics)

	// Service request endpoints
	requests := v1.Group("/requests")
	requests.Get("/awaiting", requestHandler.ListAwaitingRequests).Name(GetAwaitingRequests)
	requests.Get("/:id/status", requestHandler.GetRequestStatus).Name(GetRequestStatus)
	requests.Post("/", requestHandler.SubmitRequest).Name(SubmitRequest)
	requests.Post("/:id/decision", requestHandler.DecideRequest).Name(DecideRequest)

	// Queue endpoint
	v1.Get("/queue", jobHandler.GetQueue).Name(GetQueue)

	// Job endpoints
	jobs := v1.Group("/jobs")
	jobs.Get("/", jobHandler.ListJobs).Name(GetJobs)
	jobs.Get("/:id", jobHandler.GetJob).Name(GetJob)
	jobs.Delete("/:id", jobHandler.CancelJob).Name(CancelJob)

	// ---------------------------
	// Audit endpoints
	auditLog := v1.Group("/audit")
	auditLog.Get("/", auditHandler.QueryAudit).Name(GetAudit)
	auditLog.Get("/export", auditHandler.ExportAudit).Name(ExportAudit)
	auditLog.Get("/verify", auditHandler.VerifyAudit).Name(VerifyAudit)
	auditLog.Post("/archive", auditHandler.ArchiveAudit).Name(ArchiveAudit)
}

// initRouteCache initializes the route cache by creating a mock app and extracting routes
func initRouteCache() {
	routeCacheInit.Do(func() {
		routeCache = make(map[string]string)

		// Create a mock app
		app := fiber.New()

		// Register routes with empty handlers
		RegisterRoutes(app, &handlers.RequestHandler{}, &handlers.JobHandler{}, &handlers.AuditHandler{})

		// Extract routes from the app
		for _, route := range app.GetRoutes() {
			if route.Name != "" {
				routeCache[route.Name] = route.Path
			}
		}
	})
}

// GetRoute returns the route pattern for the given route name
func GetRoute(name string) string {
	initRouteCache()

	routeCacheMu.RLock()
	defer routeCacheMu.RUnlock()
	return routeCache[name]
}

// BuildURL builds a URL for the given route name and parameters
func BuildURL(routeName string, params map[string]string, queryParams url.Values) string {
	route := GetRoute(routeName)
	if route == "" {
		return ""
	}

	// Replace parameters in the route
	for param, value := range params {
		route = strings.ReplaceAll(route, ":"+param, url.PathEscape(value))
	}

	// Remove trailing slash if it's a base endpoint with no parameters
	if strings.HasSuffix(route, "/") && !strings.Contains(route, ":") {
		route = strings.TrimSuffix(route, "/")
	}

	// Add query parameters if any
	if len(queryParams) > 0 {
		route = fmt.Sprintf("%s?%s", route, queryParams.Encode())
	}

	return route
}

// Operational route helpers

// HealthCheckURL returns the URL for the health check endpoint
func HealthCheckURL() string {
	return BuildURL(HealthCheck, nil, nil)
}

// MetricsURL returns the URL of the Prometheus endpoint
func MetricsURL() string {
	return BuildURL(Metrics, nil, nil)
}

// Request route helpers

// GetAwaitingRequestsURL returns the URL for listing requests awaiting approval
func GetAwaitingRequestsURL(queryParams url.Values) string {
	return BuildURL(GetAwaitingRequests, nil, queryParams)
}

// GetRequestStatusURL returns the URL for getting a request's status
func GetRequestStatusURL(id string) string {
	return BuildURL(GetRequestStatus, map[string]string{"id": id}, nil)
}

// SubmitRequestURL returns the URL for submitting a service request
func SubmitRequestURL() string {
	return BuildURL(SubmitRequest, nil, nil)
}

// DecideRequestURL returns the URL for deciding a parked request
func DecideRequestURL(id string) string {
	return BuildURL(DecideRequest, map[string]string{"id": id}, nil)
}

// Job route helpers

// GetJobsURL returns the URL for listing jobs
func GetJobsURL(queryParams url.Values) string {
	return BuildURL(GetJobs, nil, queryParams)
}

// GetJobURL returns the URL for getting a job by ID
func GetJobURL(id string) string {
	return BuildURL(GetJob, map[string]string{"id": id}, nil)
}

// CancelJobURL returns the URL for cancelling a job
func CancelJobURL(id string) string {
	return BuildURL(CancelJob, map[string]string{"id": id}, nil)
}

// GetQueueURL returns the URL for the scheduler load
func GetQueueURL() string {
	return BuildURL(GetQueue, nil, nil)
}

// Audit route helpers

// GetAuditURL returns the URL for querying the audit ledger
func GetAuditURL(queryParams url.Values) string {
	return BuildURL(GetAudit, nil, queryParams)
}

// ExportAuditURL returns the URL for exporting the audit ledger
func ExportAuditURL(queryParams url.Values) string {
	return BuildURL(ExportAudit, nil, queryParams)
}

// VerifyAuditURL returns the URL for verifying the audit hash chain
func VerifyAuditURL() string {
	return BuildURL(VerifyAudit, nil, nil)
}

// ArchiveAuditURL returns the URL for archiving the audit ledger
func ArchiveAuditURL() string {
	return BuildURL(ArchiveAudit, nil, nil)
}
