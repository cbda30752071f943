package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/app"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/repos"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/client"
)

// DefaultTestTimeout is the default timeout for test suites.
const DefaultTestTimeout = 30 * time.Second

// Suite encapsulates all components needed for end-to-end testing:
//   - File-based SQLite database shared across restarts
//   - Fully assembled server behind a real HTTP listener
//   - Real API client
//   - Fake external system behind every integration adapter
type Suite struct {
	t *testing.T

	// Server components
	Server *app.Server
	HTTP   *httptest.Server

	// Client components
	APIClient client.Client

	// Database components
	DB    *gorm.DB
	Store *repos.Store

	// External system
	Target *Target

	maxConcurrentJobs int
	maxExecution      time.Duration
	tmpDir            string

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Option configures a Suite before the server starts
type Option func(*Suite)

// WithTimeout sets the lifetime of the suite context
func WithTimeout(timeout time.Duration) Option {
	return func(s *Suite) {
		if s.cancelFunc != nil {
			s.cancelFunc()
		}
		s.ctx, s.cancelFunc = context.WithTimeout(context.Background(), timeout)
	}
}

// WithMaxConcurrentJobs sets the policy's concurrency limit
func WithMaxConcurrentJobs(n int) Option {
	return func(s *Suite) {
		s.maxConcurrentJobs = n
	}
}

// WithMaxExecution sets the policy's execution time limit
func WithMaxExecution(d time.Duration) Option {
	return func(s *Suite) {
		s.maxExecution = d
	}
}

// NewSuite creates a running suite. It must be cleaned up after use by calling Cleanup.
func NewSuite(t *testing.T, opts ...Option) *Suite {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)
	suite := &Suite{
		t:                 t,
		ctx:               ctx,
		cancelFunc:        cancel,
		maxConcurrentJobs: 4,
		maxExecution:      10 * time.Second,
	}
	for _, opt := range opts {
		opt(suite)
	}

	suite.Target = NewTarget()
	SetupTestDB(suite)
	SetupServer(suite)
	return suite
}

// Restart stops the server as a terminating process would and assembles a new one on
// the same database
func (s *Suite) Restart() {
	s.Require().NoError(stopServer(s), "Failed to stop server")
	SetupServer(s)
}

// Cleanup tears down the suite, releasing all resources.
// This should be deferred immediately after creating the suite.
func (s *Suite) Cleanup() {
	if s.Target != nil {
		s.Target.Release()
	}
	if err := stopServer(s); err != nil {
		s.t.Errorf("failed to stop server: %v", err)
	}
	if s.Target != nil {
		s.Target.Close()
	}
	if s.DB != nil {
		CleanupTestDB(s.DB, s.tmpDir)
		s.DB = nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// T returns the testing.T instance for this suite
func (s *Suite) T() *testing.T {
	return s.t
}

// Context returns the suite's context, which is canceled when the suite is cleaned up.
func (s *Suite) Context() context.Context {
	return s.ctx
}

// Require returns a require.Assertions instance for this suite.
func (s *Suite) Require() *require.Assertions {
	return require.New(s.t)
}

// Retry retries a function until it succeeds or the number of retries is reached.
func (s *Suite) Retry(fn func() error, retries int, interval time.Duration) (err error) {
	for i := 0; i < retries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		time.Sleep(interval)
	}
	return
}

// WaitForState polls the request status until it reaches want
func (s *Suite) WaitForState(requestID string, want workflow.StatusState) workflow.Status {
	var last workflow.Status
	err := s.Retry(func() error {
		st, err := s.APIClient.GetRequestStatus(s.ctx, requestID)
		if err != nil {
			return err
		}
		last = st
		if st.State != want {
			return fmt.Errorf("request %s is %s, want %s", requestID, st.State, want)
		}
		return nil
	}, 200, 25*time.Millisecond)
	s.Require().NoError(err)
	return last
}
