package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/app"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/config"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/pkg/api/v1/client"
)

const (
	// testClientTimeout is the timeout for test API client requests
	testClientTimeout = 5 * time.Second
	// testShutdownTimeout bounds stopping the server between restarts
	testShutdownTimeout = 10 * time.Second
)

// writeConfigFiles binds every kind to an HTTP adapter posting to the target and writes
// a policy allowing every kind
func writeConfigFiles(suite *Suite) (policyFile, adaptersFile string) {
	var kinds, adapters strings.Builder
	for _, k := range models.AllJobKinds() {
		fmt.Fprintf(&kinds, "  - %s\n", k)
		fmt.Fprintf(&adapters, "  %s:\n    type: http\n    url: %s\n", k, suite.Target.URL())
	}

	policyFile = filepath.Join(suite.tmpDir, "policy.yaml")
	policy := fmt.Sprintf("allowed_operation_kinds:\n%smax_concurrent_jobs: %d\nmax_execution_seconds: %d\n",
		kinds.String(), suite.maxConcurrentJobs, int(suite.maxExecution/time.Second))
	suite.Require().NoError(os.WriteFile(policyFile, []byte(policy), 0o600))

	adaptersFile = filepath.Join(suite.tmpDir, "adapters.yaml")
	suite.Require().NoError(os.WriteFile(adaptersFile, []byte("adapters:\n"+adapters.String()), 0o600))
	return policyFile, adaptersFile
}

// SetupServer assembles the engine on the suite database and serves it over HTTP
func SetupServer(suite *Suite) {
	policyFile, adaptersFile := writeConfigFiles(suite)
	settings := &config.Settings{
		Port:               "0",
		PolicyFile:         policyFile,
		AdaptersFile:       adaptersFile,
		RetentionWindow:    time.Hour,
		SweepInterval:      time.Minute,
		SLAMonitorInterval: time.Minute,
		ShutdownTimeout:    testShutdownTimeout,
	}

	srv, err := app.Assemble(suite.ctx, settings, suite.DB)
	suite.Require().NoError(err, "Failed to assemble server")
	suite.Require().NoError(srv.Start(suite.ctx), "Failed to start server")
	suite.Server = srv

	// Create test server using adaptor to convert Fiber app to http.Handler
	suite.HTTP = httptest.NewServer(adaptor.FiberApp(srv.App))

	apiClient, err := client.NewClient(&client.Options{
		BaseURL: suite.HTTP.URL,
		Timeout: testClientTimeout,
	})
	suite.Require().NoError(err, "Failed to create API client")
	suite.APIClient = apiClient
}

// stopServer shuts the server down the way a terminating process would
func stopServer(suite *Suite) error {
	if suite.HTTP != nil {
		suite.HTTP.Close()
		suite.HTTP = nil
	}
	if suite.Server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), testShutdownTimeout)
	defer cancel()
	err := suite.Server.Shutdown(ctx)
	suite.Server = nil
	return err
}
