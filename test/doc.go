// Package test provides end-to-end testing infrastructure for the automation engine.
//
// A Suite runs the fully assembled server (scheduler, runner, workflow engine and
// audit ledger) on a file-based SQLite database, serves it through a real HTTP
// listener and talks to it with the real API client. Every integration adapter
// points at a Target, a fake external system whose answers the test controls
// through the request payload.
//
// Example Usage:
//
//	func TestExample(t *testing.T) {
//	    suite := test.NewSuite(t)
//	    defer suite.Cleanup()
//
//	    // Use suite.APIClient to submit requests
//	    // Use suite.Target to inspect calls made by the adapters
//	    // Use suite.Restart to simulate a process restart on the same database
//	}
package test
