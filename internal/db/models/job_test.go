package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority(t *testing.T) {
	tests := []struct {
		name        string
		priority    Priority
		stringValue string
		jsonValue   string
	}{
		{name: "Low priority", priority: PriorityLow, stringValue: "low", jsonValue: `"low"`},
		{name: "Normal priority", priority: PriorityNormal, stringValue: "normal", jsonValue: `"normal"`},
		{name: "High priority", priority: PriorityHigh, stringValue: "high", jsonValue: `"high"`},
		{name: "Critical priority", priority: PriorityCritical, stringValue: "critical", jsonValue: `"critical"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.stringValue, tt.priority.String())
			assert.True(t, tt.priority.Valid())

			parsed, err := ParsePriority(tt.stringValue)
			require.NoError(t, err)
			assert.Equal(t, tt.priority, parsed)

			data, err := json.Marshal(tt.priority)
			require.NoError(t, err)
			assert.Equal(t, tt.jsonValue, string(data))

			var decoded Priority
			require.NoError(t, json.Unmarshal([]byte(tt.jsonValue), &decoded))
			assert.Equal(t, tt.priority, decoded)
		})
	}

	t.Run("ordering", func(t *testing.T) {
		assert.Less(t, PriorityLow, PriorityNormal)
		assert.Less(t, PriorityNormal, PriorityHigh)
		assert.Less(t, PriorityHigh, PriorityCritical)
	})

	t.Run("unknown is invalid", func(t *testing.T) {
		assert.False(t, PriorityUnknown.Valid())
		_, err := ParsePriority("unknown")
		assert.Error(t, err)
		_, err = ParsePriority("urgent")
		assert.Error(t, err)
		assert.Equal(t, "unknown", Priority(42).String())
	})
}

func TestJobState(t *testing.T) {
	terminal := map[JobState]bool{
		JobStateQueued:    false,
		JobStateRunning:   false,
		JobStateCompleted: true,
		JobStateFailed:    true,
		JobStateTimedOut:  true,
		JobStateCancelled: true,
	}
	for state, want := range terminal {
		assert.Equal(t, want, state.IsTerminal(), "state %s", state)
		parsed, err := ParseJobState(state.String())
		assert.NoError(t, err)
		assert.Equal(t, state, parsed)
	}

	_, err := ParseJobState("paused")
	assert.Error(t, err)

	t.Run("transitions", func(t *testing.T) {
		assert.True(t, JobStateQueued.CanTransition(JobStateRunning))
		assert.True(t, JobStateQueued.CanTransition(JobStateCancelled))
		assert.False(t, JobStateQueued.CanTransition(JobStateCompleted))
		assert.True(t, JobStateRunning.CanTransition(JobStateTimedOut))
		assert.False(t, JobStateRunning.CanTransition(JobStateQueued))
		for _, s := range []JobState{JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateCancelled} {
			for _, next := range jobStates {
				assert.False(t, s.CanTransition(next), "%s -> %s", s, next)
			}
		}
	})
}

func TestJobKind(t *testing.T) {
	assert.Len(t, AllJobKinds(), 7)
	for _, k := range AllJobKinds() {
		assert.True(t, k.Valid())
	}
	assert.False(t, JobKind("format-disk").Valid())

	var k JobKind
	assert.Error(t, json.Unmarshal([]byte(`"format-disk"`), &k))
	require.NoError(t, json.Unmarshal([]byte(`"credential-reset"`), &k))
	assert.Equal(t, JobKindCredentialReset, k)
}

func TestJobValidate(t *testing.T) {
	now := time.Now()
	valid := Job{
		ID:       "b7d4c1f0-0000-4000-8000-000000000001",
		Kind:     JobKindAccountCreation,
		Priority: PriorityNormal,
		State:    JobStateQueued,
	}
	assert.NoError(t, valid.Validate())

	finishedButQueued := valid
	finishedButQueued.FinishedAt = &now
	assert.Error(t, finishedButQueued.Validate())

	noPriority := valid
	noPriority.Priority = PriorityUnknown
	assert.Error(t, noPriority.Validate())

	noID := valid
	noID.ID = ""
	assert.Error(t, noID.Validate())
}

func TestJobClone(t *testing.T) {
	started := time.Now()
	job := Job{
		ID:        "job-1",
		Payload:   Payload{"user": "alice"},
		StartedAt: &started,
		Result:    &JobResult{Success: true, Output: map[string]string{"upn": "alice@example.com"}},
	}

	clone := job.Clone()
	clone.Payload["user"] = "mallory"
	clone.Result.Output["upn"] = "mallory@example.com"
	*clone.StartedAt = started.Add(time.Hour)

	assert.Equal(t, "alice", job.Payload["user"])
	assert.Equal(t, "alice@example.com", job.Result.Output["upn"])
	assert.Equal(t, started, *job.StartedAt)
}

func TestApprovalRecordValidate(t *testing.T) {
	auto := ApprovalRecord{RequestID: "req-1", Decision: ApprovalAutoApproved, RuleApplied: "low-risk"}
	assert.NoError(t, auto.Validate())
	assert.True(t, auto.Decision.Approved())

	manual := ApprovalRecord{RequestID: "req-1", Decision: ApprovalManuallyApproved}
	assert.Error(t, manual.Validate(), "manual approvals need an approver")

	rejected := ApprovalRecord{RequestID: "req-1", Decision: ApprovalRejected, ApproverID: "bob", JobID: "job-1"}
	assert.Error(t, rejected.Validate(), "rejections never reference a job")
	assert.False(t, ApprovalRejected.Approved())
}
