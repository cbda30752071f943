package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/events"
)

func breach() events.Event {
	return events.Event{
		Type:      events.EventSLABreached,
		JobID:     "job-1",
		RequestID: "req-1",
		Kind:      models.JobKindCredentialReset,
		Priority:  models.PriorityHigh,
		State:     models.JobStateRunning,
		Deadline:  time.Date(2024, 5, 6, 11, 0, 0, 0, time.UTC),
		Reason:    "overdue by 5m0s",
	}
}

func TestNotifyPostsMessage(t *testing.T) {
	received := make(chan Message, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, string(events.EventSLABreached), r.Header.Get("X-ServiceGrid-Event"))
		var msg Message
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, time.Second)
	require.NoError(t, err)
	require.NoError(t, hook.Notify(context.Background(), breach()))

	msg := <-received
	assert.Equal(t, events.EventSLABreached, msg.Event)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, "credential-reset", msg.Kind)
	assert.Equal(t, "high", msg.Priority)
	assert.Equal(t, "running", msg.State)
	require.NotNil(t, msg.Deadline)
	assert.True(t, msg.Deadline.Equal(breach().Deadline))
	assert.Equal(t, "overdue by 5m0s", msg.Reason)
}

func TestNotifyReportsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("pager down"))
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, time.Second)
	require.NoError(t, err)
	err = hook.Notify(context.Background(), breach())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "pager down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hook.Notify(ctx, breach()), context.Canceled)
}

func TestNewWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhook("", 0)
	assert.Error(t, err)

	hook, err := NewWebhook("http://example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, hook.timeout)
}

func TestSubscribeDeliversBusEvents(t *testing.T) {
	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := events.NewBus()
	hook.Subscribe(bus, events.EventSLABreached)
	bus.Start(ctx)

	require.True(t, bus.Publish(breach()))
	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestSubscribeFailuresSkipsCompletedJobs(t *testing.T) {
	received := make(chan Message, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err == nil {
			received <- msg
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook, err := NewWebhook(server.URL, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := events.NewBus()
	hook.SubscribeFailures(bus)
	bus.Start(ctx)

	finished := func(id string, state models.JobState, reason string) events.Event {
		return events.Event{
			Type:      events.EventJobFinished,
			JobID:     id,
			RequestID: "req-" + id,
			Kind:      models.JobKindSoftwareInstall,
			Priority:  models.PriorityNormal,
			State:     state,
			Reason:    reason,
		}
	}
	require.True(t, bus.Publish(finished("ok", models.JobStateCompleted, "")))
	require.True(t, bus.Publish(finished("bad", models.JobStateFailed, "adapter failure: host unreachable")))

	select {
	case msg := <-received:
		assert.Equal(t, events.EventJobFinished, msg.Event)
		assert.Equal(t, "bad", msg.JobID)
		assert.Equal(t, string(models.JobStateFailed), msg.State)
		assert.Equal(t, "adapter failure: host unreachable", msg.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("failed job was not forwarded")
	}
	select {
	case msg := <-received:
		t.Fatalf("unexpected delivery for %s", msg.JobID)
	case <-time.After(100 * time.Millisecond):
	}
}
