// Package notify delivers workflow events to external escalation endpoints
package notify

import (
	"context"
	"fmt"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/events"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

// DefaultTimeout bounds one webhook delivery
const DefaultTimeout = 10 * time.Second

// Message is the JSON body posted to the webhook
type Message struct {
	Event     events.EventType `json:"event"`
	RequestID string           `json:"request_id,omitempty"`
	JobID     string           `json:"job_id,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Priority  string           `json:"priority,omitempty"`
	State     string           `json:"state,omitempty"`
	Deadline  *time.Time       `json:"sla_deadline,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	SentAt    time.Time        `json:"sent_at"`
}

// Webhook posts events to a single URL. Deliveries are not retried.
type Webhook struct {
	url     string
	timeout time.Duration
	now     func() time.Time
}

// NewWebhook creates a notifier for url. A non-positive timeout selects DefaultTimeout.
func NewWebhook(url string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{url: url, timeout: timeout, now: time.Now}, nil
}

// Subscribe registers the webhook on the bus for each event type
func (w *Webhook) Subscribe(bus *events.Bus, eventTypes ...events.EventType) {
	for _, t := range eventTypes {
		bus.Subscribe(t, w.Notify)
	}
}

// SubscribeFailures forwards finished jobs that did not complete
func (w *Webhook) SubscribeFailures(bus *events.Bus) {
	bus.Subscribe(events.EventJobFinished, w.NotifyFailure)
}

// NotifyFailure posts a job-finished event unless the job completed
func (w *Webhook) NotifyFailure(ctx context.Context, e events.Event) error {
	if e.State == models.JobStateCompleted {
		return nil
	}
	return w.Notify(ctx, e)
}

// Notify posts one event and reports any delivery failure
func (w *Webhook) Notify(ctx context.Context, e events.Event) error {
	msg := Message{
		Event:     e.Type,
		RequestID: e.RequestID,
		JobID:     e.JobID,
		Kind:      string(e.Kind),
		State:     string(e.State),
		Reason:    e.Reason,
		SentAt:    w.now().UTC(),
	}
	if e.Priority.Valid() {
		msg.Priority = e.Priority.String()
	}
	if !e.Deadline.IsZero() {
		d := e.Deadline.UTC()
		msg.Deadline = &d
	}

	timeout := w.timeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to notify %s for job %s: %w", e.Type, e.JobID, err)
	}

	agent := fiber.Post(w.url)
	agent.Timeout(timeout)
	agent.Set("Content-Type", "application/json")
	agent.Set("X-ServiceGrid-Event", string(e.Type))
	agent.JSON(msg)

	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("failed to notify %s for job %s: %w", e.Type, e.JobID, errs[0])
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("failed to notify %s for job %s: webhook answered %d: %s", e.Type, e.JobID, statusCode, body)
	}

	logger.InfoWithFields("📣 escalation delivered", map[string]interface{}{
		"event":  e.Type,
		"job_id": e.JobID,
		"status": statusCode,
	})
	return nil
}
