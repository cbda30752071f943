// Package events provides an in-process publish/subscribe bus for automation events
package events

import (
	"context"
	"sync"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

// EventType represents the type of automation event
type EventType string

const (
	// EventJobFinished is emitted when a job reaches a terminal state
	EventJobFinished EventType = "job_finished"
	// EventSLABreached is emitted once when an open job passes its SLA deadline
	EventSLABreached EventType = "sla_breached"
	// EventApprovalRequired is emitted when a request is parked for a named approver
	EventApprovalRequired EventType = "approval_required"
	// EventChannelSize is the buffer size for the event channel
	EventChannelSize = 100
)

// Event carries the facts a subscriber needs without sharing engine state
type Event struct {
	Type      EventType       // The type of event
	JobID     string          // The job ID, if any
	RequestID string          // The originating service request
	Kind      models.JobKind  // The operation kind
	Priority  models.Priority // The job or request priority
	State     models.JobState // The job state at publish time
	Deadline  time.Time       // The SLA deadline, if any
	Reason    string          // Free-form detail
}

// Handler is a function that handles an event
type Handler func(context.Context, Event) error

// Bus dispatches published events to subscribed handlers on a background loop
type Bus struct {
	handlers   map[EventType][]Handler
	handlersMu sync.RWMutex
	eventChan  chan Event
}

// NewBus creates a bus with a buffered event channel
func NewBus() *Bus {
	return &Bus{
		handlers:  make(map[EventType][]Handler),
		eventChan: make(chan Event, EventChannelSize),
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	logger.Debugf("📝 Registered handler for event type: %s", eventType)
}

// Publish queues an event without blocking. It returns false when the buffer is full
// and the event was dropped.
func (b *Bus) Publish(event Event) bool {
	if b == nil {
		return false
	}
	select {
	case b.eventChan <- event:
		logger.Debugf("📢 Published event: %s (Job: %s)", event.Type, event.JobID)
		return true
	default:
		logger.Warnf("⚠️ Event buffer full, dropping %s for job %s", event.Type, event.JobID)
		return false
	}
}

// Start starts the event processing loop
func (b *Bus) Start(ctx context.Context) {
	go b.processEvents(ctx)
	logger.Info("🎯 Started event processing loop")
}

func (b *Bus) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Stopping event processing loop")
			return
		case event := <-b.eventChan:
			b.handlersMu.RLock()
			eventHandlers := b.handlers[event.Type]
			b.handlersMu.RUnlock()

			for _, handler := range eventHandlers {
				go func(h Handler, e Event) {
					if err := h(ctx, e); err != nil {
						logger.Errorf("❌ Failed to handle event %s: %v", e.Type, err)
						return
					}
					logger.Debugf("✅ Processed event %s for job %s", e.Type, e.JobID)
				}(handler, event)
			}
		}
	}
}
