package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

func TestEventBus(t *testing.T) {
	t.Run("Subscribe and Publish", func(t *testing.T) {
		bus := NewBus()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		bus.Start(ctx)

		received := make(chan Event, 1)
		bus.Subscribe(EventSLABreached, func(_ context.Context, e Event) error {
			received <- e
			return nil
		})

		deadline := time.Now()
		ok := bus.Publish(Event{
			Type:      EventSLABreached,
			JobID:     "job-1",
			RequestID: "REQ-1",
			Kind:      models.JobKindAccountCreation,
			Priority:  models.PriorityCritical,
			Deadline:  deadline,
		})
		assert.True(t, ok)

		select {
		case e := <-received:
			assert.Equal(t, "job-1", e.JobID)
			assert.Equal(t, models.PriorityCritical, e.Priority)
			assert.Equal(t, deadline, e.Deadline)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event handler")
		}
	})

	t.Run("Multiple handlers and handler errors", func(t *testing.T) {
		bus := NewBus()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		bus.Start(ctx)

		var wg sync.WaitGroup
		wg.Add(2)
		bus.Subscribe(EventJobFinished, func(context.Context, Event) error {
			wg.Done()
			return errors.New("notifier down")
		})
		bus.Subscribe(EventJobFinished, func(context.Context, Event) error {
			wg.Done()
			return nil
		})
		bus.Publish(Event{Type: EventJobFinished, JobID: "job-2"})

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for both handlers")
		}
	})

	t.Run("Publish never blocks when the buffer is full", func(t *testing.T) {
		bus := NewBus()
		for i := 0; i < EventChannelSize; i++ {
			assert.True(t, bus.Publish(Event{Type: EventJobFinished}))
		}
		assert.False(t, bus.Publish(Event{Type: EventJobFinished}))
	})

	t.Run("Nil bus drops events", func(t *testing.T) {
		var bus *Bus
		assert.False(t, bus.Publish(Event{Type: EventJobFinished}))
	})
}
