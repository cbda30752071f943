package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// Payload field read by the Target to decide its answer
const OutcomeField = "outcome"

// Outcomes understood by the Target. Any other value succeeds.
const (
	// OutcomeReject answers 422 so the adapter reports a rejection
	OutcomeReject = "reject"
	// OutcomeUnavailable answers 503 so the adapter reports the system unreachable
	OutcomeUnavailable = "unavailable"
	// OutcomeHold blocks until Release or Close
	OutcomeHold = "hold"
)

// TargetCall is one request received by the Target
type TargetCall struct {
	Adapter string         `json:"adapter"`
	Payload models.Payload `json:"payload"`
}

// Target is a fake external system behind the HTTP integration adapters
type Target struct {
	server *httptest.Server

	mu      sync.Mutex
	calls   []TargetCall
	release chan struct{}
	once    sync.Once
}

// NewTarget starts the fake system
func NewTarget() *Target {
	t := &Target{release: make(chan struct{})}
	t.server = httptest.NewServer(http.HandlerFunc(t.handle))
	return t
}

// URL is the endpoint the adapters post to
func (t *Target) URL() string {
	return t.server.URL
}

// Calls returns a copy of every request received so far
func (t *Target) Calls() []TargetCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TargetCall(nil), t.calls...)
}

// Release unblocks every held request, now and later
func (t *Target) Release() {
	t.once.Do(func() { close(t.release) })
}

// Close releases held requests and stops the server
func (t *Target) Close() {
	t.Release()
	t.server.Close()
}

func (t *Target) handle(w http.ResponseWriter, r *http.Request) {
	var call TargetCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t.mu.Lock()
	t.calls = append(t.calls, call)
	n := len(t.calls)
	t.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch call.Payload[OutcomeField] {
	case OutcomeReject:
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "rejected by target"})
		return
	case OutcomeUnavailable:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	case OutcomeHold:
		select {
		case <-t.release:
		case <-r.Context().Done():
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"output": map[string]string{"ticket": fmt.Sprintf("T-%d", n)},
	})
}
