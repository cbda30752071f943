package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

func TestHTTPAdapterSuccess(t *testing.T) {
	var received httpRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/channels", r.URL.Path)
		assert.Equal(t, "ops", r.Header.Get("X-Team"))
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":{"channel_id":"C042"}}`))
	}))
	defer server.Close()

	a := &HTTPAdapter{Name: "channel-provision", URL: server.URL + "/channels", Headers: map[string]string{"X-Team": "ops"}}
	ctx := WithCredential(context.Background(), Credential{ID: "c1", Secret: "token"})

	res, err := a.Invoke(ctx, models.Payload{"name": "finance-team"}, soon())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"channel_id": "C042"}, res.Output)
	assert.Equal(t, http.StatusOK, res.ExitCode)
	assert.Equal(t, "channel-provision", received.Adapter)
	assert.Equal(t, models.Payload{"name": "finance-team"}, received.Payload)
	assert.Equal(t, "Bearer token", auth)
}

func TestHTTPAdapterStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   ErrorKind
	}{
		{"rejected", http.StatusConflict, ErrorRejected},
		{"bad request", http.StatusBadRequest, ErrorRejected},
		{"server error", http.StatusInternalServerError, ErrorUnreachable},
		{"unavailable", http.StatusServiceUnavailable, ErrorUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			a := &HTTPAdapter{Name: "file-share-access", URL: server.URL}
			_, err := a.Invoke(context.Background(), models.Payload{}, soon())

			var adapterErr *Error
			require.True(t, errors.As(err, &adapterErr))
			assert.Equal(t, tt.kind, adapterErr.Kind)
			assert.Contains(t, adapterErr.Detail, "nope")
		})
	}
}

func TestHTTPAdapterUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	a := &HTTPAdapter{Name: "monitoring-registration", URL: url}
	_, err := a.Invoke(context.Background(), models.Payload{}, soon())

	var adapterErr *Error
	require.True(t, errors.As(err, &adapterErr))
	assert.Equal(t, ErrorUnreachable, adapterErr.Kind)
}

func TestHTTPAdapterDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-release:
		case <-time.After(3 * time.Second):
		}
	}))
	defer server.Close()
	defer close(release)

	a := &HTTPAdapter{Name: "software-install", URL: server.URL}

	_, err := a.Invoke(context.Background(), models.Payload{}, time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	start := time.Now()
	_, err = a.Invoke(context.Background(), models.Payload{}, time.Now().Add(200*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPAdapterUnsupportedMethod(t *testing.T) {
	a := &HTTPAdapter{Name: "x", URL: "http://localhost", Method: "GET"}
	_, err := a.Invoke(context.Background(), nil, soon())
	var adapterErr *Error
	assert.True(t, errors.As(err, &adapterErr))
}
