package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// Transport errors this close to the deadline are reported as a timeout
const timeoutSlack = 50 * time.Millisecond

// HTTPAdapter posts the payload to an external automation endpoint
type HTTPAdapter struct {
	Name    string
	URL     string
	Method  string
	Headers map[string]string
}

type httpRequest struct {
	Adapter  string         `json:"adapter"`
	Payload  models.Payload `json:"payload"`
	Deadline time.Time      `json:"deadline"`
}

type httpResponse struct {
	Output  map[string]string `json:"output"`
	Message string            `json:"message"`
}

// Invoke sends one request bounded by deadline. 4xx answers are rejections, everything
// else that is not 2xx counts as the system being unreachable.
func (a *HTTPAdapter) Invoke(ctx context.Context, payload models.Payload, deadline time.Time) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return Result{}, context.DeadlineExceeded
	}

	agent, err := a.createAgent()
	if err != nil {
		return Result{}, &Error{Adapter: a.Name, Kind: ErrorUnreachable, Err: err}
	}
	agent.Timeout(remaining)
	agent.Set("Content-Type", "application/json")
	agent.Set("Accept", "application/json")
	agent.Set("X-ServiceGrid-Deadline", deadline.UTC().Format(time.RFC3339))
	for k, v := range a.Headers {
		agent.Set(k, v)
	}
	if c, ok := CredentialFromContext(ctx); ok {
		agent.Set("Authorization", "Bearer "+c.Secret)
	}
	agent.JSON(httpRequest{Adapter: a.Name, Payload: payload, Deadline: deadline.UTC()})

	statusCode, body, errs := agent.Bytes()
	if len(errs) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if time.Until(deadline) < timeoutSlack {
			return Result{}, context.DeadlineExceeded
		}
		return Result{}, &Error{Adapter: a.Name, Kind: ErrorUnreachable, Err: errs[0]}
	}

	res := Result{Stdout: string(body), ExitCode: statusCode}
	var decoded httpResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &decoded)
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		res.Output = decoded.Output
		return res, nil
	case statusCode >= 400 && statusCode < 500:
		return res, &Error{Adapter: a.Name, Kind: ErrorRejected, Detail: statusDetail(statusCode, decoded.Message)}
	default:
		return res, &Error{Adapter: a.Name, Kind: ErrorUnreachable, Detail: statusDetail(statusCode, decoded.Message)}
	}
}

func (a *HTTPAdapter) createAgent() (*fiber.Agent, error) {
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodPost:
		return fiber.Post(a.URL), nil
	case http.MethodPut:
		return fiber.Put(a.URL), nil
	case http.MethodPatch:
		return fiber.Patch(a.URL), nil
	}
	return nil, fmt.Errorf("unsupported HTTP method: %s", method)
}

func statusDetail(code int, message string) string {
	if message == "" {
		return fmt.Sprintf("status %d", code)
	}
	return fmt.Sprintf("status %d: %s", code, message)
}
