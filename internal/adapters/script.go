package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

const (
	// DefaultInterpreter runs scripts when no interpreter is configured
	DefaultInterpreter = "/bin/sh"
	// DefaultOutputLimit caps captured output when the runner sets no memory ceiling
	DefaultOutputLimit = 16 << 20

	paramEnvPrefix = "SG_PARAM_"
	waitDelay      = time.Second
)

// ScriptAdapter runs an administrative script. The payload reaches the script as JSON on
// stdin and as SG_PARAM_* environment variables; it is never interpolated into arguments.
type ScriptAdapter struct {
	Name        string
	Interpreter string
	Script      string
	Args        []string
	Env         map[string]string
	WorkDir     string
	// LimitVirtualMemory applies the memory ceiling as `ulimit -v` before the script starts
	LimitVirtualMemory bool
}

// Invoke runs the script until it exits or deadline passes
func (a *ScriptAdapter) Invoke(ctx context.Context, payload models.Payload, deadline time.Time) (Result, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return Result{}, &Error{Adapter: a.Name, Kind: ErrorUnreachable, Detail: "encode payload", Err: err}
	}

	limit := MemoryLimitFromContext(ctx)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	budget := &outputBudget{remaining: outputLimit(limit), onExceed: cancel}
	stdout := &cappedBuffer{budget: budget}
	stderr := &cappedBuffer{budget: budget}

	name, args := a.command(limit)
	// #nosec G204 -- interpreter and script come from operator configuration; payload travels via stdin and env only
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = a.WorkDir
	cmd.Env = a.environment(ctx, payload, deadline, limit)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	runErr := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if budget.Exceeded() {
		return res, fmt.Errorf("%s: output exceeded %d bytes: %w", a.Name, outputLimit(limit), ErrMemoryLimit)
	}
	if limit > 0 {
		if rss, ok := peakRSS(cmd.ProcessState); ok && rss > limit {
			return res, fmt.Errorf("%s: peak resident memory %d exceeded %d bytes: %w", a.Name, rss, limit, ErrMemoryLimit)
		}
	}
	if err := runCtx.Err(); err != nil {
		return res, err
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return res, &Error{
				Adapter: a.Name,
				Kind:    ErrorRejected,
				Detail:  fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), lastLine(res.Stderr)),
			}
		}
		return res, &Error{Adapter: a.Name, Kind: ErrorUnreachable, Err: runErr}
	}

	res.Output = parseOutput(res.Stdout)
	return res, nil
}

func (a *ScriptAdapter) command(limit int64) (string, []string) {
	interpreter := a.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	args := append([]string{a.Script}, a.Args...)
	if !a.LimitVirtualMemory || limit <= 0 {
		return interpreter, args
	}
	wrapped := append([]string{
		"-c", `ulimit -v "$SG_VMEM_KB" 2>/dev/null; exec "$@"`, "servicegrid-adapter", interpreter,
	}, args...)
	return DefaultInterpreter, wrapped
}

// environment starts from a minimal base so the script never inherits engine secrets
func (a *ScriptAdapter) environment(ctx context.Context, payload models.Payload, deadline time.Time, limit int64) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"LANG=C",
		"LC_ALL=C",
		"SG_ADAPTER=" + a.Name,
		"SG_DEADLINE=" + deadline.UTC().Format(time.RFC3339),
	}
	if limit > 0 {
		env = append(env, "SG_VMEM_KB="+strconv.FormatInt(limit/1024, 10))
	}
	if c, ok := CredentialFromContext(ctx); ok {
		env = append(env, "SG_CREDENTIAL_ID="+c.ID, "SG_CREDENTIAL_SECRET="+c.Secret)
	}

	for _, k := range sortedKeys(a.Env) {
		env = append(env, k+"="+a.Env[k])
	}
	for _, k := range sortedKeys(payload) {
		env = append(env, paramEnvPrefix+envName(k)+"="+payload[k])
	}
	return env
}

func sortedKeys[M ~map[string]string](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// envName upper-cases k and replaces anything outside [A-Z0-9_] with an underscore
func envName(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// parseOutput reads the last non-empty stdout line as a JSON object of strings
func parseOutput(stdout string) map[string]string {
	line := lastLine(stdout)
	if !strings.HasPrefix(line, "{") {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		return nil
	}
	return out
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func outputLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultOutputLimit
	}
	return limit
}

// outputBudget is shared by stdout and stderr of one invocation
type outputBudget struct {
	mu        sync.Mutex
	remaining int64
	exceeded  bool
	onExceed  func()
}

func (b *outputBudget) take(n int) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int64(n) <= b.remaining {
		b.remaining -= int64(n)
		return n, true
	}
	allowed := int(b.remaining)
	b.remaining = 0
	if !b.exceeded {
		b.exceeded = true
		if b.onExceed != nil {
			b.onExceed()
		}
	}
	return allowed, false
}

// Exceeded reports whether the output overran the budget
func (b *outputBudget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

type cappedBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	budget *outputBudget
}

// Write keeps bytes up to the budget and discards the rest. The process is killed once
// the budget is exhausted.
func (c *cappedBuffer) Write(p []byte) (int, error) {
	n, _ := c.budget.take(len(p))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p[:n])
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
