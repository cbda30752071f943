package adapters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register(models.JobKindCredentialReset, AdapterFunc(
		func(context.Context, models.Payload, time.Time) (Result, error) {
			called = true
			return Result{}, nil
		})))

	a, err := r.Lookup(models.JobKindCredentialReset)
	require.NoError(t, err)
	_, err = a.Invoke(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.True(t, called)

	_, err = r.Lookup(models.JobKindSoftwareInstall)
	assert.True(t, errors.Is(err, ErrNoAdapter))

	var nilRegistry *Registry
	_, err = nilRegistry.Lookup(models.JobKindSoftwareInstall)
	assert.True(t, errors.Is(err, ErrNoAdapter))

	assert.Error(t, r.Register(models.JobKind("reboot"), &DryRunAdapter{}))
	assert.Error(t, r.Register(models.JobKindSoftwareInstall, nil))
}

func TestParseRegistry(t *testing.T) {
	r, err := ParseRegistry([]byte(`
adapters:
  account-creation:
    type: script
    interpreter: /usr/bin/pwsh
    script: /opt/scripts/New-Account.ps1
    args: ["-NonInteractive"]
    limit_virtual_memory: true
  channel-provision:
    type: http
    url: https://chat.example.com/hooks/provision
    headers:
      X-Api-Key: secret
  software-install:
    type: dry-run
`))
	require.NoError(t, err)
	assert.Equal(t, []models.JobKind{
		models.JobKindAccountCreation,
		models.JobKindChannelProvision,
		models.JobKindSoftwareInstall,
	}, r.Kinds())

	a, err := r.Lookup(models.JobKindAccountCreation)
	require.NoError(t, err)
	script, ok := a.(*ScriptAdapter)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/pwsh", script.Interpreter)
	assert.True(t, script.LimitVirtualMemory)

	a, err = r.Lookup(models.JobKindChannelProvision)
	require.NoError(t, err)
	assert.IsType(t, &HTTPAdapter{}, a)
}

func TestParseRegistryErrors(t *testing.T) {
	cases := map[string]string{
		"unknown kind":   "adapters: {reboot-server: {type: dry-run}}",
		"unknown type":   "adapters: {software-install: {type: ftp}}",
		"missing script": "adapters: {software-install: {type: script}}",
		"missing url":    "adapters: {software-install: {type: http}}",
		"not yaml":       "adapters: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadRegistry(t *testing.T) {
	r, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Len(t, r.Kinds(), len(models.AllJobKinds()))

	path := filepath.Join(t.TempDir(), "adapters.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapters: {credential-reset: {type: dry-run}}\n"), 0o600))
	r, err = LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []models.JobKind{models.JobKindCredentialReset}, r.Kinds())
}

func TestDryRunAdapter(t *testing.T) {
	a := &DryRunAdapter{Name: "group-access-grant"}
	res, err := a.Invoke(context.Background(), models.Payload{"user": "alice", "group": "ops"}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "true", res.Output["dry_run"])
	assert.Equal(t, "group,user", res.Output["fields"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Invoke(ctx, nil, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Adapter: "account-creation", Kind: ErrorRejected, Detail: "exit status 3", Err: errors.New("boom")}
	assert.Equal(t, "adapter account-creation rejected: exit status 3: boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}
