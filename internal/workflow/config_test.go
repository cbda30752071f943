package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

func defaultSettings(t *testing.T) Settings {
	t.Helper()
	s, err := DefaultConfig().Build()
	require.NoError(t, err)
	return s
}

func TestDefaultSLATable(t *testing.T) {
	table := defaultSettings(t).SLA
	decidedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		kind     models.JobKind
		priority models.Priority
		want     time.Duration
	}{
		{models.JobKindAccountCreation, models.PriorityCritical, 8 * time.Hour},
		{models.JobKindAccountCreation, models.PriorityHigh, 8 * time.Hour},
		{models.JobKindGroupAccessGrant, models.PriorityLow, 24 * time.Hour},
		{models.JobKindCredentialReset, models.PriorityCritical, time.Hour},
		// no kind entry, per-priority fallback
		{models.JobKindSoftwareInstall, models.PriorityNormal, 24 * time.Hour},
		{models.JobKindFileShareAccess, models.PriorityCritical, 4 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.priority.String(), func(t *testing.T) {
			first, err := table.Deadline(tt.kind, tt.priority, decidedAt)
			require.NoError(t, err)
			assert.Equal(t, decidedAt.Add(tt.want), first)

			again, err := table.Deadline(tt.kind, tt.priority, decidedAt)
			require.NoError(t, err)
			assert.True(t, first.Equal(again))
		})
	}
}

func TestSLATableMissingTarget(t *testing.T) {
	settings, err := Parse([]byte(`
sla:
  default: {}
  kinds:
    account-creation:
      high: 8h
`))
	require.NoError(t, err)

	_, err = settings.SLA.Deadline(models.JobKindAccountCreation, models.PriorityHigh, time.Now())
	assert.NoError(t, err)

	_, err = settings.SLA.Deadline(models.JobKindAccountCreation, models.PriorityLow, time.Now())
	assert.True(t, errors.Is(err, ErrNoSLATarget))

	_, err = settings.SLA.Deadline(models.JobKindSoftwareInstall, models.PriorityHigh, time.Now())
	assert.True(t, errors.Is(err, ErrNoSLATarget))
}

func TestRulesAutoApproves(t *testing.T) {
	rules, err := NewRules([]models.JobKind{models.JobKindSoftwareInstall}, 500)
	require.NoError(t, err)

	assert.True(t, rules.AutoApproves(models.JobKindSoftwareInstall, 0))
	assert.True(t, rules.AutoApproves(models.JobKindSoftwareInstall, 499.99))
	assert.False(t, rules.AutoApproves(models.JobKindSoftwareInstall, 500), "threshold is exclusive")
	assert.False(t, rules.AutoApproves(models.JobKindCredentialReset, 0), "kind outside the low-risk set")

	_, err = NewRules(nil, -1)
	assert.Error(t, err)
	_, err = NewRules([]models.JobKind{"format-disk"}, 1)
	assert.Error(t, err)
}

func TestParseOverridesDefaults(t *testing.T) {
	settings, err := Parse([]byte(`
auto_approval:
  low_risk_kinds: [monitoring-registration]
  cost_threshold: 50
`))
	require.NoError(t, err)

	assert.Equal(t, []models.JobKind{models.JobKindMonitoringRegistration}, settings.Rules.LowRiskKinds())
	assert.Equal(t, float64(50), settings.Rules.CostThreshold())

	// the SLA section was left out and keeps its defaults
	d, err := settings.SLA.Target(models.JobKindAccountCreation, models.PriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, d)
}

func TestParseRejectsMalformedConfig(t *testing.T) {
	tests := map[string]string{
		"unknown low-risk kind": "auto_approval:\n  low_risk_kinds: [reboot-everything]\n",
		"negative threshold":    "auto_approval:\n  cost_threshold: -5\n",
		"unknown priority":      "sla:\n  default:\n    urgent: 1h\n",
		"bad duration":          "sla:\n  default:\n    high: soon\n",
		"zero duration":         "sla:\n  default:\n    high: 0s\n",
		"unknown sla kind":      "sla:\n  kinds:\n    teleport:\n      high: 1h\n",
		"invalid yaml":          "auto_approval: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	settings, err := LoadFile("")
	require.NoError(t, err)
	assert.Len(t, settings.Rules.LowRiskKinds(), 4)

	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auto_approval:\n  cost_threshold: 10\n"), 0o600))
	settings, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, float64(10), settings.Rules.CostThreshold())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
