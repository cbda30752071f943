package workflow

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// RuleLowRiskAutoApprove is recorded on approvals granted by the low-risk rule
const RuleLowRiskAutoApprove = "low-risk-under-cost-threshold"

// DefaultAutoApproveCostThreshold is the cost below which low-risk requests skip the approver
const DefaultAutoApproveCostThreshold = 1000

// ErrNoSLATarget is returned when neither the kind table nor the fallback covers a priority
var ErrNoSLATarget = errors.New("no SLA target")

// Rules decides which requests are approved without a named approver
type Rules struct {
	lowRisk   map[models.JobKind]struct{}
	threshold float64
}

// NewRules builds the auto-approval rule set
func NewRules(lowRiskKinds []models.JobKind, costThreshold float64) (Rules, error) {
	if costThreshold < 0 {
		return Rules{}, fmt.Errorf("auto-approval cost threshold cannot be negative")
	}
	r := Rules{lowRisk: make(map[models.JobKind]struct{}, len(lowRiskKinds)), threshold: costThreshold}
	for _, k := range lowRiskKinds {
		if !k.Valid() {
			return Rules{}, fmt.Errorf("low_risk_kinds: invalid job kind %q", k)
		}
		r.lowRisk[k] = struct{}{}
	}
	return r, nil
}

// AutoApproves reports whether a request of kind with the given cost is approved by rule.
// Both conditions must hold.
func (r Rules) AutoApproves(kind models.JobKind, cost float64) bool {
	_, low := r.lowRisk[kind]
	return low && cost < r.threshold
}

// LowRiskKinds returns the low-risk kinds in declaration order
func (r Rules) LowRiskKinds() []models.JobKind {
	var out []models.JobKind
	for _, k := range models.AllJobKinds() {
		if _, ok := r.lowRisk[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// CostThreshold is the exclusive upper bound of auto-approvable cost
func (r Rules) CostThreshold() float64 {
	return r.threshold
}

// SLATable maps kind and priority to a target fulfilment duration. Lookups never mutate it.
type SLATable struct {
	byKind   map[models.JobKind]map[models.Priority]time.Duration
	fallback map[models.Priority]time.Duration
}

// Target returns the target duration. A kind entry wins over the per-priority fallback.
func (t SLATable) Target(kind models.JobKind, priority models.Priority) (time.Duration, error) {
	if d, ok := t.byKind[kind][priority]; ok {
		return d, nil
	}
	if d, ok := t.fallback[priority]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("%s/%s: %w", kind, priority, ErrNoSLATarget)
}

// Deadline is decidedAt plus the target of kind and priority
func (t SLATable) Deadline(kind models.JobKind, priority models.Priority, decidedAt time.Time) (time.Time, error) {
	d, err := t.Target(kind, priority)
	if err != nil {
		return time.Time{}, err
	}
	return decidedAt.Add(d), nil
}

// Config is the on-disk shape of the workflow file
type Config struct {
	AutoApproval struct {
		LowRiskKinds  []string `yaml:"low_risk_kinds"`
		CostThreshold *float64 `yaml:"cost_threshold"`
	} `yaml:"auto_approval"`
	SLA struct {
		Default map[string]string            `yaml:"default"`
		Kinds   map[string]map[string]string `yaml:"kinds"`
	} `yaml:"sla"`
}

// Settings is the parsed, validated workflow configuration
type Settings struct {
	Rules Rules
	SLA   SLATable
}

// DefaultConfig is used when no workflow file is configured
func DefaultConfig() Config {
	var cfg Config
	cfg.AutoApproval.LowRiskKinds = []string{
		string(models.JobKindAccountCreation),
		string(models.JobKindSoftwareInstall),
		string(models.JobKindChannelProvision),
		string(models.JobKindMonitoringRegistration),
	}
	threshold := float64(DefaultAutoApproveCostThreshold)
	cfg.AutoApproval.CostThreshold = &threshold
	cfg.SLA.Default = map[string]string{
		"critical": "4h",
		"high":     "8h",
		"normal":   "24h",
		"low":      "72h",
	}
	cfg.SLA.Kinds = map[string]map[string]string{
		string(models.JobKindAccountCreation): {
			"critical": "8h",
			"high":     "8h",
			"normal":   "24h",
			"low":      "48h",
		},
		string(models.JobKindGroupAccessGrant): {
			"critical": "4h",
			"high":     "8h",
			"normal":   "16h",
			"low":      "24h",
		},
		string(models.JobKindCredentialReset): {
			"critical": "1h",
			"high":     "2h",
			"normal":   "4h",
			"low":      "8h",
		},
	}
	return cfg
}

// Build validates cfg
func (cfg Config) Build() (Settings, error) {
	kinds := make([]models.JobKind, 0, len(cfg.AutoApproval.LowRiskKinds))
	for _, k := range cfg.AutoApproval.LowRiskKinds {
		kind, err := models.ParseJobKind(k)
		if err != nil {
			return Settings{}, fmt.Errorf("auto_approval.low_risk_kinds: %w", err)
		}
		kinds = append(kinds, kind)
	}
	threshold := float64(DefaultAutoApproveCostThreshold)
	if cfg.AutoApproval.CostThreshold != nil {
		threshold = *cfg.AutoApproval.CostThreshold
	}
	rules, err := NewRules(kinds, threshold)
	if err != nil {
		return Settings{}, err
	}

	table := SLATable{byKind: make(map[models.JobKind]map[models.Priority]time.Duration)}
	if table.fallback, err = parseTargets("sla.default", cfg.SLA.Default); err != nil {
		return Settings{}, err
	}
	for _, name := range sortedKeys(cfg.SLA.Kinds) {
		kind, err := models.ParseJobKind(name)
		if err != nil {
			return Settings{}, fmt.Errorf("sla.kinds: %w", err)
		}
		targets, err := parseTargets("sla.kinds."+name, cfg.SLA.Kinds[name])
		if err != nil {
			return Settings{}, err
		}
		table.byKind[kind] = targets
	}
	return Settings{Rules: rules, SLA: table}, nil
}

func parseTargets(field string, raw map[string]string) (map[models.Priority]time.Duration, error) {
	out := make(map[models.Priority]time.Duration, len(raw))
	for _, name := range sortedKeys(raw) {
		p, err := models.ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		d, err := time.ParseDuration(raw[name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", field, name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%s.%s: target must be positive", field, name)
		}
		out[p] = d
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse reads a workflow file. Sections left out keep their defaults.
func Parse(data []byte) (Settings, error) {
	cfg := DefaultConfig()
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Settings{}, fmt.Errorf("parse workflow config: %w", err)
	}
	if file.AutoApproval.LowRiskKinds != nil {
		cfg.AutoApproval.LowRiskKinds = file.AutoApproval.LowRiskKinds
	}
	if file.AutoApproval.CostThreshold != nil {
		cfg.AutoApproval.CostThreshold = file.AutoApproval.CostThreshold
	}
	if file.SLA.Default != nil {
		cfg.SLA.Default = file.SLA.Default
	}
	if file.SLA.Kinds != nil {
		cfg.SLA.Kinds = file.SLA.Kinds
	}
	return cfg.Build()
}

// LoadFile reads the workflow file once at startup. An empty path yields the defaults.
func LoadFile(path string) (Settings, error) {
	if path == "" {
		return DefaultConfig().Build()
	}
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read workflow config %s: %w", path, err)
	}
	return Parse(data)
}
