// Package policy holds the security policy of the automation engine and the validator
// that gates every job before execution.
package policy

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// Default limits applied when the configuration leaves them unset
const (
	DefaultMaxExecutionSeconds = 300
	DefaultMaxMemoryBytes      = 256 << 20
	DefaultMaxConcurrentJobs   = 4
)

// PatternConfig is a named regular expression in the policy file
type PatternConfig struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Config is the on-disk shape of the security policy
type Config struct {
	AllowedOperationKinds []string        `yaml:"allowed_operation_kinds"`
	BlockedPatterns       []PatternConfig `yaml:"blocked_patterns"`
	// IncludeDefaultPatterns keeps the built-in pattern set alongside BlockedPatterns.
	// Nil means true.
	IncludeDefaultPatterns *bool `yaml:"include_default_patterns"`
	MaxExecutionSeconds    int   `yaml:"max_execution_seconds"`
	MaxMemoryBytes         int64 `yaml:"max_memory_bytes"`
	MaxConcurrentJobs      int   `yaml:"max_concurrent_jobs"`
}

// BlockedPattern is a compiled pattern that denies any payload it matches
type BlockedPattern struct {
	Name string
	re   *regexp.Regexp
}

// Match reports whether s contains the pattern
func (p BlockedPattern) Match(s string) bool {
	return p.re.MatchString(s)
}

// Expr returns the source expression of the pattern
func (p BlockedPattern) Expr() string {
	return p.re.String()
}

// SecurityPolicy is immutable after construction and safe for concurrent reads
type SecurityPolicy struct {
	allowedKinds      map[models.JobKind]struct{}
	blocked           []BlockedPattern
	maxExecution      time.Duration
	maxMemoryBytes    int64
	maxConcurrentJobs int
}

// DefaultConfig allows every known kind with the built-in pattern set
func DefaultConfig() Config {
	kinds := make([]string, 0, len(models.AllJobKinds()))
	for _, k := range models.AllJobKinds() {
		kinds = append(kinds, string(k))
	}
	return Config{
		AllowedOperationKinds: kinds,
		MaxExecutionSeconds:   DefaultMaxExecutionSeconds,
		MaxMemoryBytes:        DefaultMaxMemoryBytes,
		MaxConcurrentJobs:     DefaultMaxConcurrentJobs,
	}
}

// Default returns the policy built from DefaultConfig
func Default() *SecurityPolicy {
	p, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("default security policy is invalid: %v", err))
	}
	return p
}

// New validates cfg and builds an immutable policy
func New(cfg Config) (*SecurityPolicy, error) {
	p := &SecurityPolicy{
		allowedKinds:      make(map[models.JobKind]struct{}, len(cfg.AllowedOperationKinds)),
		maxExecution:      time.Duration(cfg.MaxExecutionSeconds) * time.Second,
		maxMemoryBytes:    cfg.MaxMemoryBytes,
		maxConcurrentJobs: cfg.MaxConcurrentJobs,
	}

	for _, k := range cfg.AllowedOperationKinds {
		kind, err := models.ParseJobKind(k)
		if err != nil {
			return nil, fmt.Errorf("allowed_operation_kinds: %w", err)
		}
		p.allowedKinds[kind] = struct{}{}
	}

	if cfg.IncludeDefaultPatterns == nil || *cfg.IncludeDefaultPatterns {
		p.blocked = append(p.blocked, defaultPatterns()...)
	}
	seen := make(map[string]bool, len(p.blocked))
	for _, bp := range p.blocked {
		seen[bp.Name] = true
	}
	for _, pc := range cfg.BlockedPatterns {
		if pc.Name == "" || pc.Pattern == "" {
			return nil, fmt.Errorf("blocked_patterns: name and pattern are required")
		}
		if seen[pc.Name] {
			return nil, fmt.Errorf("blocked_patterns: duplicate pattern name %q", pc.Name)
		}
		re, err := regexp.Compile(pc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("blocked_patterns: %s: %w", pc.Name, err)
		}
		seen[pc.Name] = true
		p.blocked = append(p.blocked, BlockedPattern{Name: pc.Name, re: re})
	}

	if p.maxExecution <= 0 {
		return nil, fmt.Errorf("max_execution_seconds must be positive")
	}
	if p.maxMemoryBytes <= 0 {
		return nil, fmt.Errorf("max_memory_bytes must be positive")
	}
	if p.maxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("max_concurrent_jobs must be positive")
	}
	return p, nil
}

// Parse builds a policy from YAML. Unset limits take their defaults.
func Parse(data []byte) (*SecurityPolicy, error) {
	cfg := Config{
		MaxExecutionSeconds: DefaultMaxExecutionSeconds,
		MaxMemoryBytes:      DefaultMaxMemoryBytes,
		MaxConcurrentJobs:   DefaultMaxConcurrentJobs,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse security policy: %w", err)
	}
	return New(cfg)
}

// LoadFile reads the policy once at startup. An empty path yields the default policy.
func LoadFile(path string) (*SecurityPolicy, error) {
	if path == "" {
		return Default(), nil
	}
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read security policy %s: %w", path, err)
	}
	return Parse(data)
}

// AllowsKind reports whether jobs of kind k may run
func (p *SecurityPolicy) AllowsKind(k models.JobKind) bool {
	_, ok := p.allowedKinds[k]
	return ok
}

// AllowedKinds returns the allowed kinds in declaration order of models.AllJobKinds
func (p *SecurityPolicy) AllowedKinds() []models.JobKind {
	out := make([]models.JobKind, 0, len(p.allowedKinds))
	for _, k := range models.AllJobKinds() {
		if p.AllowsKind(k) {
			out = append(out, k)
		}
	}
	return out
}

// BlockedPatterns returns a copy of the blocked pattern list
func (p *SecurityPolicy) BlockedPatterns() []BlockedPattern {
	out := make([]BlockedPattern, len(p.blocked))
	copy(out, p.blocked)
	return out
}

// MaxExecution is the wall-clock limit of a single job
func (p *SecurityPolicy) MaxExecution() time.Duration {
	return p.maxExecution
}

// MaxMemoryBytes is the memory ceiling of a single job
func (p *SecurityPolicy) MaxMemoryBytes() int64 {
	return p.maxMemoryBytes
}

// MaxConcurrentJobs is the scheduler concurrency cap
func (p *SecurityPolicy) MaxConcurrentJobs() int {
	return p.maxConcurrentJobs
}
