package adapters

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// Adapter types accepted in the registry file
const (
	TypeScript = "script"
	TypeHTTP   = "http"
	TypeDryRun = "dry-run"
)

// Registry maps each job kind to its adapter
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.JobKind]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.JobKind]Adapter)}
}

// Register binds an adapter to a kind, replacing any previous binding
func (r *Registry) Register(kind models.JobKind, a Adapter) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid job kind: %q", kind)
	}
	if a == nil {
		return fmt.Errorf("adapter for %s cannot be nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
	return nil
}

// Lookup returns the adapter of kind
func (r *Registry) Lookup(kind models.JobKind) (Adapter, error) {
	if r == nil {
		return nil, fmt.Errorf("%s: %w", kind, ErrNoAdapter)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrNoAdapter)
	}
	return a, nil
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []models.JobKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.JobKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Config is one adapter entry of the registry file
type Config struct {
	Type        string            `yaml:"type"`
	Interpreter string            `yaml:"interpreter,omitempty"`
	Script      string            `yaml:"script,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	WorkDir     string            `yaml:"work_dir,omitempty"`
	LimitVM     bool              `yaml:"limit_virtual_memory,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	Method      string            `yaml:"method,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// File is the on-disk shape of the adapter registry
type File struct {
	Adapters map[string]Config `yaml:"adapters"`
}

// DryRunRegistry binds every known kind to a DryRunAdapter
func DryRunRegistry() *Registry {
	r := NewRegistry()
	for _, k := range models.AllJobKinds() {
		r.adapters[k] = &DryRunAdapter{Name: string(k)}
	}
	return r
}

// ParseRegistry builds a registry from YAML
func ParseRegistry(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse adapter registry: %w", err)
	}

	r := NewRegistry()
	for name, cfg := range f.Adapters {
		kind, err := models.ParseJobKind(name)
		if err != nil {
			return nil, fmt.Errorf("adapters: %w", err)
		}
		a, err := build(string(kind), cfg)
		if err != nil {
			return nil, fmt.Errorf("adapters.%s: %w", name, err)
		}
		if err := r.Register(kind, a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadRegistry reads the registry file. An empty path yields DryRunRegistry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DryRunRegistry(), nil
	}
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapter registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

func build(name string, cfg Config) (Adapter, error) {
	switch cfg.Type {
	case TypeScript:
		if cfg.Script == "" {
			return nil, fmt.Errorf("script adapter requires a script path")
		}
		return &ScriptAdapter{
			Name:               name,
			Interpreter:        cfg.Interpreter,
			Script:             cfg.Script,
			Args:               cfg.Args,
			Env:                cfg.Env,
			WorkDir:            cfg.WorkDir,
			LimitVirtualMemory: cfg.LimitVM,
		}, nil
	case TypeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http adapter requires a url")
		}
		return &HTTPAdapter{
			Name:    name,
			URL:     cfg.URL,
			Method:  cfg.Method,
			Headers: cfg.Headers,
		}, nil
	case TypeDryRun:
		return &DryRunAdapter{Name: name}, nil
	}
	return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
}
