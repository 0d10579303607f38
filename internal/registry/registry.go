// Package registry maps file extensions to the analysis agents that apply
// to them and binds each agent name to its constructor.
//
// A Registry is populated once at startup and sealed; after Seal it is
// read-only and safe for concurrent use.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrSealed       = errors.New("registry is sealed")
)

// UnknownAgentError is returned when a name has no registered agent.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.Name)
}

// Is matches ErrUnknownAgent.
func (e *UnknownAgentError) Is(target error) bool { return target == ErrUnknownAgent }

// Factory constructs an agent. It is called at most once per successful
// load; construction may be expensive.
type Factory func() (types.Agent, error)

var agentNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type entry struct {
	meta    types.AgentMetadata
	factory Factory
}

// Registry is the static agent table.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	order  []string
	agents map[string]entry
	byExt  map[string][]string
}

// New creates an empty, unsealed Registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]entry),
		byExt:  make(map[string][]string),
	}
}

// Register adds an agent. Extensions are normalised to lowercase with a
// leading dot. Agents apply to a file in registration order.
func (r *Registry) Register(meta types.AgentMetadata, factory Factory) error {
	if !agentNamePattern.MatchString(meta.Name) {
		return fmt.Errorf("invalid agent name %q: must be lowercase alphanumeric with hyphens", meta.Name)
	}
	if factory == nil {
		return fmt.Errorf("agent %q: nil factory", meta.Name)
	}
	if len(meta.SupportedExtensions) == 0 {
		return fmt.Errorf("agent %q: at least one supported extension is required", meta.Name)
	}

	exts := make([]string, 0, len(meta.SupportedExtensions))
	seen := make(map[string]bool)
	for _, ext := range meta.SupportedExtensions {
		norm := normalizeExt(ext)
		if norm == "." {
			return fmt.Errorf("agent %q: empty extension", meta.Name)
		}
		if !seen[norm] {
			seen[norm] = true
			exts = append(exts, norm)
		}
	}
	meta.SupportedExtensions = exts

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: %w", meta.Name, ErrSealed)
	}
	if _, dup := r.agents[meta.Name]; dup {
		return fmt.Errorf("agent %q already registered", meta.Name)
	}

	r.agents[meta.Name] = entry{meta: meta, factory: factory}
	r.order = append(r.order, meta.Name)
	for _, ext := range exts {
		r.byExt[ext] = append(r.byExt[ext], meta.Name)
	}
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// ApplicableAgents returns the names of the agents that apply to filePath,
// in registration order. The extension match is case-insensitive. An
// unmapped extension yields an empty list, not an error.
func (r *Registry) ApplicableAgents(filePath string) []string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return []string{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byExt[ext]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// AllAgents returns metadata for every registered agent in registration
// order.
func (r *Registry) AllAgents() []types.AgentMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentMetadata, 0, len(r.order))
	for _, name := range r.order {
		meta := r.agents[name].meta
		meta.SupportedExtensions = append([]string(nil), meta.SupportedExtensions...)
		out = append(out, meta)
	}
	return out
}

// Metadata returns the metadata for name.
func (r *Registry) Metadata(name string) (types.AgentMetadata, error) {
	e, err := r.lookup(name)
	if err != nil {
		return types.AgentMetadata{}, err
	}
	return e.meta, nil
}

// Factory returns the constructor bound to name.
func (r *Registry) Factory(name string) (Factory, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.factory, nil
}

// Extensions returns every mapped extension, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(name string) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[name]
	if !ok {
		return entry{}, &UnknownAgentError{Name: name}
	}
	return e, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
