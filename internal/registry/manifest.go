package registry

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/sage-enforce/internal/agents"
	"github.com/dotcommander/sage-enforce/internal/cue"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// Manifest is a plugin file declaring command-backed agents.
type Manifest struct {
	Path   string          `yaml:"-"`
	Agents []ManifestAgent `yaml:"agents"`
}

// ManifestAgent is one agent entry of a manifest.
type ManifestAgent struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Extensions  []string `yaml:"extensions"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	Timeout     string   `yaml:"timeout"`
	MaxMemoryMB int      `yaml:"maxMemoryMb"`
	Pattern     string   `yaml:"pattern"`
	Severity    string   `yaml:"severity"`
	Rule        string   `yaml:"rule"`
	ColumnBase  int      `yaml:"columnBase"`
}

// LoadManifest reads and schema-validates a manifest. A missing file is
// reported with an error matching os.ErrNotExist.
func LoadManifest(path string, validator *cue.Validator) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	return ParseManifest(path, data, validator)
}

// ParseManifest decodes and schema-validates manifest bytes.
func ParseManifest(path string, data []byte, validator *cue.Validator) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse plugin manifest %s: %w", path, err)
	}
	if raw == nil {
		return &Manifest{Path: path}, nil
	}

	errs, err := validator.ValidateManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("validate plugin manifest %s: %w", path, err)
	}
	if err := cue.Join(errs); err != nil {
		return nil, fmt.Errorf("plugin manifest %s: %w", path, err)
	}

	m := &Manifest{Path: path}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode plugin manifest %s: %w", path, err)
	}
	return m, nil
}

// Specs converts the manifest entries into command agent declarations.
func (m *Manifest) Specs() ([]agents.CommandSpec, error) {
	specs := make([]agents.CommandSpec, 0, len(m.Agents))
	for _, a := range m.Agents {
		spec := agents.CommandSpec{
			Metadata: types.AgentMetadata{
				Name:                a.Name,
				Description:         a.Description,
				SupportedExtensions: a.Extensions,
			},
			Command:     a.Command,
			Args:        a.Args,
			MaxMemoryMB: a.MaxMemoryMB,
			Pattern:     a.Pattern,
			Severity:    types.SeverityWarning,
			Rule:        a.Rule,
			ColumnBase:  a.ColumnBase,
		}
		if a.Timeout != "" {
			d, err := time.ParseDuration(a.Timeout)
			if err != nil {
				return nil, fmt.Errorf("agent %s: timeout: %w", a.Name, err)
			}
			spec.Timeout = d
		}
		if a.Severity != "" {
			sev, err := types.ParseSeverity(a.Severity)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", a.Name, err)
			}
			spec.Severity = sev
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// RegisterManifest registers every agent declared in m. Executables are
// resolved lazily, when an agent is first loaded, so a missing tool
// surfaces as a per-file agent error rather than a startup failure.
func (r *Registry) RegisterManifest(m *Manifest, opts agents.Options) error {
	specs, err := m.Specs()
	if err != nil {
		return fmt.Errorf("plugin manifest %s: %w", m.Path, err)
	}
	var errs []error
	for _, spec := range specs {
		spec := spec
		factory := func() (types.Agent, error) { return agents.NewCommandAgent(spec, opts) }
		if err := r.Register(spec.Metadata, factory); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("plugin manifest %s: %w", m.Path, errors.Join(errs...))
	}
	return nil
}
