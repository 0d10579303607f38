package registry

import (
	"fmt"

	"github.com/dotcommander/sage-enforce/internal/agents"
)

// NewDefault creates an unsealed registry holding the built-in agents.
// Callers may register plugin agents before sealing it.
func NewDefault(opts agents.Options) (*Registry, error) {
	r := New()
	for _, b := range agents.Builtins(opts) {
		if err := r.Register(b.Metadata, Factory(b.New)); err != nil {
			return nil, fmt.Errorf("register built-in agent: %w", err)
		}
	}
	return r, nil
}
