package enforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotcommander/sage-enforce/internal/loader"
	"github.com/dotcommander/sage-enforce/internal/registry"
	"github.com/dotcommander/sage-enforce/internal/sandbox"
)

// ErrInvalidViolation matches every *InvalidViolationError.
var ErrInvalidViolation = errors.New("agent produced invalid violations")

// InvalidViolationError reports violations that failed validation and were
// dropped from an agent's output.
type InvalidViolationError struct {
	Count int
	First error
}

func (e *InvalidViolationError) Error() string {
	if e.Count == 1 {
		return fmt.Sprintf("dropped 1 invalid violation: %v", e.First)
	}
	return fmt.Sprintf("dropped %d invalid violations, first: %v", e.Count, e.First)
}

func (e *InvalidViolationError) Unwrap() error { return e.First }

// Is matches ErrInvalidViolation.
func (e *InvalidViolationError) Is(target error) bool { return target == ErrInvalidViolation }

// Error kinds reported by AgentError.Kind.
const (
	KindUnknownAgent     = "unknown-agent"
	KindLoad             = "load"
	KindTimeout          = "timeout"
	KindMemory           = "memory"
	KindNotAllowed       = "not-allowed"
	KindCancelled        = "cancelled"
	KindInvalidViolation = "invalid-violation"
	KindExecution        = "execution"
)

// AgentError records one agent that contributed no (or only partial)
// results to an enforcement call.
type AgentError struct {
	Agent string
	Err   error
}

func (e AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e AgentError) Unwrap() error { return e.Err }

// Kind classifies the failure.
func (e AgentError) Kind() string {
	switch {
	case errors.Is(e.Err, registry.ErrUnknownAgent):
		return KindUnknownAgent
	case errors.Is(e.Err, loader.ErrAgentLoad):
		return KindLoad
	case errors.Is(e.Err, sandbox.ErrMemoryLimit):
		return KindMemory
	case errors.Is(e.Err, sandbox.ErrTimeout):
		return KindTimeout
	case errors.Is(e.Err, sandbox.ErrCommandNotAllowed):
		return KindNotAllowed
	case errors.Is(e.Err, context.Canceled), errors.Is(e.Err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(e.Err, ErrInvalidViolation):
		return KindInvalidViolation
	default:
		return KindExecution
	}
}

// MarshalJSON encodes the error as {agent, kind, error}.
func (e AgentError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Agent string `json:"agent"`
		Kind  string `json:"kind"`
		Error string `json:"error"`
	}{e.Agent, e.Kind(), msg})
}
