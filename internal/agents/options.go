// Package agents implements the built-in analysis agents and the
// command-backed agents declared in plugin manifests.
//
// Agents are stateless after construction and safe for concurrent use.
// Findings are reported as violations; an error return means the agent
// could not analyse the file at all.
package agents

import (
	"os/exec"
	"time"

	"github.com/dotcommander/sage-enforce/internal/sandbox"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// Built-in agent names.
const (
	TypeEnforcerName    = "type-enforcer"
	DocValidatorName    = "doc-validator"
	TestCoverageName    = "test-coverage"
	SecurityScannerName = "security-scanner"
)

// Options configures the built-in agents.
type Options struct {
	// Runner executes external tools. Nil means sandbox.NewRunner().
	Runner *sandbox.Runner

	// TypeChecker is the type checker executable; empty disables it.
	TypeChecker string
	// CoverageRunner is the test runner executable; empty disables it.
	CoverageRunner string
	// CoverageThreshold is the minimum line coverage percentage.
	CoverageThreshold float64

	// Timeout and MaxMemoryMB bound every external tool invocation.
	Timeout     time.Duration
	MaxMemoryMB int

	// LookPath resolves executables. Nil means exec.LookPath.
	LookPath func(string) (string, error)
}

// DefaultOptions returns options with the stock tools and limits.
func DefaultOptions() Options {
	return Options{
		TypeChecker:       "pyright",
		CoverageRunner:    "pytest",
		CoverageThreshold: 80,
		Timeout:           sandbox.DefaultTimeout,
		MaxMemoryMB:       512,
	}
}

func (o Options) runner() *sandbox.Runner {
	if o.Runner != nil {
		return o.Runner
	}
	return sandbox.NewRunner()
}

// resolve reports whether tool can be found on PATH.
func (o Options) resolve(tool string) bool {
	if tool == "" {
		return false
	}
	lookPath := o.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(tool)
	return err == nil
}

func (o Options) sandboxConfig(tool, dir string) sandbox.Config {
	return sandbox.Config{
		Timeout:          o.Timeout,
		MaxMemoryMB:      o.MaxMemoryMB,
		AllowedCommands:  []string{tool},
		WorkingDirectory: dir,
	}
}

// Builtin pairs a built-in agent's metadata with its constructor.
type Builtin struct {
	Metadata types.AgentMetadata
	New      func() (types.Agent, error)
}

// Builtins returns the built-in agents in registration order.
func Builtins(opts Options) []Builtin {
	return []Builtin{
		{TypeEnforcerMetadata, func() (types.Agent, error) { return NewTypeEnforcer(opts) }},
		{DocValidatorMetadata, func() (types.Agent, error) { return NewDocValidator() }},
		{TestCoverageMetadata, func() (types.Agent, error) { return NewTestCoverage(opts) }},
		{SecurityScannerMetadata, func() (types.Agent, error) { return NewSecurityScanner() }},
	}
}
