// Package enforce runs every applicable agent against a file and filters
// the combined findings.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dotcommander/sage-enforce/internal/discovery"
	"github.com/dotcommander/sage-enforce/internal/filter"
	"github.com/dotcommander/sage-enforce/internal/loader"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// Applicability maps a file path to the names of the agents that apply.
// *registry.Registry satisfies it.
type Applicability interface {
	ApplicableAgents(filePath string) []string
}

// Result is the outcome of one enforcement call.
type Result struct {
	FilePath string
	// AgentsExecuted lists the applicable agents in registration order,
	// including those that failed.
	AgentsExecuted []string
	Filtered       *filter.Result
	// AgentErrors is never nil; it is empty when every agent ran.
	AgentErrors []AgentError
	Duration    time.Duration
}

// Summary counts every violation before truncation.
func (r *Result) Summary() types.Summary {
	m := r.Filtered.Metadata
	return types.Summary{
		Errors:   m.Bucket(types.SeverityError).Total,
		Warnings: m.Bucket(types.SeverityWarning).Total,
		Info:     m.Bucket(types.SeverityInfo).Total,
	}
}

// Orchestrator coordinates agent lookup, execution and filtering.
type Orchestrator struct {
	root   string
	agents Applicability
	cache  *loader.Cache
	logger *log.Logger

	// timeout bounds each file; zero means only the caller's deadline.
	timeout time.Duration
}

// New creates an orchestrator confined to root.
func New(root string, agents Applicability, cache *loader.Cache) *Orchestrator {
	return &Orchestrator{
		root:   root,
		agents: agents,
		cache:  cache,
		logger: log.New(io.Discard, "", 0),
	}
}

// WithLogger sets the diagnostic logger.
func (o *Orchestrator) WithLogger(l *log.Logger) *Orchestrator {
	if l != nil {
		o.logger = l
	}
	return o
}

// WithTimeout bounds every enforcement call by d. Zero disables it.
func (o *Orchestrator) WithTimeout(d time.Duration) *Orchestrator {
	o.timeout = d
	return o
}

// Root returns the directory every path is confined to.
func (o *Orchestrator) Root() string {
	return o.root
}

// Applicable reports the agents that apply to filePath.
func (o *Orchestrator) Applicable(filePath string) []string {
	return o.agents.ApplicableAgents(filePath)
}

// Enforce validates filePath, runs every applicable agent on content and
// filters the combined violations.
//
// Path validation errors are returned unchanged and abort the call. Agent
// failures, including load and sandbox errors, are contained: the agent
// contributes no violations and the failure is listed in AgentErrors. If
// ctx ends first, agents still running are recorded as failed and the
// results that already completed are returned.
func (o *Orchestrator) Enforce(ctx context.Context, filePath, content string, limitPerSeverity int) (*Result, error) {
	path, err := discovery.ValidatePath(filePath, o.root)
	if err != nil {
		return nil, err
	}
	return o.enforce(ctx, path, content, limitPerSeverity), nil
}

// EnforceFile is Enforce with the content read from disk.
func (o *Orchestrator) EnforceFile(ctx context.Context, filePath string, limitPerSeverity int) (*Result, error) {
	path, err := discovery.ValidatePath(filePath, o.root)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return o.enforce(ctx, path, string(content), limitPerSeverity), nil
}

type agentOutcome struct {
	index      int
	violations []types.Violation
	err        error
}

func (o *Orchestrator) enforce(ctx context.Context, path, content string, limit int) *Result {
	start := time.Now()
	names := o.agents.ApplicableAgents(path)
	result := &Result{
		FilePath:       path,
		AgentsExecuted: names,
		AgentErrors:    []AgentError{},
	}
	if len(names) == 0 {
		result.Filtered = filter.Empty()
		result.Duration = time.Since(start)
		return result
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	input := types.AgentInput{FilePath: path, Content: content, Root: o.root}
	outcomes := make(chan agentOutcome, len(names))
	for i, name := range names {
		go func(i int, name string) {
			violations, err := o.runAgent(ctx, name, input)
			outcomes <- agentOutcome{index: i, violations: violations, err: err}
		}(i, name)
	}

	perAgent := make([][]types.Violation, len(names))
	failed := make([]error, len(names))
	done := make([]bool, len(names))
	record := func(out agentOutcome) {
		done[out.index] = true
		perAgent[out.index] = out.violations
		failed[out.index] = out.err
	}

collect:
	for received := 0; received < len(names); received++ {
		select {
		case out := <-outcomes:
			record(out)
		case <-ctx.Done():
			for {
				select {
				case out := <-outcomes:
					record(out)
					continue
				default:
				}
				break
			}
			for i := range names {
				if !done[i] {
					failed[i] = fmt.Errorf("agent did not finish: %w", ctx.Err())
				}
			}
			break collect
		}
	}

	var all []types.Violation
	for i, name := range names {
		if failed[i] != nil {
			o.logger.Printf("agent %s on %s: %v", name, path, failed[i])
			result.AgentErrors = append(result.AgentErrors, AgentError{Agent: name, Err: failed[i]})
		}
		all = append(all, perAgent[i]...)
	}

	result.Filtered = filter.Filter(all, limit)
	result.Duration = time.Since(start)
	o.logger.Printf("%s: %d agents, %d violations, %d shown, %s",
		path, len(names), result.Filtered.Metadata.Total, len(result.Filtered.Violations), result.Duration)
	return result
}

// runAgent loads and executes one agent. Invalid violations are dropped
// and reported through the returned error alongside the valid ones.
func (o *Orchestrator) runAgent(ctx context.Context, name string, in types.AgentInput) (violations []types.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			violations, err = nil, fmt.Errorf("agent panicked: %v", r)
		}
	}()

	agent, err := o.cache.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	res, err := agent.Execute(ctx, in)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("agent returned no result")
	}

	var invalid []error
	violations = make([]types.Violation, 0, len(res.Violations))
	for _, v := range res.Violations {
		if v.File == "" {
			v.File = in.FilePath
		}
		if verr := v.Validate(); verr != nil {
			invalid = append(invalid, verr)
			continue
		}
		violations = append(violations, v)
	}
	if len(invalid) > 0 {
		return violations, &InvalidViolationError{Count: len(invalid), First: invalid[0]}
	}
	return violations, nil
}
