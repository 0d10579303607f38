// Package types provides shared types used across the sage-enforce codebase.
// This package is at the bottom of the dependency graph and should not import
// any other internal packages to avoid circular dependencies.
package types

import (
	"context"
	"fmt"
	"regexp"
)

// Violation is one issue reported by an agent.
type Violation struct {
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Column      *int     `json:"column,omitempty"`
	Severity    Severity `json:"severity"`
	Rule        string   `json:"rule"`
	Message     string   `json:"message"`
	Suggestion  string   `json:"suggestion,omitempty"`
	AutoFixable bool     `json:"autoFixable"`
}

// Col returns a pointer to c for use in Violation.Column.
func Col(c int) *int {
	return &c
}

var rulePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidRule reports whether rule is a lowercase hyphenated identifier
// such as "missing-return-type".
func ValidRule(rule string) bool {
	return rulePattern.MatchString(rule)
}

// Validate reports whether v satisfies the violation invariants.
func (v Violation) Validate() error {
	if !ValidRule(v.Rule) {
		return fmt.Errorf("violation %q: rule must be a lowercase hyphenated identifier", v.Rule)
	}
	if !v.Severity.Valid() {
		return fmt.Errorf("violation %q: invalid severity %d", v.Rule, v.Severity)
	}
	if v.Line < 1 {
		return fmt.Errorf("violation %q: line must be >= 1, got %d", v.Rule, v.Line)
	}
	if v.Column != nil && *v.Column < 0 {
		return fmt.Errorf("violation %q: column must be >= 0, got %d", v.Rule, *v.Column)
	}
	if v.Message == "" {
		return fmt.Errorf("violation %q: empty message", v.Rule)
	}
	return nil
}

// Summary counts violations by severity.
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Info     int `json:"info"`
}

// Total returns the number of counted violations.
func (s Summary) Total() int {
	return s.Errors + s.Warnings + s.Info
}

// Summarize partitions violations by severity.
func Summarize(violations []Violation) Summary {
	var s Summary
	for _, v := range violations {
		switch v.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		case SeverityInfo:
			s.Info++
		}
	}
	return s
}

// AgentResult is what an agent returns for one file.
// Summary always equals Summarize(Violations).
type AgentResult struct {
	Violations []Violation `json:"violations"`
	Summary    Summary     `json:"summary"`
}

// NewAgentResult builds an AgentResult with a consistent summary.
func NewAgentResult(violations []Violation) *AgentResult {
	if violations == nil {
		violations = []Violation{}
	}
	return &AgentResult{
		Violations: violations,
		Summary:    Summarize(violations),
	}
}

// AgentInput is the per-file input handed to every agent.
type AgentInput struct {
	FilePath string
	Content  string
	// Root is the validated project root; agents use it as the sandbox
	// working directory.
	Root string
}

// AgentMetadata describes one pluggable analysis unit.
type AgentMetadata struct {
	Name                string   `json:"name" yaml:"name"`
	Description         string   `json:"description" yaml:"description"`
	SupportedExtensions []string `json:"supportedExtensions" yaml:"extensions"`
}

//go:generate mockgen -destination=../mocks/mock_agent.go -package=mocks github.com/dotcommander/sage-enforce/internal/types Agent

// Agent inspects one file and reports violations. Findings are returned as
// violations; an error means the agent could not run at all.
type Agent interface {
	Execute(ctx context.Context, input AgentInput) (*AgentResult, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, input AgentInput) (*AgentResult, error)

// Execute calls f.
func (f AgentFunc) Execute(ctx context.Context, input AgentInput) (*AgentResult, error) {
	return f(ctx, input)
}
