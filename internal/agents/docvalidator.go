package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// DocValidatorMetadata describes the doc-validator agent.
var DocValidatorMetadata = types.AgentMetadata{
	Name:                DocValidatorName,
	Description:         "Checks module, class and function docstrings in Python",
	SupportedExtensions: []string{".py"},
}

// Rules reported by the doc validator.
const (
	RuleMissingModuleDocstring = "missing-module-docstring"
	RuleMissingDocstring       = "missing-docstring"
	RuleEmptyDocstring         = "empty-docstring"
)

// DocValidator reports public modules, classes and functions without
// docstrings.
type DocValidator struct{}

// NewDocValidator creates the agent.
func NewDocValidator() (*DocValidator, error) {
	return &DocValidator{}, nil
}

// Execute implements types.Agent.
func (dv *DocValidator) Execute(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
	lines := splitLines(in.Content)
	var out []types.Violation

	if first := firstCodeLine(lines, 0); first >= 0 && !isDocstringStart(strings.TrimSpace(lines[first])) {
		out = append(out, types.Violation{
			File:       in.FilePath,
			Line:       1,
			Severity:   types.SeverityInfo,
			Rule:       RuleMissingModuleDocstring,
			Message:    "Module has no docstring",
			Suggestion: "Add a module docstring describing its purpose",
		})
	}

	for _, d := range scanDefs(lines) {
		if strings.HasPrefix(d.Name, "_") {
			continue
		}
		kind := "Function"
		if d.Kind == "class" {
			kind = "Class"
		}

		body := d.Inline
		if body == "" {
			if next := firstCodeLine(lines, d.EndLine); next >= 0 && indentOf(lines[next]) > d.Indent {
				body = strings.TrimSpace(lines[next])
			}
		}

		switch {
		case !isDocstringStart(body):
			out = append(out, types.Violation{
				File:       in.FilePath,
				Line:       d.Line,
				Column:     types.Col(d.Indent),
				Severity:   types.SeverityWarning,
				Rule:       RuleMissingDocstring,
				Message:    fmt.Sprintf("%s '%s' has no docstring", kind, d.Name),
				Suggestion: "Add a docstring describing behaviour, arguments and return value",
			})
		case isEmptyDocstring(body):
			out = append(out, types.Violation{
				File:     in.FilePath,
				Line:     d.Line,
				Column:   types.Col(d.Indent),
				Severity: types.SeverityInfo,
				Rule:     RuleEmptyDocstring,
				Message:  fmt.Sprintf("%s '%s' has an empty docstring", kind, d.Name),
			})
		}
	}

	return types.NewAgentResult(out), nil
}

// firstCodeLine returns the index of the first line at or after from that
// is neither blank nor a comment, or -1.
func firstCodeLine(lines []string, from int) int {
	for i := from; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return i
	}
	return -1
}

func isEmptyDocstring(s string) bool {
	for _, q := range []string{`""""""`, `''''''`, `""`, `''`} {
		if strings.TrimSpace(s) == q {
			return true
		}
	}
	return false
}
