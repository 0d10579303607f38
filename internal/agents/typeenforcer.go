package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dotcommander/sage-enforce/internal/sandbox"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// TypeEnforcerMetadata describes the type-enforcer agent.
var TypeEnforcerMetadata = types.AgentMetadata{
	Name:                TypeEnforcerName,
	Description:         "Enforces type annotations and modern typing syntax in Python",
	SupportedExtensions: []string{".py", ".pyi"},
}

// Rules reported by the type enforcer.
const (
	RuleMissingReturnType = "missing-return-type"
	RuleMissingParamType  = "missing-param-type"
	RuleDeprecatedTyping  = "deprecated-typing"
	RuleExplicitAny       = "explicit-any"
	RuleBareTypeIgnore    = "bare-type-ignore"
	RuleTypeError         = "type-error"
)

var (
	deprecatedTypingPattern = regexp.MustCompile(`\b(?:typing\.)?(List|Dict|Set|FrozenSet|Tuple|Type|Optional|Union)\[`)
	explicitAnyPattern      = regexp.MustCompile(`(?::|->)\s*(?:typing\.)?Any\b`)
	bareTypeIgnorePattern   = regexp.MustCompile(`#\s*type:\s*ignore(?:\s|$)`)
	typingImportPattern     = regexp.MustCompile(`^\s*from\s+typing\s+import\b`)
)

var builtinGenerics = map[string]string{
	"List":      "list",
	"Dict":      "dict",
	"Set":       "set",
	"FrozenSet": "frozenset",
	"Tuple":     "tuple",
	"Type":      "type",
}

// TypeEnforcer checks Python annotations with source heuristics and, when
// available, an external type checker.
type TypeEnforcer struct {
	opts    Options
	checker string
	runner  *sandbox.Runner
}

// NewTypeEnforcer creates the agent. The type checker is resolved once;
// if it is not installed only the heuristics run.
func NewTypeEnforcer(opts Options) (*TypeEnforcer, error) {
	te := &TypeEnforcer{opts: opts, runner: opts.runner()}
	if opts.resolve(opts.TypeChecker) {
		te.checker = opts.TypeChecker
	}
	return te, nil
}

// Execute implements types.Agent.
func (te *TypeEnforcer) Execute(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
	violations := te.heuristics(in)

	if te.checker != "" {
		found, err := te.runChecker(ctx, in)
		if err != nil {
			return nil, err
		}
		violations = append(violations, found...)
	}
	return types.NewAgentResult(violations), nil
}

func (te *TypeEnforcer) heuristics(in types.AgentInput) []types.Violation {
	lines := splitLines(in.Content)
	mask := stringMask(lines)
	var out []types.Violation

	for _, d := range scanDefs(lines) {
		if d.Kind != "def" {
			continue
		}
		if !d.Returns {
			suggestion := "Add a return annotation, e.g. '-> None' when nothing is returned"
			if d.Name == "__init__" {
				suggestion = "Add '-> None'"
			}
			out = append(out, types.Violation{
				File:        in.FilePath,
				Line:        d.Line,
				Column:      types.Col(d.Indent),
				Severity:    types.SeverityWarning,
				Rule:        RuleMissingReturnType,
				Message:     fmt.Sprintf("Function '%s' has no return type annotation", d.Name),
				Suggestion:  suggestion,
				AutoFixable: d.Name == "__init__",
			})
		}
		for i, raw := range d.Params {
			p, ok := parseParam(raw)
			if !ok || p.Annotated {
				continue
			}
			if i == 0 && (p.Name == "self" || p.Name == "cls") {
				continue
			}
			out = append(out, types.Violation{
				File:       in.FilePath,
				Line:       d.Line,
				Column:     types.Col(d.Indent),
				Severity:   types.SeverityWarning,
				Rule:       RuleMissingParamType,
				Message:    fmt.Sprintf("Parameter '%s' of '%s' has no type annotation", p.Name, d.Name),
				Suggestion: fmt.Sprintf("Annotate '%s'", p.Name),
			})
		}
	}

	for i, line := range lines {
		if mask[i] || isCommentLine(line) || typingImportPattern.MatchString(line) {
			continue
		}
		code := stripComment(line)
		for _, m := range deprecatedTypingPattern.FindAllStringSubmatchIndex(code, -1) {
			name := code[m[2]:m[3]]
			v := types.Violation{
				File:     in.FilePath,
				Line:     i + 1,
				Column:   types.Col(m[0]),
				Severity: types.SeverityWarning,
				Rule:     RuleDeprecatedTyping,
				Message:  fmt.Sprintf("'%s' from typing is deprecated", name),
			}
			switch name {
			case "Optional":
				v.Suggestion = "Use 'X | None'"
			case "Union":
				v.Suggestion = "Use 'X | Y'"
			default:
				v.Suggestion = fmt.Sprintf("Use the builtin '%s'", builtinGenerics[name])
				v.AutoFixable = true
			}
			out = append(out, v)
		}
		if loc := explicitAnyPattern.FindStringIndex(code); loc != nil {
			out = append(out, types.Violation{
				File:       in.FilePath,
				Line:       i + 1,
				Column:     types.Col(loc[0]),
				Severity:   types.SeverityInfo,
				Rule:       RuleExplicitAny,
				Message:    "Explicit 'Any' disables type checking",
				Suggestion: "Use a concrete type, a TypeVar or 'object'",
			})
		}
		if loc := bareTypeIgnorePattern.FindStringIndex(line); loc != nil {
			out = append(out, types.Violation{
				File:       in.FilePath,
				Line:       i + 1,
				Column:     types.Col(loc[0]),
				Severity:   types.SeverityInfo,
				Rule:       RuleBareTypeIgnore,
				Message:    "'# type: ignore' without an error code silences every diagnostic on the line",
				Suggestion: "Use '# type: ignore[code]'",
			})
		}
	}
	return out
}

// checkerReport is the subset of pyright's --outputjson report we read.
type checkerReport struct {
	GeneralDiagnostics []struct {
		File     string `json:"file"`
		Severity string `json:"severity"`
		Message  string `json:"message"`
		Rule     string `json:"rule"`
		Range    struct {
			Start struct {
				Line      int `json:"line"`
				Character int `json:"character"`
			} `json:"start"`
		} `json:"range"`
	} `json:"generalDiagnostics"`
}

func (te *TypeEnforcer) runChecker(ctx context.Context, in types.AgentInput) ([]types.Violation, error) {
	dir := in.Root
	if dir == "" {
		dir = filepath.Dir(in.FilePath)
	}
	target, cleanup, err := stageContent(in)
	if err != nil {
		return nil, fmt.Errorf("type checker: %w", err)
	}
	defer cleanup()

	res, err := te.runner.Run(ctx, te.checker, []string{"--outputjson", target}, te.opts.sandboxConfig(te.checker, dir))
	if err != nil {
		return nil, fmt.Errorf("type checker: %w", err)
	}
	found, err := parseCheckerReport(res.Stdout, target)
	if err != nil {
		return nil, err
	}
	for i := range found {
		found[i].File = in.FilePath
	}
	return found, nil
}

// stageContent returns the path the type checker should read. When the
// request content differs from the file on disk it is written to a hidden
// sibling file, so the checker and the heuristics see the same text and
// relative imports still resolve. cleanup removes the staged copy.
func stageContent(in types.AgentInput) (string, func(), error) {
	noop := func() {}
	if disk, err := os.ReadFile(in.FilePath); err == nil && string(disk) == in.Content {
		return in.FilePath, noop, nil
	}

	ext := filepath.Ext(in.FilePath)
	stem := strings.TrimSuffix(filepath.Base(in.FilePath), ext)
	f, err := os.CreateTemp(filepath.Dir(in.FilePath), "."+stem+".sage-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("stage content: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := f.WriteString(in.Content); err != nil {
		_ = f.Close()
		cleanup()
		return "", noop, fmt.Errorf("stage content: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("stage content: %w", err)
	}
	return path, cleanup, nil
}

func parseCheckerReport(stdout, filePath string) ([]types.Violation, error) {
	var report checkerReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		return nil, fmt.Errorf("type checker: unparseable output: %w", err)
	}

	var out []types.Violation
	for _, d := range report.GeneralDiagnostics {
		if d.File != "" && filepath.Base(d.File) != filepath.Base(filePath) {
			continue
		}
		sev, err := types.ParseSeverity(d.Severity)
		if err != nil {
			sev = types.SeverityInfo
		}
		rule := RuleTypeError
		if id := ruleID(d.Rule); id != "" {
			rule = id
		}
		out = append(out, types.Violation{
			File:     filePath,
			Line:     d.Range.Start.Line + 1,
			Column:   types.Col(max(d.Range.Start.Character, 0)),
			Severity: sev,
			Rule:     rule,
			Message:  strings.TrimSpace(d.Message),
		})
	}
	return out, nil
}
