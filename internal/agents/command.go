package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dotcommander/sage-enforce/internal/sandbox"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// FilePlaceholder in a command argument is replaced by the analysed file's
// path, or by a staged copy of the request content when that differs from
// the file on disk. Only whole arguments are substituted.
const FilePlaceholder = "{file}"

// CommandSpec declares an agent backed by an external tool whose output
// lines are matched against a regular expression.
type CommandSpec struct {
	Metadata types.AgentMetadata
	Command  string
	Args     []string
	// Timeout and MaxMemoryMB override the runner defaults when non-zero.
	Timeout     time.Duration
	MaxMemoryMB int
	// Pattern must define the named groups "line" and "message"; "column",
	// "severity", "rule" and "file" are optional.
	Pattern  string
	Severity types.Severity
	Rule     string
	// ColumnBase is subtracted from reported columns (1 for tools that
	// count from one).
	ColumnBase int
}

// CommandAgent runs a declared tool in the sandbox and converts matching
// output lines into violations.
type CommandAgent struct {
	spec    CommandSpec
	pattern *regexp.Regexp
	groups  map[string]int
	runner  *sandbox.Runner
	defs    Options
}

// Validate checks the declaration without touching the filesystem.
func (s CommandSpec) Validate() error {
	_, _, err := s.compile()
	return err
}

func (s CommandSpec) compile() (*regexp.Regexp, map[string]int, error) {
	if s.Command == "" || strings.ContainsAny(s.Command, " \t/\\") {
		return nil, nil, fmt.Errorf("agent %s: command must be a bare executable name, got %q", s.Metadata.Name, s.Command)
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("agent %s: pattern: %w", s.Metadata.Name, err)
	}
	groups := make(map[string]int)
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = i
		}
	}
	for _, required := range []string{"line", "message"} {
		if _, ok := groups[required]; !ok {
			return nil, nil, fmt.Errorf("agent %s: pattern must define the named group %q", s.Metadata.Name, required)
		}
	}
	if !s.Severity.Valid() {
		return nil, nil, fmt.Errorf("agent %s: invalid severity %s", s.Metadata.Name, s.Severity)
	}
	if s.ColumnBase != 0 && s.ColumnBase != 1 {
		return nil, nil, fmt.Errorf("agent %s: columnBase must be 0 or 1", s.Metadata.Name)
	}
	return re, groups, nil
}

// NewCommandAgent validates spec and resolves its executable.
func NewCommandAgent(spec CommandSpec, opts Options) (*CommandAgent, error) {
	re, groups, err := spec.compile()
	if err != nil {
		return nil, err
	}
	if !opts.resolve(spec.Command) {
		return nil, fmt.Errorf("agent %s: executable %q not found on PATH", spec.Metadata.Name, spec.Command)
	}
	if spec.Rule == "" {
		spec.Rule = spec.Metadata.Name
	}
	return &CommandAgent{spec: spec, pattern: re, groups: groups, runner: opts.runner(), defs: opts}, nil
}

// Execute implements types.Agent.
func (ca *CommandAgent) Execute(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
	target := in.FilePath
	if slices.Contains(ca.spec.Args, FilePlaceholder) {
		staged, cleanup, err := stageContent(in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ca.spec.Command, err)
		}
		defer cleanup()
		target = staged
	}
	args := make([]string, len(ca.spec.Args))
	for i, a := range ca.spec.Args {
		if a == FilePlaceholder {
			a = target
		}
		args[i] = a
	}

	dir := in.Root
	if dir == "" {
		dir = filepath.Dir(in.FilePath)
	}
	cfg := ca.defs.sandboxConfig(ca.spec.Command, dir)
	if ca.spec.Timeout > 0 {
		cfg.Timeout = ca.spec.Timeout
	}
	if ca.spec.MaxMemoryMB > 0 {
		cfg.MaxMemoryMB = ca.spec.MaxMemoryMB
	}

	res, err := ca.runner.Run(ctx, ca.spec.Command, args, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ca.spec.Command, err)
	}

	violations := ca.parse(res.Stdout, target, in.FilePath)
	if len(violations) == 0 && res.ExitCode != 0 && strings.TrimSpace(res.Stderr) != "" {
		return nil, fmt.Errorf("%s exited with code %d: %s", ca.spec.Command, res.ExitCode, lastLine(res.Stderr))
	}
	return types.NewAgentResult(violations), nil
}

// parse reads violations from tool output. Lines naming a file other than
// target are skipped; findings are reported against filePath.
func (ca *CommandAgent) parse(output, target, filePath string) []types.Violation {
	var out []types.Violation
	for _, line := range splitLines(output) {
		m := ca.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		group := func(name string) string {
			if i, ok := ca.groups[name]; ok {
				return strings.TrimSpace(m[i])
			}
			return ""
		}

		if f := group("file"); f != "" && filepath.Base(f) != filepath.Base(target) {
			continue
		}
		lineNo, err := strconv.Atoi(group("line"))
		if err != nil || lineNo < 1 {
			continue
		}
		msg := group("message")
		if msg == "" {
			continue
		}

		v := types.Violation{
			File:     filePath,
			Line:     lineNo,
			Severity: ca.spec.Severity,
			Rule:     ca.spec.Rule,
			Message:  msg,
		}
		if c, err := strconv.Atoi(group("column")); err == nil {
			v.Column = types.Col(max(c-ca.spec.ColumnBase, 0))
		}
		if s := group("severity"); s != "" {
			if sev, err := types.ParseSeverity(s); err == nil {
				v.Severity = sev
			}
		}
		if r := ruleID(group("rule")); r != "" {
			v.Rule = r
		}
		out = append(out, v)
	}
	return out
}
