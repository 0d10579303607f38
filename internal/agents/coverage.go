package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dotcommander/sage-enforce/internal/sandbox"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// TestCoverageMetadata describes the test-coverage agent.
var TestCoverageMetadata = types.AgentMetadata{
	Name:                TestCoverageName,
	Description:         "Checks that Python modules have tests and meet the coverage threshold",
	SupportedExtensions: []string{".py"},
}

// Rules reported by the coverage agent.
const (
	RuleMissingTests         = "missing-tests"
	RuleInsufficientCoverage = "insufficient-coverage"
	RuleUncoveredLines       = "uncovered-lines"
	RuleFailingTests         = "failing-tests"
	RuleCoverageUnavailable  = "coverage-unavailable"
)

// pytest exit codes.
const (
	pytestOK          = 0
	pytestTestsFailed = 1
	pytestNoTests     = 5
)

// TestCoverage locates the tests for a module and, when the test runner is
// installed, measures line coverage.
type TestCoverage struct {
	opts   Options
	tool   string
	runner *sandbox.Runner
}

// NewTestCoverage creates the agent.
func NewTestCoverage(opts Options) (*TestCoverage, error) {
	if opts.CoverageThreshold < 0 || opts.CoverageThreshold > 100 {
		return nil, fmt.Errorf("coverage threshold %.1f out of range 0-100", opts.CoverageThreshold)
	}
	tc := &TestCoverage{opts: opts, runner: opts.runner()}
	if opts.resolve(opts.CoverageRunner) {
		tc.tool = opts.CoverageRunner
	}
	return tc, nil
}

// Execute implements types.Agent.
func (tc *TestCoverage) Execute(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
	if isTestFile(in.FilePath) {
		return types.NewAgentResult(nil), nil
	}
	stem := strings.TrimSuffix(filepath.Base(in.FilePath), filepath.Ext(in.FilePath))
	if stem == "__init__" || stem == "__main__" || stem == "setup" || stem == "conftest" {
		return types.NewAgentResult(nil), nil
	}

	testFile := findTestFile(in.FilePath, in.Root)
	if testFile == "" {
		return types.NewAgentResult([]types.Violation{{
			File:       in.FilePath,
			Line:       1,
			Severity:   types.SeverityWarning,
			Rule:       RuleMissingTests,
			Message:    fmt.Sprintf("No tests found for module '%s'", stem),
			Suggestion: fmt.Sprintf("Create tests/test_%s.py", stem),
		}}), nil
	}

	if tc.tool == "" {
		return types.NewAgentResult(nil), nil
	}
	violations, err := tc.measure(ctx, in, testFile)
	if err != nil {
		return nil, err
	}
	return types.NewAgentResult(violations), nil
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") || base == "conftest.py"
}

// findTestFile looks for the conventional test module locations next to
// the file and under the project root.
func findTestFile(filePath, root string) string {
	dir := filepath.Dir(filePath)
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	candidates := []string{
		filepath.Join(dir, "test_"+stem+".py"),
		filepath.Join(dir, stem+"_test.py"),
		filepath.Join(dir, "tests", "test_"+stem+".py"),
	}
	if root != "" {
		candidates = append(candidates,
			filepath.Join(root, "tests", "test_"+stem+".py"),
			filepath.Join(root, "test", "test_"+stem+".py"),
		)
		if rel, err := filepath.Rel(root, dir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			candidates = append(candidates, filepath.Join(root, "tests", rel, "test_"+stem+".py"))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

// coverageReport is the subset of coverage.py's JSON report we read.
type coverageReport struct {
	Files map[string]struct {
		Summary struct {
			PercentCovered float64 `json:"percent_covered"`
		} `json:"summary"`
		MissingLines []int `json:"missing_lines"`
	} `json:"files"`
}

func (tc *TestCoverage) measure(ctx context.Context, in types.AgentInput, testFile string) ([]types.Violation, error) {
	dir := in.Root
	if dir == "" {
		dir = filepath.Dir(in.FilePath)
	}
	tmp, err := os.MkdirTemp("", "sage-enforce-cov-*")
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	defer os.RemoveAll(tmp)
	reportPath := filepath.Join(tmp, "coverage.json")

	args := []string{
		"-q", "-p", "no:cacheprovider",
		"--cov=" + filepath.Dir(in.FilePath),
		"--cov-report=json:" + reportPath,
		testFile,
	}
	res, err := tc.runner.Run(ctx, tc.tool, args, tc.opts.sandboxConfig(tc.tool, dir))
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}

	var out []types.Violation
	switch res.ExitCode {
	case pytestOK, pytestNoTests:
	case pytestTestsFailed:
		out = append(out, types.Violation{
			File:       in.FilePath,
			Line:       1,
			Severity:   types.SeverityWarning,
			Rule:       RuleFailingTests,
			Message:    fmt.Sprintf("Tests in %s are failing", filepath.Base(testFile)),
			Suggestion: "Fix the failing tests; coverage is measured on a failing run",
		})
	default:
		return nil, fmt.Errorf("coverage: %s exited with code %d: %s", tc.tool, res.ExitCode, lastLine(res.Stderr, res.Stdout))
	}

	data, err := os.ReadFile(reportPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("coverage: %s produced no report (is pytest-cov installed?)", tc.tool)
	}
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	found, err := parseCoverageReport(data, in.FilePath, dir, tc.opts.CoverageThreshold)
	if err != nil {
		return nil, err
	}
	return append(out, found...), nil
}

func parseCoverageReport(data []byte, filePath, dir string, threshold float64) ([]types.Violation, error) {
	var report coverageReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("coverage: unparseable report: %w", err)
	}

	for key, entry := range report.Files {
		path := key
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if filepath.Clean(path) != filepath.Clean(filePath) {
			continue
		}

		var out []types.Violation
		pct := entry.Summary.PercentCovered
		if pct < threshold {
			out = append(out, types.Violation{
				File:       filePath,
				Line:       1,
				Severity:   types.SeverityWarning,
				Rule:       RuleInsufficientCoverage,
				Message:    fmt.Sprintf("Line coverage %.1f%% is below the %.0f%% threshold", pct, threshold),
				Suggestion: "Add tests for the uncovered lines",
			})
		}
		missing := append([]int(nil), entry.MissingLines...)
		sort.Ints(missing)
		for _, r := range lineRanges(missing) {
			msg := fmt.Sprintf("Line %d is not covered by tests", r[0])
			if r[1] > r[0] {
				msg = fmt.Sprintf("Lines %d-%d are not covered by tests", r[0], r[1])
			}
			out = append(out, types.Violation{
				File:     filePath,
				Line:     r[0],
				Severity: types.SeverityInfo,
				Rule:     RuleUncoveredLines,
				Message:  msg,
			})
		}
		return out, nil
	}

	return []types.Violation{{
		File:     filePath,
		Line:     1,
		Severity: types.SeverityInfo,
		Rule:     RuleCoverageUnavailable,
		Message:  "Module was not measured by the coverage run",
	}}, nil
}

// lastLine returns the last non-blank line of the first non-empty output.
func lastLine(outputs ...string) string {
	for _, o := range outputs {
		lines := splitLines(strings.TrimSpace(o))
		if len(lines) > 0 {
			return strings.TrimSpace(lines[len(lines)-1])
		}
	}
	return "no output"
}
