package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// SecurityScannerMetadata describes the security-scanner agent.
var SecurityScannerMetadata = types.AgentMetadata{
	Name:                SecurityScannerName,
	Description:         "Detects hardcoded secrets, SQL injection and dangerous dynamic execution",
	SupportedExtensions: []string{".py", ".pyi", ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx"},
}

// Rules reported by the security scanner.
const (
	RuleHardcodedSecret = "hardcoded-secret"
	RuleSQLInjection    = "sql-injection"
	RuleDangerousEval   = "dangerous-eval"
	RuleShellInjection  = "shell-injection"
)

type language int

const (
	langAny language = iota
	langPython
	langJS
)

func languageOf(path string) language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyi":
		return langPython
	default:
		return langJS
	}
}

type securityRule struct {
	rule       string
	lang       language
	severity   types.Severity
	pattern    *regexp.Regexp
	message    string
	suggestion string
	// secretGroup, when > 0, names the submatch holding a literal that is
	// checked against placeholder heuristics.
	secretGroup int
}

type ruleSpec struct {
	rule, pattern, message, suggestion string
	lang                               language
	severity                           types.Severity
	secretGroup                        int
}

var securityRuleSpecs = []ruleSpec{
	{
		rule:        RuleHardcodedSecret,
		pattern:     `(?i)\b(?:api[_-]?key|apikey|secret[_-]?key|client[_-]?secret|secret|password|passwd|pwd|auth[_-]?token|access[_-]?token|token|access[_-]?key|private[_-]?key)\b["']?\s*[:=]\s*["']([^"'\s]{8,})["']`,
		message:     "Hardcoded secret assigned to a credential-like name",
		suggestion:  "Load the value from the environment or a secret manager",
		severity:    types.SeverityError,
		secretGroup: 1,
	},
	{
		rule:        RuleHardcodedSecret,
		pattern:     `\b(AKIA[0-9A-Z]{16})\b`,
		message:     "AWS access key ID in source",
		suggestion:  "Rotate the key and load credentials from the environment",
		severity:    types.SeverityError,
		secretGroup: 1,
	},
	{
		rule:        RuleHardcodedSecret,
		pattern:     `\b(gh[pousr]_[A-Za-z0-9]{36,})\b`,
		message:     "GitHub token in source",
		suggestion:  "Revoke the token and load it from the environment",
		severity:    types.SeverityError,
		secretGroup: 1,
	},
	{
		rule:        RuleHardcodedSecret,
		pattern:     `\b(sk-(?:ant-)?[A-Za-z0-9_-]{20,})\b`,
		message:     "API secret key in source",
		suggestion:  "Revoke the key and load it from the environment",
		severity:    types.SeverityError,
		secretGroup: 1,
	},
	{
		rule:        RuleHardcodedSecret,
		pattern:     `\b(xox[abprs]-[A-Za-z0-9-]{10,})\b`,
		message:     "Slack token in source",
		suggestion:  "Revoke the token and load it from the environment",
		severity:    types.SeverityError,
		secretGroup: 1,
	},
	{
		rule:       RuleHardcodedSecret,
		pattern:    `-----BEGIN (?:RSA |EC |DSA |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`,
		message:    "Private key embedded in source",
		suggestion: "Store private keys outside the repository",
		severity:   types.SeverityError,
	},
	{
		rule:       RuleSQLInjection,
		lang:       langPython,
		pattern:    `\.(?:execute|executemany|executescript|raw)\s*\(\s*[rb]?f["']`,
		message:    "SQL built with an f-string is passed to execute()",
		suggestion: "Use parameterised queries: cursor.execute(sql, params)",
		severity:   types.SeverityError,
	},
	{
		rule:       RuleSQLInjection,
		lang:       langPython,
		pattern:    `\.(?:execute|executemany|raw)\s*\(\s*["'][^"']*["']\s*(?:%|\+|\.format\s*\()`,
		message:    "SQL built with string formatting is passed to execute()",
		suggestion: "Use parameterised queries: cursor.execute(sql, params)",
		severity:   types.SeverityError,
	},
	{
		rule:       RuleSQLInjection,
		lang:       langJS,
		pattern:    "\\.(?:query|execute|raw)\\s*\\(\\s*`[^`]*\\$\\{",
		message:    "SQL built with a template literal is passed to a query method",
		suggestion: "Use placeholders and pass values separately",
		severity:   types.SeverityError,
	},
	{
		rule:       RuleSQLInjection,
		pattern:    `(?i)["'](?:SELECT|INSERT|UPDATE|DELETE)\s[^"']*["']\s*\+\s*[A-Za-z_$]`,
		message:    "SQL statement concatenated with a variable",
		suggestion: "Use parameterised queries",
		severity:   types.SeverityError,
	},
	{
		rule:       RuleDangerousEval,
		lang:       langPython,
		pattern:    `(?:^|[^.\w])(?:eval|exec)\s*\(\s*[^"'\s)]`,
		message:    "eval/exec on a non-literal value",
		suggestion: "Use ast.literal_eval or explicit parsing",
		severity:   types.SeverityWarning,
	},
	{
		rule:       RuleDangerousEval,
		lang:       langJS,
		pattern:    `(?:^|[^.\w])eval\s*\(|\bnew\s+Function\s*\(`,
		message:    "Dynamic code evaluation",
		suggestion: "Avoid eval and new Function; parse data explicitly",
		severity:   types.SeverityWarning,
	},
	{
		rule:       RuleShellInjection,
		lang:       langPython,
		pattern:    `\bsubprocess\.\w+\s*\(.*\bshell\s*=\s*True`,
		message:    "subprocess call with shell=True",
		suggestion: "Pass an argument list and drop shell=True",
		severity:   types.SeverityWarning,
	},
	{
		rule:       RuleShellInjection,
		lang:       langPython,
		pattern:    `\bos\.(?:system|popen)\s*\(`,
		message:    "Command executed through the shell",
		suggestion: "Use subprocess.run with an argument list",
		severity:   types.SeverityWarning,
	},
	{
		rule:       RuleShellInjection,
		lang:       langJS,
		pattern:    "\\b(?:exec|execSync)\\s*\\(\\s*(?:`[^`]*\\$\\{|[\"'][^\"']*[\"']\\s*\\+)",
		message:    "Shell command built from interpolated input",
		suggestion: "Use execFile/spawn with an argument array",
		severity:   types.SeverityWarning,
	},
}

// SecurityScanner matches source lines against a table of insecure
// patterns.
type SecurityScanner struct {
	rules []securityRule
}

// NewSecurityScanner compiles the rule table.
func NewSecurityScanner() (*SecurityScanner, error) {
	rules := make([]securityRule, 0, len(securityRuleSpecs))
	for _, s := range securityRuleSpecs {
		re, err := regexp.Compile(s.pattern)
		if err != nil {
			return nil, fmt.Errorf("security rule %s: %w", s.rule, err)
		}
		rules = append(rules, securityRule{
			rule:        s.rule,
			lang:        s.lang,
			severity:    s.severity,
			pattern:     re,
			message:     s.message,
			suggestion:  s.suggestion,
			secretGroup: s.secretGroup,
		})
	}
	return &SecurityScanner{rules: rules}, nil
}

// Execute implements types.Agent.
func (ss *SecurityScanner) Execute(ctx context.Context, in types.AgentInput) (*types.AgentResult, error) {
	lang := languageOf(in.FilePath)
	var out []types.Violation

	for i, line := range splitLines(in.Content) {
		if isCommentLine(line) {
			continue
		}
		// One finding per rule per line.
		seen := make(map[string]bool)
		for _, r := range ss.rules {
			if r.lang != langAny && r.lang != lang {
				continue
			}
			key := r.rule
			if seen[key] {
				continue
			}
			m := r.pattern.FindStringSubmatchIndex(line)
			if m == nil {
				continue
			}
			if r.secretGroup > 0 && m[2*r.secretGroup] >= 0 {
				if isPlaceholderSecret(line[m[2*r.secretGroup]:m[2*r.secretGroup+1]]) {
					continue
				}
			}
			seen[key] = true
			out = append(out, types.Violation{
				File:       in.FilePath,
				Line:       i + 1,
				Column:     types.Col(m[0]),
				Severity:   r.severity,
				Rule:       r.rule,
				Message:    r.message,
				Suggestion: r.suggestion,
			})
		}
	}
	return types.NewAgentResult(out), nil
}

var (
	placeholderWords = []string{
		"example", "placeholder", "your-", "your_", "replace", "insert",
		"changeme", "change-me", "change_me", "dummy", "sample", "fake",
		"test-key", "testkey", "test_key", "my-key", "mykey", "my_key",
		"redacted", "-here", "_here", "here>", "file-value", "env-value",
		"some-value", "value-here",
	}
	repeatedFillerPattern = regexp.MustCompile(`(?i)x{4,}|\*{3,}|0{8,}|\.{3,}`)
	wrappedPlaceholder    = regexp.MustCompile(`^(?:<[^>]+>|\[[^\]]+\]|\{[^}]+\}|\$\{[^}]+\})$`)
)

// isPlaceholderSecret reports whether a secret-looking literal is an
// obvious placeholder rather than a real credential.
func isPlaceholderSecret(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return true
	}
	if wrappedPlaceholder.MatchString(v) || repeatedFillerPattern.MatchString(v) {
		return true
	}
	lower := strings.ToLower(v)
	for _, w := range placeholderWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
