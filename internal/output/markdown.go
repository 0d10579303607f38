package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// MarkdownFormatter formats output as Markdown
type MarkdownFormatter struct {
	w       io.Writer
	verbose bool
}

// NewMarkdownFormatter creates a new MarkdownFormatter
func NewMarkdownFormatter(w io.Writer, verbose bool) *MarkdownFormatter {
	return &MarkdownFormatter{w: w, verbose: verbose}
}

// Format writes the report as Markdown
func (f *MarkdownFormatter) Format(report *Report) error {
	var b strings.Builder
	t := report.Totals()

	b.WriteString("# sage-enforce Report\n\n")
	b.WriteString(fmt.Sprintf("**Generated:** %s\n\n", time.Now().Format("2006-01-02 15:04:05")))
	if report.Root != "" {
		b.WriteString(fmt.Sprintf("**Project:** `%s`\n\n", report.Root))
	}
	if !report.StartTime.IsZero() {
		b.WriteString(fmt.Sprintf("**Duration:** %v\n\n", time.Since(report.StartTime).Round(time.Millisecond)))
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Count |\n")
	b.WriteString("|--------|-------|\n")
	b.WriteString(fmt.Sprintf("| Files | %d |\n", len(report.Files)+len(report.FileErrors)))
	b.WriteString(fmt.Sprintf("| Errors | %d |\n", t.Errors))
	b.WriteString(fmt.Sprintf("| Warnings | %d |\n", t.Warnings))
	b.WriteString(fmt.Sprintf("| Info | %d |\n", t.Info))
	b.WriteString(fmt.Sprintf("| Shown | %d |\n", t.Total-t.Truncated))
	b.WriteString(fmt.Sprintf("| Truncated | %d |\n", t.Truncated))
	b.WriteString(fmt.Sprintf("| Agent failures | %d |\n", report.AgentErrorCount()))
	b.WriteString("\n")

	if len(report.FileErrors) > 0 {
		b.WriteString("## Skipped Files\n\n")
		for _, fe := range report.FileErrors {
			b.WriteString(fmt.Sprintf("- `%s`: %s (%s)\n", displayPath(report.Root, fe.FilePath), fe.Error, fe.Context))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Results\n\n")
	written := 0
	for _, file := range report.Files {
		if file.Statistics.Total == 0 && len(file.AgentErrors) == 0 && !f.verbose {
			continue
		}
		written++
		f.writeFile(&b, report.Root, file)
	}
	if written == 0 {
		b.WriteString("*No violations found.*\n")
	}

	if _, err := io.WriteString(f.w, b.String()); err != nil {
		return fmt.Errorf("error writing markdown: %w", err)
	}
	return nil
}

func (f *MarkdownFormatter) writeFile(b *strings.Builder, root string, file FileReport) {
	b.WriteString(fmt.Sprintf("### %s\n\n", displayPath(root, file.FilePath)))
	b.WriteString(fmt.Sprintf("Agents: %s\n\n", strings.Join(quoteAll(file.AgentsExecuted), ", ")))
	b.WriteString(fmt.Sprintf("Showing %d of %d violations (%d%% reduction)\n\n",
		file.Filtered.Shown, file.Filtered.Total, file.Filtered.ReductionPercent))

	if len(file.Violations) > 0 {
		b.WriteString("| Severity | Line | Rule | Message |\n")
		b.WriteString("|----------|------|------|---------|\n")
		for _, v := range file.Violations {
			msg := escapeCell(v.Message)
			if f.verbose && v.Suggestion != "" {
				msg += "<br>*" + escapeCell(v.Suggestion) + "*"
			}
			b.WriteString(fmt.Sprintf("| %s | %s | `%s` | %s |\n", severityLabel(v.Severity), lineLabel(v), v.Rule, msg))
		}
		b.WriteString("\n")
	}

	if len(file.AgentErrors) > 0 {
		b.WriteString("#### Agent Failures\n\n")
		for _, ae := range file.AgentErrors {
			b.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", ae.Agent, ae.Kind(), escapeCell(ae.Err.Error())))
		}
		b.WriteString("\n")
	}
}

func severityLabel(s types.Severity) string {
	switch s {
	case types.SeverityError:
		return "❌ error"
	case types.SeverityWarning:
		return "⚠️ warning"
	default:
		return "ℹ️ info"
	}
}

func lineLabel(v types.Violation) string {
	if v.Column != nil {
		return fmt.Sprintf("%d:%d", v.Line, *v.Column)
	}
	return fmt.Sprintf("%d", v.Line)
}

// escapeCell keeps a value inside one table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "`" + n + "`"
	}
	return out
}
