package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// Formatter renders a report.
type Formatter interface {
	Format(report *Report) error
}

// ConsoleFormatter formats output for console display
type ConsoleFormatter struct {
	w        io.Writer
	quiet    bool
	verbose  bool
	colorize bool
}

// NewConsoleFormatter creates a new ConsoleFormatter. Colour is used only
// when w is a terminal.
func NewConsoleFormatter(w io.Writer, quiet, verbose bool) *ConsoleFormatter {
	return &ConsoleFormatter{
		w:        w,
		quiet:    quiet,
		verbose:  verbose,
		colorize: isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (f *ConsoleFormatter) style(color string) lipgloss.Style {
	if !f.colorize {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func (f *ConsoleFormatter) severityStyle(s types.Severity) lipgloss.Style {
	switch s {
	case types.SeverityError:
		return f.style("9") // red
	case types.SeverityWarning:
		return f.style("3") // yellow
	default:
		return f.style("7") // gray
	}
}

func severityMarker(s types.Severity) string {
	switch s {
	case types.SeverityError:
		return "✘"
	case types.SeverityWarning:
		return "⚠"
	default:
		return "ℹ"
	}
}

// Format writes the report to the console
func (f *ConsoleFormatter) Format(report *Report) error {
	if f.quiet {
		return nil
	}

	for _, fe := range report.FileErrors {
		fmt.Fprintf(f.w, "%s %s: %s\n", f.style("9").Render("✗"), displayPath(report.Root, fe.FilePath), fe.Error)
	}
	for _, file := range report.Files {
		f.printFile(report.Root, file)
	}
	f.printSummary(report)
	return nil
}

func (f *ConsoleFormatter) printFile(root string, file FileReport) {
	stats := file.Statistics
	if stats.Total == 0 && len(file.AgentErrors) == 0 && !f.verbose {
		return
	}

	status := f.style("10").Render("✓")
	switch {
	case stats.Errors > 0:
		status = f.style("9").Render("✗")
	case stats.Warnings > 0 || len(file.AgentErrors) > 0:
		status = f.style("3").Render("⚠")
	}
	path := displayPath(root, file.FilePath)
	fmt.Fprintf(f.w, "%s %s\n", status, path)
	if f.verbose {
		fmt.Fprintf(f.w, "    %s\n", f.style("8").Render(fmt.Sprintf("agents: %v (%dms)", file.AgentsExecuted, stats.DurationMs)))
	}

	for _, v := range file.Violations {
		loc := fmt.Sprintf("%s:%d", path, v.Line)
		if v.Column != nil {
			loc = fmt.Sprintf("%s:%d", loc, *v.Column)
		}
		sty := f.severityStyle(v.Severity)
		fmt.Fprintf(f.w, "    %s %s: %s %s\n", sty.Render(severityMarker(v.Severity)), sty.Render(loc), v.Message, f.style("8").Render("["+v.Rule+"]"))
		if f.verbose && v.Suggestion != "" {
			fmt.Fprintf(f.w, "      → %s\n", v.Suggestion)
		}
	}

	for _, sev := range []types.Severity{types.SeverityError, types.SeverityWarning, types.SeverityInfo} {
		if n := stats.BySeverity[sev].Truncated; n > 0 {
			fmt.Fprintf(f.w, "    %s\n", f.style("8").Render(fmt.Sprintf("… %d more %s not shown", n, plural(n, sev.String()))))
		}
	}

	for _, ae := range file.AgentErrors {
		fmt.Fprintf(f.w, "    %s %s\n", f.style("3").Render("!"), ae.Error())
	}
}

func (f *ConsoleFormatter) printSummary(report *Report) {
	t := report.Totals()
	shown := t.Total - t.Truncated
	files := len(report.Files) + len(report.FileErrors)

	if t.Total == 0 && len(report.FileErrors) == 0 && report.AgentErrorCount() == 0 {
		msg := fmt.Sprintf("✓ No violations in %d %s", files, plural(files, "file"))
		if f.colorize {
			fmt.Fprintln(f.w, lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Render(msg))
		} else {
			fmt.Fprintln(f.w, msg)
		}
		return
	}

	line := fmt.Sprintf("\n%d %s, %d errors, %d warnings, %d info (%d shown",
		files, plural(files, "file"), t.Errors, t.Warnings, t.Info, shown)
	if t.Truncated > 0 {
		line += fmt.Sprintf(", %d truncated", t.Truncated)
	}
	line += ")"
	if !report.StartTime.IsZero() {
		line += fmt.Sprintf(" (%v)", time.Since(report.StartTime).Round(time.Millisecond))
	}
	fmt.Fprintln(f.w, line)
	if n := report.AgentErrorCount(); n > 0 {
		fmt.Fprintf(f.w, "%d %s failed; results may be incomplete\n", n, plural(n, "agent run"))
	}
}

// displayPath shows path relative to root when it is inside it.
func displayPath(root, path string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return path
	}
	return filepath.ToSlash(rel)
}

func plural(n int, word string) string {
	if n == 1 || word == "info" {
		return word
	}
	return word + "s"
}
