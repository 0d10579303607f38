package outputters

import (
	"fmt"
	"io"
	"os"

	"github.com/dotcommander/sage-enforce/internal/config"
	"github.com/dotcommander/sage-enforce/internal/output"
)

// Outputter handles output formatting
type Outputter struct {
	config *config.Config
	stdout io.Writer
}

// NewOutputter creates a new Outputter writing to stdout unless the
// configuration names an output file.
func NewOutputter(cfg *config.Config, stdout io.Writer) *Outputter {
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Outputter{config: cfg, stdout: stdout}
}

// Formatter creates the formatter for format writing to w.
func (o *Outputter) Formatter(format string, w io.Writer, batch bool) (output.Formatter, error) {
	switch format {
	case "console":
		return output.NewConsoleFormatter(w, o.config.Quiet, o.config.Verbose), nil
	case "json":
		return output.NewJSONFormatter(w, true, batch), nil
	case "markdown":
		return output.NewMarkdownFormatter(w, o.config.Verbose), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Format renders report in the configured format. batch forces the JSON
// batch document even for a single file.
func (o *Outputter) Format(report *output.Report, batch bool) error {
	if report.Root == "" {
		report.Root = o.config.Root
	}

	w := o.stdout
	if o.config.Output != "" {
		f, err := os.Create(o.config.Output)
		if err != nil {
			return fmt.Errorf("error creating output file %s: %w", o.config.Output, err)
		}
		defer f.Close()
		w = f
	}

	formatter, err := o.Formatter(o.config.Format, w, batch)
	if err != nil {
		return err
	}
	return formatter.Format(report)
}
