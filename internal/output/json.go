package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	w      io.Writer
	indent bool
	batch  bool
}

// NewJSONFormatter creates a new JSONFormatter. Unless batch is set, a
// report with exactly one file and no file errors is written as that
// file's envelope.
func NewJSONFormatter(w io.Writer, indent, batch bool) *JSONFormatter {
	return &JSONFormatter{w: w, indent: indent, batch: batch}
}

// JSONReport is the batch document.
type JSONReport struct {
	Root       string       `json:"root,omitempty"`
	Summary    JSONSummary  `json:"summary"`
	Files      []FileReport `json:"files"`
	FileErrors []FileError  `json:"fileErrors"`
}

// JSONSummary contains summary statistics
type JSONSummary struct {
	TotalFiles  int    `json:"totalFiles"`
	FailedFiles int    `json:"failedFiles"`
	Errors      int    `json:"errors"`
	Warnings    int    `json:"warnings"`
	Info        int    `json:"info"`
	Total       int    `json:"total"`
	Truncated   int    `json:"truncated"`
	AgentErrors int    `json:"agentErrors"`
	Duration    string `json:"duration,omitempty"`
	GeneratedAt string `json:"generatedAt"`
}

// Format writes the report as JSON
func (f *JSONFormatter) Format(report *Report) error {
	var doc any
	if !f.batch && len(report.Files) == 1 && len(report.FileErrors) == 0 {
		doc = report.Files[0]
	} else {
		doc = newJSONReport(report)
	}

	var data []byte
	var err error
	if f.indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}
	if _, err := fmt.Fprintln(f.w, string(data)); err != nil {
		return fmt.Errorf("error writing JSON: %w", err)
	}
	return nil
}

func newJSONReport(report *Report) JSONReport {
	t := report.Totals()
	files := report.Files
	if files == nil {
		files = []FileReport{}
	}
	fileErrors := report.FileErrors
	if fileErrors == nil {
		fileErrors = []FileError{}
	}
	out := JSONReport{
		Root: report.Root,
		Summary: JSONSummary{
			TotalFiles:  len(report.Files) + len(report.FileErrors),
			FailedFiles: len(report.FileErrors),
			Errors:      t.Errors,
			Warnings:    t.Warnings,
			Info:        t.Info,
			Total:       t.Total,
			Truncated:   t.Truncated,
			AgentErrors: report.AgentErrorCount(),
			GeneratedAt: time.Now().Format(time.RFC3339),
		},
		Files:      files,
		FileErrors: fileErrors,
	}
	if !report.StartTime.IsZero() {
		out.Summary.Duration = time.Since(report.StartTime).Round(time.Millisecond).String()
	}
	return out
}
