// Package output renders enforcement results as console text, JSON or
// Markdown.
package output

import (
	"errors"
	"math"
	"time"

	"github.com/dotcommander/sage-enforce/internal/discovery"
	"github.com/dotcommander/sage-enforce/internal/enforce"
	"github.com/dotcommander/sage-enforce/internal/filter"
	"github.com/dotcommander/sage-enforce/internal/types"
)

// Filtered describes how much the filter kept.
type Filtered struct {
	Shown            int `json:"shown"`
	Total            int `json:"total"`
	ReductionPercent int `json:"reductionPercent"`
}

// Statistics counts every violation found, before truncation.
type Statistics struct {
	Errors     int                                   `json:"errors"`
	Warnings   int                                   `json:"warnings"`
	Info       int                                   `json:"info"`
	Total      int                                   `json:"total"`
	Truncated  int                                   `json:"truncated"`
	BySeverity map[types.Severity]filter.BucketStats `json:"bySeverity"`
	DurationMs int64                                 `json:"durationMs"`
}

// FileReport is the response envelope for one enforced file.
type FileReport struct {
	ID             string               `json:"id,omitempty"`
	FilePath       string               `json:"filePath"`
	AgentsExecuted []string             `json:"agentsExecuted"`
	Statistics     Statistics           `json:"statistics"`
	Filtered       Filtered             `json:"filtered"`
	Violations     []types.Violation    `json:"violations"`
	AgentErrors    []enforce.AgentError `json:"agentErrors"`
}

// ErrorEnvelope is the response for a request that failed before any agent
// ran.
type ErrorEnvelope struct {
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Context string `json:"context"`
}

// Error contexts.
const (
	ContextPathValidation = "path-validation"
	ContextRequest        = "request"
	ContextRead           = "read"
	ContextInternal       = "internal"
)

// NewErrorEnvelope wraps err with a context derived from its type when
// context is empty.
func NewErrorEnvelope(err error, context string) ErrorEnvelope {
	if context == "" {
		context = ErrorContext(err)
	}
	return ErrorEnvelope{Error: err.Error(), Context: context}
}

// ErrorContext classifies err for an error envelope.
func ErrorContext(err error) string {
	switch {
	case errors.Is(err, discovery.ErrPathTraversal),
		errors.Is(err, discovery.ErrNotFound),
		errors.Is(err, discovery.ErrNotAFile):
		return ContextPathValidation
	default:
		return ContextInternal
	}
}

// ReductionPercent is the share of violations the filter dropped, rounded
// to a whole percent. It is 0 when nothing was found.
func ReductionPercent(total, shown int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(total-shown) / float64(total)))
}

// NewFileReport builds the envelope for res.
func NewFileReport(res *enforce.Result) FileReport {
	meta := res.Filtered.Metadata
	summary := res.Summary()
	shown := len(res.Filtered.Violations)

	violations := res.Filtered.Violations
	if violations == nil {
		violations = []types.Violation{}
	}
	agentsExecuted := res.AgentsExecuted
	if agentsExecuted == nil {
		agentsExecuted = []string{}
	}
	agentErrors := res.AgentErrors
	if agentErrors == nil {
		agentErrors = []enforce.AgentError{}
	}

	return FileReport{
		FilePath:       res.FilePath,
		AgentsExecuted: agentsExecuted,
		Statistics: Statistics{
			Errors:     summary.Errors,
			Warnings:   summary.Warnings,
			Info:       summary.Info,
			Total:      meta.Total,
			Truncated:  meta.Truncated,
			BySeverity: meta.BySeverity,
			DurationMs: res.Duration.Milliseconds(),
		},
		Filtered: Filtered{
			Shown:            shown,
			Total:            meta.Total,
			ReductionPercent: ReductionPercent(meta.Total, shown),
		},
		Violations:  violations,
		AgentErrors: agentErrors,
	}
}

// FileError is a file of a batch that could not be enforced.
type FileError struct {
	FilePath string `json:"filePath"`
	Error    string `json:"error"`
	Context  string `json:"context"`
}

// Report is everything one command run produced.
type Report struct {
	Root       string
	Files      []FileReport
	FileErrors []FileError
	StartTime  time.Time
}

// NewReport builds a report from batch results.
func NewReport(root string, results []enforce.FileResult, start time.Time) *Report {
	r := &Report{Root: root, StartTime: start}
	for _, fr := range results {
		r.Add(fr.Path, fr.Result, fr.Err)
	}
	return r
}

// Add records the outcome for one file.
func (r *Report) Add(path string, res *enforce.Result, err error) {
	if err != nil {
		r.FileErrors = append(r.FileErrors, FileError{FilePath: path, Error: err.Error(), Context: ErrorContext(err)})
		return
	}
	r.Files = append(r.Files, NewFileReport(res))
}

// Totals sums statistics over every file.
func (r *Report) Totals() Statistics {
	var s Statistics
	for _, f := range r.Files {
		s.Errors += f.Statistics.Errors
		s.Warnings += f.Statistics.Warnings
		s.Info += f.Statistics.Info
		s.Total += f.Statistics.Total
		s.Truncated += f.Statistics.Truncated
	}
	return s
}

// AgentErrorCount counts agent failures over every file.
func (r *Report) AgentErrorCount() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.AgentErrors)
	}
	return n
}

// HasViolationsAtLeast reports whether any file found a violation at or
// above threshold, counting truncated ones.
func (r *Report) HasViolationsAtLeast(threshold types.Severity) bool {
	t := r.Totals()
	counts := map[types.Severity]int{
		types.SeverityError:   t.Errors,
		types.SeverityWarning: t.Warnings,
		types.SeverityInfo:    t.Info,
	}
	for sev, n := range counts {
		if n > 0 && sev.AtLeast(threshold) {
			return true
		}
	}
	return false
}
