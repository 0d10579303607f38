package enforce

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/sage-enforce/internal/discovery"
)

// DefaultConcurrency bounds EnforceAll when the caller passes zero.
const DefaultConcurrency = 4

// FileResult is the outcome for one file of a batch.
// Exactly one of Result and Err is set.
type FileResult struct {
	Path    string
	RelPath string
	Result  *Result
	Err     error
}

// EnforceAll enforces every file that has at least one applicable agent,
// running at most concurrency files at once. Results keep the order of
// files. A failure on one file is recorded in its FileResult and does not
// stop the batch; only ctx ending does.
func (o *Orchestrator) EnforceAll(ctx context.Context, files []discovery.File, limitPerSeverity, concurrency int) ([]FileResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var selected []discovery.File
	for _, f := range files {
		if len(o.agents.ApplicableAgents(f.Path)) > 0 {
			selected = append(selected, f)
		}
	}

	results := make([]FileResult, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, f := range selected {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := o.EnforceFile(gctx, f.Path, limitPerSeverity)
			results[i] = FileResult{Path: f.Path, RelPath: f.RelPath, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
