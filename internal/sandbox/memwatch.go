package sandbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// maxTreeDepth bounds how far child processes are followed when summing RSS.
const maxTreeDepth = 4

// watchMemory samples the resident set of pid and its descendants until ctx
// ends. It returns true as soon as the total exceeds limit bytes. The
// highest total seen is kept in peak.
func watchMemory(ctx context.Context, pid int32, limit uint64, interval time.Duration, peak *atomic.Uint64) bool {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rss := treeRSS(ctx, proc, 0)
		if rss > peak.Load() {
			peak.Store(rss)
		}
		if rss > limit {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// treeRSS returns the resident memory of p plus its descendants. Processes
// that exit mid-sample count as zero.
func treeRSS(ctx context.Context, p *process.Process, depth int) uint64 {
	var total uint64
	if info, err := p.MemoryInfoWithContext(ctx); err == nil && info != nil {
		total = info.RSS
	}
	if depth >= maxTreeDepth {
		return total
	}
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return total
	}
	for _, c := range children {
		total += treeRSS(ctx, c, depth+1)
	}
	return total
}
