// Package filter compresses an aggregated violation list into a bounded,
// severity-prioritised result.
package filter

import (
	"sort"

	"github.com/dotcommander/sage-enforce/internal/types"
)

// DefaultLimitPerSeverity is used when a caller does not specify a limit.
const DefaultLimitPerSeverity = 10

// BucketStats describes one severity bucket.
// Returned + Truncated always equals Total.
type BucketStats struct {
	Total     int `json:"total"`
	Returned  int `json:"returned"`
	Truncated int `json:"truncated"`
}

// Metadata describes what a filter pass kept and dropped.
type Metadata struct {
	Total      int                            `json:"total"`
	Truncated  int                            `json:"truncated"`
	BySeverity map[types.Severity]BucketStats `json:"bySeverity"`
}

// Returned is the number of violations kept across all buckets.
func (m Metadata) Returned() int {
	return m.Total - m.Truncated
}

// Bucket returns the stats for one severity.
func (m Metadata) Bucket(s types.Severity) BucketStats {
	return m.BySeverity[s]
}

// Result is the bounded violation list plus its metadata.
type Result struct {
	Violations []types.Violation `json:"violations"`
	Metadata   Metadata          `json:"metadata"`
}

// Empty returns a zero result with every severity bucket present.
func Empty() *Result {
	return Filter(nil, 0)
}

// Filter partitions violations by severity, sorts each bucket by line,
// keeps at most limitPerSeverity entries per bucket and concatenates the
// kept entries in priority order: errors, then warnings, then info.
//
// Buckets truncate independently. Ties on line are broken by rule and then
// message, and remaining ties keep input order, so the output does not
// depend on the order in which concurrent agents finished. A limit of zero
// or less keeps nothing but still reports accurate totals.
func Filter(violations []types.Violation, limitPerSeverity int) *Result {
	if limitPerSeverity < 0 {
		limitPerSeverity = 0
	}

	buckets := make(map[types.Severity][]types.Violation, len(types.Severities))
	for _, v := range violations {
		buckets[v.Severity] = append(buckets[v.Severity], v)
	}

	res := &Result{
		Violations: make([]types.Violation, 0, min(len(violations), limitPerSeverity*len(types.Severities))),
		Metadata: Metadata{
			BySeverity: make(map[types.Severity]BucketStats, len(types.Severities)),
		},
	}

	for _, sev := range types.Severities {
		bucket := buckets[sev]
		sort.SliceStable(bucket, func(i, j int) bool {
			return less(bucket[i], bucket[j])
		})

		kept := min(len(bucket), limitPerSeverity)
		res.Violations = append(res.Violations, bucket[:kept]...)

		stats := BucketStats{
			Total:     len(bucket),
			Returned:  kept,
			Truncated: len(bucket) - kept,
		}
		res.Metadata.BySeverity[sev] = stats
		res.Metadata.Total += stats.Total
		res.Metadata.Truncated += stats.Truncated
	}

	return res
}

// less orders violations within one severity bucket.
func less(a, b types.Violation) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Rule != b.Rule {
		return a.Rule < b.Rule
	}
	return a.Message < b.Message
}
