// Package sched defines the priority scheduling rule shared by all
// broker backends: lowest priority value first, FIFO by enqueue time
// within a priority band. Default priorities per workload class are a
// producer decision; the scheduler only enforces the ordering.
package sched

import (
	"time"

	"github.com/hirewire/workq/job"
)

// Less reports whether job a should be dispatched before job b.
func Less(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// scoreEpoch anchors the enqueue-time component of Score so it stays
// far below the band separation for the next century.
var scoreEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// bandWidth separates priority bands in Score. Milliseconds since
// scoreEpoch stay under 2^42 until the 2160s, so the time component
// never bleeds into the neighboring band.
const bandWidth = int64(1) << 42

// Score maps a job's priority and enqueue time onto a single sort key
// for sorted-set backed brokers. Lower scores are dequeued first. The
// score is an integer — priority*2^42 + milliseconds since scoreEpoch —
// so it stays exact in a float64 (which holds integers up to 2^53) and
// same-band jobs one millisecond apart always order FIFO. Priorities
// outside ±2047 push the product past 2^53 and lose millisecond
// resolution.
func Score(priority int, enqueuedAt time.Time) float64 {
	ms := enqueuedAt.Sub(scoreEpoch).Milliseconds()
	return float64(int64(priority)*bandWidth + ms)
}
