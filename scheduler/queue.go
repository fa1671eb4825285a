package scheduler

import "go-synth/port"

// stageQueue tracks one stage's in-flight and backlogged ports, per
// spec.md §4.7: active (in-flight, bounded by cap), ready (admissible but
// waiting on a free slot). Stalled ports — blocked on dependency
// resolution or a prerequisite stage — are not tracked as a distinct
// slice here: Scheduler.promote re-derives stalled state on demand from
// each port's own Advance/Check result instead of maintaining a second
// parallel queue that could drift out of sync with it.
type stageQueue struct {
	stage  port.Stage
	active int
	ready  []*port.Port
}
