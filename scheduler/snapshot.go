package scheduler

import "go-synth/port"

// StageSnapshot is one stage's live queue depths, part of the Monitor
// contract (spec.md §4.7/§6): active in-flight jobs and the backlog
// waiting for a free slot.
type StageSnapshot struct {
	Stage  port.Stage
	Active int
	Ready  int
	Cap    int
}

// Snapshot is the scheduler's contribution to the Monitor UI: per-stage
// queue depths plus overall port counts by terminal state. Scheduler.Snapshot
// takes no lock, so it races with the loop goroutine while Run is active.
type Snapshot struct {
	Stages    []StageSnapshot
	Total     int
	Installed int
	Failed    int
}

// Port returns the registered Port for origin, for callers inspecting
// final state after Run has returned (e.g. a caller summarizing a
// completed build). Like Snapshot, safe only once the loop goroutine is
// no longer mutating Scheduler state.
func (s *Scheduler) Port(origin string) (*port.Port, bool) {
	p, ok := s.ports[origin]
	return p, ok
}

// Snapshot computes a point-in-time view of scheduler state. It reads
// Scheduler state without synchronization, so it is safe only when no Run
// loop is mutating that state concurrently: after Run has returned, or in
// tests that construct a Scheduler without running Run. Run itself has no
// request channel that serves snapshots.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{}
	for _, st := range []port.Stage{port.StageConfig, port.StageFetch, port.StageBuild, port.StageInstall, port.StagePackage, port.StageClean} {
		sq := s.queues[st]
		snap.Stages = append(snap.Stages, StageSnapshot{
			Stage:  st,
			Active: sq.active,
			Ready:  len(sq.ready),
			Cap:    s.capFor(st),
		})
	}
	for _, p := range s.ports {
		snap.Total++
		if p.InstallStatus() != port.Absent {
			snap.Installed++
		}
		if p.Failed() {
			snap.Failed++
		}
	}
	return snap
}
