// Package port implements the Port entity and its stage state machine,
// spec.md §4.3: the per-package attribute descriptor plus the five-step
// precondition ladder that advances a port through Config, Fetch, Build,
// Install, and Package.
package port

import (
	"fmt"
	"sync/atomic"
	"time"

	"go-synth/depgraph"
)

// Origin is a port's stable identifier: a relative path within the ports
// tree, e.g. "editors/vim" (spec.md §3).
type Origin string

// Runner is the subset of the subprocess layer a Port needs in order to
// advance a stage: dispatch the stage's external command and report back
// success/failure. Implemented by runner.Runner; kept as an interface here
// so port has no dependency on process-spawning machinery (and so tests can
// supply a trivial stub).
type Runner interface {
	// RunStage dispatches the external command set for the given stage
	// (spec.md §6's build-tool invocation contract) and blocks until it
	// completes. Returns true on success.
	RunStage(p *Port, stage Stage) bool
}

// Port is the package entity of spec.md §2/§3: attributes, install status,
// current stage, failed flag, working timestamp, and its DependHandler.
//
// Port is only ever mutated from the single-threaded scheduler event loop
// (spec.md §5) — it carries no internal mutex. The one field read from
// other goroutines is attrs, via the atomic.Pointer swap described in
// spec.md §9 ("attribute-map mutation after Config... model this as
// replacement, not mutation").
type Port struct {
	origin Origin
	attrs  atomic.Pointer[Attributes]

	installStatus InstallStatus
	stage         Stage
	working       time.Time
	failed        bool

	depends *depgraph.Handler

	waiters []chan struct{} // closed, one-shot, on every finalize() call
}

// New constructs a Port for origin. Attributes are attached afterward via
// SetAttributes once the attribute loader completes (spec.md §4.2:
// construction completes, then attributes are frozen).
func New(origin Origin) *Port {
	p := &Port{origin: origin}
	p.depends = depgraph.New(p, nil)
	return p
}

// SetLogger rewires the Handler's diagnostic sink. Called once by
// portcache right after New, before any AddDependency calls, so stale/
// duplicate warnings reach the real logger instead of the no-op default.
func (p *Port) SetLogger(logger depgraph.Logger) {
	p.depends = depgraph.New(p, logger)
}

// Origin implements depgraph.Owner.
func (p *Port) Origin() string { return string(p.origin) }

// Failed implements depgraph.Owner.
func (p *Port) Failed() bool { return p.failed }

// Installed implements depgraph.Owner.
func (p *Port) Installed() bool { return p.installStatus != Absent }

// Attributes returns the current (possibly nil, before construction
// completes) attribute map.
func (p *Port) Attributes() *Attributes { return p.attrs.Load() }

// SetAttributes freezes a new attribute map, replacing rather than
// mutating the previous one (spec.md §9: re-Config swaps a wholly new map
// under the loop, never edits fields in place).
func (p *Port) SetAttributes(a *Attributes) { p.attrs.Store(a) }

// Depends returns the port's DependHandler, allocating it lazily on first
// access per spec.md §3's lifecycle note. In practice New() already
// allocates it (Owner must exist before the Handler can call back into it),
// so this is just the accessor.
func (p *Port) Depends() *depgraph.Handler { return p.depends }

func (p *Port) Stage() Stage               { return p.stage }
func (p *Port) Working() time.Time         { return p.working }
func (p *Port) IsWorking() bool            { return !p.working.IsZero() }
func (p *Port) InstallStatus() InstallStatus { return p.installStatus }

// waitForCompletion returns a channel that is closed the next time
// finalize() runs on this port (successful or not). The scheduler uses
// this, not a busy poll, to implement spec.md §4.3 precondition 2's
// "wait otherwise".
func (p *Port) waitForCompletion() <-chan struct{} {
	ch := make(chan struct{})
	p.waiters = append(p.waiters, ch)
	return ch
}

func (p *Port) wakeWaiters() {
	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil
}

// AdvanceResult is returned by Advance: either the port reached stage S (or
// beyond) without failing, or it needs the caller to await something before
// retrying, or it has permanently failed.
type AdvanceResult int

const (
	// AdvanceDone means the port is not failed and is either already past
	// S, or has finished S-1 with S admitted by its dependencies, so the
	// caller may dispatch S now.
	AdvanceDone AdvanceResult = iota
	// AdvanceFailed means the port's failed flag is set; S will never be
	// reached without an intervening clean.
	AdvanceFailed
	// AdvanceWait means the caller must wait on the returned channel (a
	// prerequisite stage is in flight, or dependencies are not yet
	// resolved) and call Advance again.
	AdvanceWait
)

// Advance attempts to move the port to stage S, implementing the
// five-step precondition ladder of spec.md §4.3 exactly. It performs at
// most one admission decision per call: callers (the scheduler) loop,
// awaiting the returned channel between calls, until AdvanceDone or
// AdvanceFailed.
func (p *Port) Advance(S Stage) (AdvanceResult, <-chan struct{}) {
	// 1. failed is terminal.
	if p.failed {
		return AdvanceFailed, nil
	}

	// 2. working: wait for the in-flight stage; if it lands us at >= S
	// and we're not failed, that's a trivial success once it completes.
	if p.IsWorking() {
		return AdvanceWait, p.waitForCompletion()
	}

	// 3. already past S.
	if p.stage > S {
		return AdvanceDone, nil
	}

	// 4. need an earlier stage first.
	if p.stage < S-1 {
		return AdvanceWait, p.waitForCompletion()
	}

	// 5. dependency-resolution gate, Config exempt.
	if S > StageConfig {
		switch p.depends.Check(S.depgraphStage()) {
		case depgraph.Resolved, depgraph.PartlyResolved:
			// admissible
		case depgraph.Failure, depgraph.Unresolved:
			p.setFailed(true)
			return AdvanceFailed, nil
		}
	}

	return AdvanceDone, nil
}

// BeginWork marks the port as having an in-flight stage, called by the
// scheduler on its single event-loop goroutine at the moment a stage is
// admitted — before the actual subprocess is spawned asynchronously. This
// keeps the working/failed/stage fields mutated only from the loop, per
// spec.md §5.
func (p *Port) BeginWork(now time.Time) {
	p.working = now
}

// Finalize applies the outcome of a completed stage to the port, per
// spec.md §4.3's finalize semantics, including Design Note #1's
// resolution of the Install-finalizer Open Question: install_status is set
// to Current iff success, full stop.
func (p *Port) Finalize(stage Stage, success bool) (needsClean bool) {
	p.working = time.Time{}

	wasFailed := p.failed
	if success {
		if p.stage < stage {
			p.stage = stage
		}
	} else {
		p.setFailed(true)
	}

	if success && stage == StageInstall {
		p.installStatus = Current
		p.depends.StatusChanged()
	}

	if wasFailed != p.failed {
		p.depends.StatusChanged()
	}

	needsClean = (!success && stage > StageFetch) || stage == StageInstall

	p.wakeWaiters()
	return needsClean
}

func (p *Port) setFailed(v bool) {
	if p.failed == v {
		return
	}
	p.failed = v
	p.depends.StatusChanged()
}

// MarkFailedAtShutdown implements spec.md §5's cancellation rule: a port
// that is working when the process is asked to stop is treated as failed.
func (p *Port) MarkFailedAtShutdown() {
	if p.IsWorking() {
		p.working = time.Time{}
		p.setFailed(true)
		p.wakeWaiters()
	}
}

// ResetForClean clears the sticky failed flag after a successful `clean`,
// per spec.md §3 invariant I3's "it remains true until clean succeeds" and
// §4.3's post-Fetch-failure clean scheduling. Stage is NOT reset: clean
// only tears down working-directory state, it doesn't un-build what already
// landed at a lower stage in this run (the teacher's C ancestor and this
// Go port both treat stage regression as a correctness bug, spec.md
// invariant I3: stage only advances).
func (p *Port) ResetForClean() {
	if p.failed {
		p.failed = false
		p.depends.StatusChanged()
	}
}

func (p *Port) String() string {
	return fmt.Sprintf("Port{%s stage=%s working=%v failed=%v install=%s}",
		p.origin, p.stage, p.IsWorking(), p.failed, p.installStatus)
}
