// Package scheduler implements the single-threaded cooperative event loop
// of spec.md §5 and the per-stage queues of §4.7: it is the only thing
// that ever mutates a Port or DependHandler, which is what lets those
// types skip per-object locking entirely.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go-synth/log"
	"go-synth/port"
	"go-synth/portcache"
)

// StageRunner dispatches one stage's external command set and blocks
// until it completes, implemented by a thin adapter over runner.Runner
// (and by port.Runner for port_test.go-style unit tests).
type StageRunner interface {
	RunStage(p *port.Port, stage port.Stage) bool
}

// Caps holds the per-stage concurrency ceilings of spec.md §4.7.
type Caps struct {
	Config, Fetch, Build, Install, Package, Clean int
}

// DefaultCaps derives the spec's caps from a CPU count: Config is
// interactive and always capped at 1 (Design Note #3); every other stage
// (including Clean) is capped at cpus.
func DefaultCaps(cpus int) Caps {
	if cpus < 1 {
		cpus = 1
	}
	return Caps{Config: 1, Fetch: cpus, Build: cpus, Install: cpus, Package: cpus, Clean: cpus}
}

type jobEvent struct {
	origin  string
	stage   port.Stage
	success bool
}

// Scheduler owns every Port's admission/advancement and runs as a single
// event-loop goroutine once Run is called.
type Scheduler struct {
	cache    *portcache.Cache
	runner   StageRunner
	caps     Caps
	minStage port.Stage
	logger   log.LibraryLogger
	now      func() time.Time

	// dynCaps, when non-nil, returns the current throttled cap for a
	// stage — wired from stats.WorkerThrottler.CalculateDynMax so swap/
	// load pressure can shrink Build/Install concurrency below Caps
	// without ever exceeding it (spec.md §4.7's DOMAIN STACK addendum).
	dynCaps func(stage port.Stage, staticCap int) int

	ports  map[string]*port.Port
	queues map[port.Stage]*stageQueue

	events chan jobEvent
	addCh  chan string
	wakeCh chan string
	done   chan struct{}
	once   sync.Once

	quiescent     chan struct{}
	quiescentOnce sync.Once
}

// New constructs a Scheduler. Run must be called (typically in its own
// goroutine) to start the event loop before AddOrigin has any effect.
func New(cache *portcache.Cache, runner StageRunner, caps Caps, minStage port.Stage, logger log.LibraryLogger) *Scheduler {
	s := &Scheduler{
		cache:    cache,
		runner:   runner,
		caps:     caps,
		minStage: minStage,
		logger:   logger,
		now:      time.Now,
		ports:    make(map[string]*port.Port),
		queues:   make(map[port.Stage]*stageQueue),
		events:   make(chan jobEvent, 64),
		addCh:     make(chan string, 64),
		wakeCh:    make(chan string, 64),
		done:      make(chan struct{}),
		quiescent: make(chan struct{}),
	}
	for _, st := range []port.Stage{port.StageConfig, port.StageFetch, port.StageBuild, port.StageInstall, port.StagePackage, port.StageClean} {
		s.queues[st] = &stageQueue{stage: st}
	}
	return s
}

// SetDynamicCaps wires a throttling function (stats.WorkerThrottler-backed)
// that can shrink a stage's effective cap below its static Caps value.
func (s *Scheduler) SetDynamicCaps(f func(stage port.Stage, staticCap int) int) {
	s.dynCaps = f
}

// AddOrigin enqueues an origin for the scheduler to construct (via the
// Port Cache) and drive toward minStage. Safe to call before or after Run
// starts; addCh buffers up to 64 origins, and a call blocks only while
// that buffer is full (until the loop drains it or Stop is called).
func (s *Scheduler) AddOrigin(origin string) {
	select {
	case s.addCh <- origin:
	case <-s.done:
	}
}

// Stop requests the loop to exit; in-flight working ports are marked
// failed per spec.md §5's cancellation rule.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
}

// Quiescent returns a channel that closes once every registered port has
// either failed or reached minStage and no stage queue has anything
// active or ready — i.e. there is nothing left for the loop to do unless
// a new origin is added. A caller drives a build to completion by
// AddOrigin-ing its roots, waiting on this channel, then calling Stop.
func (s *Scheduler) Quiescent() <-chan struct{} {
	return s.quiescent
}

func (s *Scheduler) checkQuiescent() {
	select {
	case <-s.quiescent:
		return // already signaled
	default:
	}
	if len(s.addCh) > 0 || len(s.wakeCh) > 0 || len(s.events) > 0 {
		return
	}
	for _, sq := range s.queues {
		if sq.active > 0 || len(sq.ready) > 0 {
			return
		}
	}
	for _, p := range s.ports {
		if p.Failed() || p.IsWorking() {
			continue
		}
		if p.Stage() < s.minStage {
			return
		}
	}
	s.quiescentOnce.Do(func() { close(s.quiescent) })
}

// Run is the event loop. It blocks until ctx is cancelled or Stop is
// called, at which point every currently-working port is marked failed
// and Run returns ctx.Err() (or nil if Stop triggered the exit).
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.done:
			s.shutdown()
			return nil
		case origin := <-s.addCh:
			p := s.cache.Add(origin)
			s.register(p)
			s.promote(p)
			s.checkQuiescent()
		case origin := <-s.wakeCh:
			if p, ok := s.ports[origin]; ok {
				s.promote(p)
			}
			s.checkQuiescent()
		case ev := <-s.events:
			s.onComplete(ev)
			s.checkQuiescent()
		}
	}
}

func (s *Scheduler) shutdown() {
	for _, p := range s.ports {
		p.MarkFailedAtShutdown()
	}
}

func (s *Scheduler) register(p *port.Port) {
	if _, ok := s.ports[p.Origin()]; ok {
		return
	}
	s.ports[p.Origin()] = p
}

// promote drives p forward by one admissible stage at a time. Each call
// performs at most one Advance decision; reaching minStage, hitting a
// wait, or failing all return control to the event loop rather than
// spin-looping synchronously across suspension points (spec.md §5: "the
// loop itself never suspends").
func (s *Scheduler) promote(p *port.Port) {
	next := p.Stage() + 1
	if next > s.minStage {
		return
	}
	res, ch := p.Advance(next)
	switch res {
	case port.AdvanceDone:
		s.admit(p, next)
	case port.AdvanceWait:
		if ch == nil {
			return
		}
		origin := p.Origin()
		go func() {
			select {
			case <-ch:
				select {
				case s.wakeCh <- origin:
				case <-s.done:
				}
			case <-s.done:
			}
		}()
	case port.AdvanceFailed:
		s.rescanDependants(p)
	}
}

func (s *Scheduler) capFor(stage port.Stage) int {
	static := s.staticCap(stage)
	if s.dynCaps == nil {
		return static
	}
	return s.dynCaps(stage, static)
}

func (s *Scheduler) staticCap(stage port.Stage) int {
	switch stage {
	case port.StageConfig:
		return s.caps.Config
	case port.StageFetch:
		return s.caps.Fetch
	case port.StageBuild:
		return s.caps.Build
	case port.StageInstall:
		return s.caps.Install
	case port.StagePackage:
		return s.caps.Package
	case port.StageClean:
		return s.caps.Clean
	default:
		return 1
	}
}

func (s *Scheduler) admit(p *port.Port, stage port.Stage) {
	sq := s.queues[stage]
	if sq.active < s.capFor(stage) {
		sq.active++
		s.dispatch(p, stage)
		return
	}
	sq.ready = append(sq.ready, p)
}

func (s *Scheduler) dispatch(p *port.Port, stage port.Stage) {
	p.BeginWork(s.now())
	go func() {
		success := s.runner.RunStage(p, stage)
		select {
		case s.events <- jobEvent{origin: p.Origin(), stage: stage, success: success}:
		case <-s.done:
		}
	}()
}

func (s *Scheduler) onComplete(ev jobEvent) {
	p, ok := s.ports[ev.origin]
	if !ok {
		return
	}
	sq := s.queues[ev.stage]
	sq.active--

	if ev.stage == port.StageClean {
		if ev.success {
			p.ResetForClean()
		}
		s.rescanDependants(p)
		s.promote(p)
		s.fillReady(ev.stage)
		return
	}

	needsClean := p.Finalize(ev.stage, ev.success)
	if needsClean {
		s.admit(p, port.StageClean)
	}
	s.rescanDependants(p)
	s.promote(p)
	s.fillReady(ev.stage)
}

// fillReady pulls queued ports into newly-freed active slots, in FIFO
// order — the priority ordering (depgraph.GetBuildOrder-style fanout
// hints) is applied once at enqueue time by the caller that seeds
// AddOrigin calls, not re-sorted here.
func (s *Scheduler) fillReady(stage port.Stage) {
	sq := s.queues[stage]
	for len(sq.ready) > 0 && sq.active < s.capFor(stage) {
		next := sq.ready[0]
		sq.ready = sq.ready[1:]
		sq.active++
		s.dispatch(next, stage)
	}
}

// rescanDependants re-promotes every port that depends on p, since p's
// status transition may have just resolved (or failed) an edge that was
// blocking them — this is the scheduler-side half of spec.md §4.7's "on a
// dependency status_changed event, rescan stalled queues of stages that
// could have changed".
func (s *Scheduler) rescanDependants(p *port.Port) {
	for _, origin := range p.Depends().DependantOrigins() {
		if dp, ok := s.ports[origin]; ok {
			s.promote(dp)
		}
	}
}
