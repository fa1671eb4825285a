package service

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"go-synth/attrcache"
	"go-synth/build"
	"go-synth/buildstage"
	"go-synth/builddb"
	"go-synth/environment"
	"go-synth/pkgtool"
	"go-synth/port"
	"go-synth/portattr"
	"go-synth/portcache"
	"go-synth/runner"
	"go-synth/scheduler"
	"go-synth/stats"
)

// Build orchestrates the complete build workflow for the specified ports.
//
// It wires together the Port Cache (construction + dependency expansion),
// the Attribute Loader's bbolt-backed cache, the Subprocess Runner, and the
// scheduler's single-threaded event loop, then drives every origin in
// opts.PortList to s.cfg.MinStage and reports what happened.
//
// This method handles all the business logic but does not interact with the user.
// The caller is responsible for:
//   - Displaying progress/status to the user
//   - Prompting for confirmations
//   - Signal handling (Ctrl+C, etc.)
func (s *Service) Build(opts BuildOptions) (*BuildResult, error) {
	if len(opts.PortList) == 0 {
		return nil, fmt.Errorf("no ports specified")
	}

	startTime := time.Now()

	env, err := environment.New(s.environmentBackend())
	if err != nil {
		return nil, fmt.Errorf("failed to construct build environment: %w", err)
	}
	if err := env.Setup(0, s.cfg, s.logger); err != nil {
		return nil, fmt.Errorf("failed to set up build environment: %w", err)
	}

	run := runner.New(env, s.logger, s.cfg.Mode == "noop")
	s.SetActiveCleanup(func() { env.Cleanup() })

	pkgClient := pkgtool.NewClient(run, s.cfg.Chroot, s.cfg.PkgDBDir)
	if installed, err := pkgClient.Installed(context.Background(), buildOwner("go-synth")); err == nil {
		s.logger.Info("build environment starts with %d packages already installed", len(installed))
	} else {
		s.logger.Debug("pkg info -ao baseline query failed (continuing): %v", err)
	}

	attrCache, err := attrcache.Open(s.cfg.BuildBase + "/attrs.db")
	if err != nil {
		return nil, fmt.Errorf("failed to open attribute cache: %w", err)
	}
	defer attrCache.Close()

	loader := newCachedLoader(&portattr.MakeQuerier{DPortsPath: s.cfg.DPortsPath}, attrCache)
	if opts.Force {
		loader.cache = nil // bypass cache entirely, forcing a fresh make -V query
	}

	cache := portcache.New(loader, s.logger)
	stageRunner := buildstage.New(run, s.cfg, 0, opts.ExtraArgs...)

	minStage := port.Stage(s.cfg.MinStage)
	if minStage == port.StageNone {
		minStage = port.StageInstall
	}

	sched := scheduler.New(cache, stageRunner, scheduler.DefaultCaps(runtime.NumCPU()), minStage, s.logger)
	sched.SetDynamicCaps(func(stage port.Stage, staticCap int) int {
		if stage != port.StageBuild && stage != port.StageInstall {
			return staticCap // throttling only applies to the compute-heavy stages
		}
		load, swapPct := stats.SampleSystemLoad()
		return stats.NewWorkerThrottler(staticCap, false).CalculateDynMax(load, swapPct)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ui := s.monitorUI()
	if err := ui.Start(); err != nil {
		s.logger.Warn("monitor UI failed to start: %v", err)
		ui = build.NewStdoutUI()
		_ = ui.Start()
	}
	defer ui.Stop()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sched.Run(ctx) }()

	for _, origin := range opts.PortList {
		sched.AddOrigin(origin)
	}

	progressDone := make(chan struct{})
	go s.reportProgress(sched, ui, startTime, progressDone)
	defer close(progressDone)

	select {
	case <-sched.Quiescent():
		sched.Stop()
		<-runErrCh
	case err := <-runErrCh:
		if err != nil {
			return nil, fmt.Errorf("scheduler aborted: %w", err)
		}
	}

	snap := sched.Snapshot()
	ui.UpdateProgress(build.StatsFromSnapshot(snap, time.Since(startTime)), time.Since(startTime).Round(time.Second).String())
	result := s.summarizeBuild(sched, opts.PortList, snap, time.Since(startTime))

	s.recordBuildHistory(result, startTime)

	return result, nil
}

// monitorUI picks the Monitor UI implementation per spec.md §6's monitor
// contract: ncurses unless the operator disabled it.
func (s *Service) monitorUI() build.BuildUI {
	if s.cfg.DisableUI {
		return build.NewStdoutUI()
	}
	return build.NewNcursesUI()
}

// reportProgress polls the scheduler once a second and pushes a
// BuildStats snapshot to the Monitor UI, until progressDone closes.
func (s *Service) reportProgress(sched *scheduler.Scheduler, ui build.BuildUI, startTime time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := sched.Snapshot()
			ui.UpdateProgress(build.StatsFromSnapshot(snap, time.Since(startTime)), time.Since(startTime).Round(time.Second).String())
		}
	}
}

// environmentBackend picks the registered environment.Environment backend
// for the configured run mode: "noop" builds run against the host directly
// (no chroot isolation needed since nothing actually executes), everything
// else uses the real bsd backend.
func (s *Service) environmentBackend() string {
	if s.cfg.Mode == "noop" {
		return "mock"
	}
	return "bsd"
}

func (s *Service) summarizeBuild(sched *scheduler.Scheduler, roots []string, snap scheduler.Snapshot, dur time.Duration) *BuildResult {
	result := &BuildResult{
		Snapshot: snap,
		Duration: dur,
	}

	seen := make(map[string]bool)
	var walk func(origin string)
	walk = func(origin string) {
		if seen[origin] {
			return
		}
		seen[origin] = true
		result.Origins = append(result.Origins, origin)

		p, ok := sched.Port(origin)
		if !ok {
			return
		}
		if p.Failed() {
			result.Failed = append(result.Failed, origin)
		}
		if p.InstallStatus() != port.Absent {
			result.Installed = append(result.Installed, origin)
		}

		attrs := p.Attributes()
		if attrs == nil {
			return
		}
		for _, field := range []string{"FETCH_DEPENDS", "EXTRACT_DEPENDS", "PATCH_DEPENDS", "BUILD_DEPENDS", "LIB_DEPENDS", "RUN_DEPENDS"} {
			for _, dep := range attrs.DependsOf(field) {
				walk(dep.Origin)
			}
		}
	}
	for _, origin := range roots {
		walk(origin)
	}

	return result
}

// buildOwner satisfies runner.Owner for dispatches that aren't attributed
// to any single port (e.g. the pre-build package-database baseline query).
type buildOwner string

func (o buildOwner) Origin() string { return string(o) }

// recordBuildHistory writes one builddb.BuildRecord per origin touched by
// this run, the scheduler's contribution to spec.md §4.7's persistent
// build-history store. Failures to write are logged, not fatal: the build
// itself already happened.
func (s *Service) recordBuildHistory(result *BuildResult, startTime time.Time) {
	if s.db == nil {
		return
	}
	endTime := time.Now()
	failed := make(map[string]bool, len(result.Failed))
	for _, origin := range result.Failed {
		failed[origin] = true
	}
	for _, origin := range result.Origins {
		status := "success"
		if failed[origin] {
			status = "failed"
		}
		rec := &builddb.BuildRecord{
			UUID:      uuid.NewString(),
			PortDir:   origin,
			Status:    status,
			StartTime: startTime,
			EndTime:   endTime,
		}
		if err := s.db.SaveRecord(rec); err != nil {
			s.logger.Warn("failed to record build history for %s: %v", origin, err)
		}
	}
}
