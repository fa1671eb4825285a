// Package buildstage adapts the Subprocess Runner (spec.md §4.6) into a
// scheduler.StageRunner: it dispatches the actual `make` invocation for
// whichever port.Stage the scheduler admits a port into, generalizing the
// teacher's executePhase BATCH=yes target dispatch (build/phases.go) from
// a fixed multi-phase worker loop to the single target-per-Stage model of
// spec.md §4.3.
package buildstage

import (
	"context"
	"path/filepath"
	"time"

	"go-synth/config"
	"go-synth/log"
	"go-synth/port"
	"go-synth/runner"
)

// target maps a port.Stage to the make(1) target run against its port
// directory, mirroring executePhase's BATCH=yes phase names.
func target(stage port.Stage) (string, bool) {
	switch stage {
	case port.StageConfig:
		return "configure", true
	case port.StageFetch:
		return "fetch", true
	case port.StageBuild:
		return "build", true
	case port.StageInstall:
		return "install", true
	case port.StagePackage:
		return "package", true
	case port.StageClean:
		return "clean", true
	default:
		return "", false
	}
}

// Runner dispatches one port.Stage at a time through a runner.Runner,
// writing each command's output to a per-origin log.PackageLogger, the
// same loggerWriter-to-file pattern executePhase used.
type Runner struct {
	r       *runner.Runner
	cfg     *config.Config
	timeout time.Duration
	env     map[string]string

	// extraArgs carries spec.md §6's `-D KEY` / `KEY=VALUE` passthrough
	// arguments, appended to every make(1) invocation after the target.
	extraArgs []string
}

// New constructs a buildstage.Runner driving make(1) against ports under
// cfg.DPortsPath, with each stage's output captured to cfg.LogsPath via a
// fresh log.PackageLogger per dispatch. extraArgs is appended verbatim to
// every dispatch, after the stage's target.
func New(r *runner.Runner, cfg *config.Config, timeout time.Duration, extraArgs ...string) *Runner {
	return &Runner{r: r, cfg: cfg, timeout: timeout, extraArgs: extraArgs, env: map[string]string{
		"PATH":      "/sbin:/bin:/usr/sbin:/usr/bin:/usr/local/sbin:/usr/local/bin",
		"BATCH":     "yes",
		"PORTSDIR":  cfg.DPortsPath,
		"DISTDIR":   cfg.DistFilesPath,
		"PACKAGES":  cfg.RepositoryPath,
		"PKG_DBDIR": cfg.PkgDBDir,
	}}
}

// RunStage implements scheduler.StageRunner.
func (sr *Runner) RunStage(p *port.Port, stage port.Stage) bool {
	tgt, ok := target(stage)
	if !ok {
		return false
	}

	portDir := filepath.Join(sr.cfg.DPortsPath, p.Origin())
	args := append([]string{"-C", portDir, "BATCH=yes", tgt}, sr.extraArgs...)

	plog := log.NewPackageLogger(sr.cfg, p.Origin())
	defer plog.Close()
	plog.WritePhase(stage.String())
	plog.WriteCommand("make " + joinArgs(args))

	cmd := runner.Command{
		Path:    "make",
		Args:    args,
		WorkDir: portDir,
		Env:     sr.env,
		Stdout:  plog,
		Stderr:  plog,
		Timeout: sr.timeout,
		Owner:   stageOwner(p.Origin()),
	}

	handle := sr.r.Dispatch(context.Background(), cmd)
	ok = handle.Success()
	if ok {
		plog.WriteSuccess(0)
	} else {
		plog.WriteFailure(0, "stage "+stage.String()+" failed")
	}
	return ok
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

type stageOwner string

func (o stageOwner) Origin() string { return string(o) }
