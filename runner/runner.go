// Package runner implements the Subprocess Runner of spec.md §4.6: a
// single funnel for dispatching external commands with FD hygiene, a
// serialized spawn, and an owning-port back-reference on every handle.
// It wraps the teacher's environment.Environment abstraction, which
// supplies the actual chroot/mount isolation; Runner adds the exit-event
// funnel and fork-safety guarantee that layer doesn't provide on its own.
package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go-synth/environment"
	"go-synth/log"
)

// Owner identifies the Port a dispatched command belongs to, for the
// monitor's back-reference (spec.md §4.6's "owning port"). Kept minimal
// to avoid an import of the port package.
type Owner interface {
	Origin() string
}

// Runner serializes process spawns behind a single mutex and funnels
// completion into Handles, per spec.md §4.6. All commands run inside env.
type Runner struct {
	env    environment.Environment
	logger log.LibraryLogger
	noOp   bool

	spawnMu sync.Mutex
}

// New constructs a Runner over an already-Setup environment. noOp mirrors
// spec.md's `-n` CLI flag: every dispatch becomes a synthetic success
// after printing its argv.
func New(env environment.Environment, logger log.LibraryLogger, noOp bool) *Runner {
	return &Runner{env: env, logger: logger, noOp: noOp}
}

// Command describes one external invocation, analogous to
// environment.ExecCommand but expressed in the runner's own vocabulary so
// callers (port.Runner implementations) don't need to import environment
// directly.
type Command struct {
	Path    string
	Args    []string
	WorkDir string
	Env     map[string]string
	Stdout  io.Writer
	Stderr  io.Writer
	Timeout time.Duration
	Owner   Owner
}

// Handle is the live handle to a dispatched command: spec.md §4.6's
// "wait() -> exit_status ... owning port back-reference".
type Handle struct {
	owner  Owner
	doneCh chan struct{}
	result *environment.ExecResult
	err    error
}

// Wait blocks until the command completes and returns its exit status.
func (h *Handle) Wait() (exitStatus int, err error) {
	<-h.doneCh
	if h.err != nil {
		return -1, h.err
	}
	return h.result.ExitCode, nil
}

// Owner returns the command's owning-port back-reference, used by the
// monitor UI to attribute in-flight work to a port.
func (h *Handle) Owner() Owner { return h.owner }

// Success reports whether the command exited zero.
func (h *Handle) Success() bool {
	es, err := h.Wait()
	return err == nil && es == 0
}

// Dispatch spawns cmd, serializing the spawn itself behind Runner's mutex
// (spec.md §4.6: "no two spawns are in progress concurrently; the
// children then run in parallel"). It returns immediately with a Handle;
// the command runs in a background goroutine.
func (r *Runner) Dispatch(ctx context.Context, cmd Command) *Handle {
	h := &Handle{owner: cmd.Owner, doneCh: make(chan struct{})}

	if r.noOp {
		fmt.Printf("[no-op] %s %v (workdir=%s)\n", cmd.Path, cmd.Args, cmd.WorkDir)
		h.result = &environment.ExecResult{ExitCode: 0}
		close(h.doneCh)
		return h
	}

	go func() {
		defer close(h.doneCh)

		ec := &environment.ExecCommand{
			Command: cmd.Path,
			Args:    cmd.Args,
			WorkDir: cmd.WorkDir,
			Env:     cmd.Env,
			Stdout:  cmd.Stdout,
			Stderr:  cmd.Stderr,
			Timeout: cmd.Timeout,
		}

		// environment.Environment.Execute has no Start/Wait split: one
		// call both forks and waits. Serializing just the fork(), per
		// spec.md §4.6, would need that split; without it the spawn
		// mutex has to bracket the whole call.
		r.spawnMu.Lock()
		result, err := r.env.Execute(ctx, ec)
		r.spawnMu.Unlock()

		h.result = result
		h.err = err
	}()

	return h
}
