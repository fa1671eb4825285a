// Package pkgtool implements the package-tool invocation contract of
// spec.md §6: pkg info -ao, pkg add, pkg install -y, and the -c <chroot>
// argv prefix, all dispatched through runner.Runner so Install-stage
// subprocesses and install_status recomputation share one spawn path.
package pkgtool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go-synth/runner"
)

// Client wraps runner.Runner with the pkg(8) argv conventions, grounded on
// build/phases.go's installDependencyPackages/installMissingPackages.
type Client struct {
	runner *runner.Runner
	// Chroot, when non-empty, is prefixed onto every pkg invocation as
	// "-c <chroot>" (spec.md §6).
	Chroot string
	// PkgDBDir sets PKG_DBDIR for every dispatched command, mirroring
	// spec.md §6's environment override.
	PkgDBDir string
}

// NewClient constructs a Client dispatching through r.
func NewClient(r *runner.Runner, chroot, pkgDBDir string) *Client {
	return &Client{runner: r, Chroot: chroot, PkgDBDir: pkgDBDir}
}

func (c *Client) argv(args ...string) []string {
	if c.Chroot == "" {
		return append([]string{"/usr/sbin/pkg"}, args...)
	}
	full := append([]string{"/usr/sbin/pkg", "-c", c.Chroot}, args...)
	return full
}

func (c *Client) env() map[string]string {
	e := map[string]string{"ASSUME_ALWAYS_YES": "YES"}
	if c.PkgDBDir != "" {
		e["PKG_DBDIR"] = c.PkgDBDir
	}
	return e
}

// InstalledPackage is one line of `pkg info -ao` output: an installed
// package's origin paired with its pkgname.
type InstalledPackage struct {
	Origin  string
	PkgName string
}

// Installed runs `pkg info -ao` and parses the origin/pkgname pairs it
// lists, one per installed package (spec.md §6).
func (c *Client) Installed(ctx context.Context, owner runner.Owner) ([]InstalledPackage, error) {
	argv := c.argv("info", "-ao")
	var out bytes.Buffer

	h := c.runner.Dispatch(ctx, runner.Command{
		Path:   argv[0],
		Args:   argv[1:],
		Env:    c.env(),
		Stdout: &out,
		Owner:  owner,
	})

	exitStatus, err := h.Wait()
	if err != nil {
		return nil, fmt.Errorf("pkg info -ao: %w", err)
	}
	if exitStatus != 0 {
		return nil, fmt.Errorf("pkg info -ao: exit status %d", exitStatus)
	}

	var pkgs []InstalledPackage
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pkgs = append(pkgs, InstalledPackage{Origin: fields[0], PkgName: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("pkg info -ao: parsing output: %w", err)
	}
	return pkgs, nil
}

// AddFile runs `pkg add <file>`, installing a local package file built by
// this run (spec.md §6: the pkg package itself bootstraps this way from
// <wrkdir>/pkg-static, handled one level up by the caller choosing path).
func (c *Client) AddFile(ctx context.Context, owner runner.Owner, path string) error {
	argv := c.argv("add", path)
	h := c.runner.Dispatch(ctx, runner.Command{
		Path:  argv[0],
		Args:  argv[1:],
		Env:   c.env(),
		Owner: owner,
	})
	return waitOK(h, fmt.Sprintf("pkg add %s", filepath.Base(path)))
}

// InstallFromRepo runs `pkg install -y <pkgname>`, installing pkgname from
// the configured repository rather than a local file.
func (c *Client) InstallFromRepo(ctx context.Context, owner runner.Owner, pkgName string) error {
	argv := c.argv("install", "-y", pkgName)
	h := c.runner.Dispatch(ctx, runner.Command{
		Path:  argv[0],
		Args:  argv[1:],
		Env:   c.env(),
		Owner: owner,
	})
	return waitOK(h, fmt.Sprintf("pkg install -y %s", pkgName))
}

func waitOK(h *runner.Handle, label string) error {
	exitStatus, err := h.Wait()
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if exitStatus != 0 {
		return fmt.Errorf("%s: exit status %d", label, exitStatus)
	}
	return nil
}
