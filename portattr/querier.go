// Package portattr implements the Attribute Loader (spec.md §4.2): it
// extracts a Port's metadata by querying its Makefile with `make -V`, the
// same mechanism the teacher's ports_interface.go uses, generalized to the
// full attribute set spec.md §3 requires.
package portattr

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go-synth/port"
)

// queryVars lists every make variable fetched in a single `make -V...`
// invocation, in the exact order QueryMakefile expects them back on stdout,
// one value per line.
var queryVars = []string{
	"PKGNAME",
	"PORTVERSION",
	"PORTREVISION",
	"PORTEPOCH",
	"PREFIX",
	"PKGSUFFIX",
	"CATEGORIES",
	"COMMENT",
	"MAINTAINER",
	"PORT_OPTIONS",
	"DISTFILES",
	"DISTDIR",
	"FETCH_DEPENDS",
	"EXTRACT_DEPENDS",
	"PATCH_DEPENDS",
	"BUILD_DEPENDS",
	"LIB_DEPENDS",
	"RUN_DEPENDS",
	"DESCR",
	"CONFLICTS",
	"IGNORE",
	"IS_INTERACTIVE",
	"MAKEFILE_LIST",
	"OPTIONS_FILE",
	"PKGDIR",
	"WRKDIR",
	"MAKE_JOBS_NUMBER",
}

// Querier abstracts the Makefile query so tests can substitute fixture data
// instead of shelling out, mirroring the teacher's PortsQuerier split
// between realPortsQuerier and testFixtureQuerier.
type Querier interface {
	Query(origin, portDir string) (string, error)
}

// MakeQuerier runs `make -C portDir -V VAR...` against the real ports tree.
type MakeQuerier struct {
	// DPortsPath is not read by Query. Absolute port directories in
	// dependency strings are normalized by parseDeps, which keeps only
	// their last two path components.
	DPortsPath string
}

func (q *MakeQuerier) Query(origin, portDir string) (string, error) {
	args := []string{"-C", portDir}
	for _, v := range queryVars {
		args = append(args, "-V", v)
	}
	cmd := exec.Command("make", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("make -C %s query failed: %w", portDir, err)
	}
	return out.String(), nil
}

// FixtureQuerier loads pre-captured make output from files, keyed by
// origin, exactly as the teacher's testFixtureQuerier loads
// testdata/fixtures/category__port.txt.
type FixtureQuerier struct {
	Fixtures map[string]string // origin -> file path
}

func (q *FixtureQuerier) Query(origin, portDir string) (string, error) {
	path, ok := q.Fixtures[origin]
	if !ok {
		return "", &NotFoundError{Origin: origin, Path: portDir}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load fixture %s: %w", path, err)
	}
	return string(data), nil
}

// NotFoundError mirrors the teacher's PortNotFoundError: the origin has no
// corresponding directory (or fixture).
type NotFoundError struct {
	Origin string
	Path   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("port not found: %s (%s)", e.Origin, e.Path)
}

// Load queries a port's attributes via q and parses the result into a
// port.Attributes, implementing spec.md §4.2's Attribute Loader contract.
func Load(q Querier, origin, portDir string) (*port.Attributes, error) {
	raw, err := q.Query(origin, portDir)
	if err != nil {
		return nil, err
	}
	return parse(raw, portDir)
}

func parse(raw, portDir string) (*port.Attributes, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) < len(queryVars) {
		return nil, fmt.Errorf("insufficient make output: got %d lines, want >= %d", len(lines), len(queryVars))
	}

	field := func(i int) string { return strings.TrimSpace(lines[i]) }

	a := &port.Attributes{}
	a.PkgName = field(0)
	a.Version = field(1)
	a.Revision = field(2)
	a.Epoch = field(3)
	a.Prefix = field(4)
	a.Suffix = field(5)
	a.Categories = fields(field(6))
	a.Comment = field(7)
	a.Maintainer = field(8)
	a.Options = fields(field(9))
	a.Distfiles = fields(field(10))
	a.DistDir = field(11)

	a.FetchDepends = parseDeps(field(12), "FETCH_DEPENDS", portDir)
	a.ExtractDepends = parseDeps(field(13), "EXTRACT_DEPENDS", portDir)
	a.PatchDepends = parseDeps(field(14), "PATCH_DEPENDS", portDir)
	a.BuildDepends = parseDeps(field(15), "BUILD_DEPENDS", portDir)
	a.LibDepends = parseDeps(field(16), "LIB_DEPENDS", portDir)
	a.RunDepends = dedupDeps(parseDeps(field(17), "RUN_DEPENDS", portDir))

	a.DescrFile = field(18)
	a.Conflicts = fields(field(19))
	a.NoPackage = a.PkgName == ""
	a.Interactive = field(21) != ""
	a.Makefiles = fields(field(22))
	a.OptionsFile = field(23)
	a.PkgDir = field(24)
	a.WrkDir = field(25)
	a.JobsFlags = jobsFlags(field(26))

	if field(20) != "" {
		a.NoPackage = true
	}
	if a.Name == "" {
		name, version, ok := port.SplitNameVersion(a.PkgName)
		if ok {
			a.Name = name
			if a.Version == "" {
				a.Version = version
			}
		}
	}

	return a, nil
}

func fields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// jobsFlags converts a numeric MAKE_JOBS_NUMBER into a "-jN" flag, the form
// the build runner passes straight through to `make`.
func jobsFlags(n string) string {
	if n == "" {
		return ""
	}
	if _, err := strconv.Atoi(n); err != nil {
		return ""
	}
	return "-j" + n
}

// parseDeps normalizes a raw dependency string into (field, origin) pairs,
// grounded on the teacher's parseDependencyString: split on whitespace,
// split each token on the last ':' to get the target, strip dportsPath,
// skip /nonexistent entries.
func parseDeps(raw, field, dportsPath string) []port.DepRef {
	if raw == "" {
		return nil
	}
	var out []port.DepRef
	for _, tok := range strings.Fields(raw) {
		if strings.HasPrefix(tok, "/nonexistent:") {
			continue
		}
		idx := strings.LastIndex(tok, ":")
		if idx < 0 {
			continue
		}
		origin := tok[idx+1:]
		if dportsPath != "" && strings.HasPrefix(origin, dportsPath) {
			origin = strings.TrimPrefix(origin, dportsPath)
			origin = strings.TrimPrefix(origin, "/")
		}
		parts := strings.Split(origin, "/")
		if len(parts) < 2 {
			continue
		}
		origin = parts[len(parts)-2] + "/" + parts[len(parts)-1]
		out = append(out, port.DepRef{Field: field, Origin: origin})
	}
	return out
}

func dedupDeps(deps []port.DepRef) []port.DepRef {
	seen := make(map[string]bool, len(deps))
	out := make([]port.DepRef, 0, len(deps))
	for _, d := range deps {
		if seen[d.Origin] {
			continue
		}
		seen[d.Origin] = true
		out = append(out, d)
	}
	return out
}
