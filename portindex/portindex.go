// Package portindex implements the `--index` operation of spec.md §6: one
// pipe-delimited line per port, the BUILD_DEPENDS/RUN_DEPENDS/etc fields
// each holding the sorted, deduplicated PKGNAMEs of the transitive closure
// over Lib+Run beyond the listed kind's direct edges. Grounded on
// original_source/port/port.py's describe()/__recurse_depends.
package portindex

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"go-synth/port"
)

// wwwPattern matches the first DESCR_FILE line declaring a WWW address,
// per spec.md §6 ("^WWW:\s*(.*)$").
var wwwPattern = regexp.MustCompile(`^WWW:\s*(.*)$`)

// Generate produces one index line per port in ports, in the order given.
// portsDir is prepended to each origin for the PORTDIR/ORIGIN field.
func Generate(ports []*port.Port, portsDir string) []string {
	byOrigin := make(map[string]*port.Port, len(ports))
	for _, p := range ports {
		byOrigin[p.Origin()] = p
	}

	lines := make([]string, 0, len(ports))
	for _, p := range ports {
		lines = append(lines, describe(p, byOrigin, portsDir))
	}
	return lines
}

func describe(p *port.Port, byOrigin map[string]*port.Port, portsDir string) string {
	attrs := p.Attributes()
	if attrs == nil {
		attrs = &port.Attributes{}
	}

	fields := []string{
		attrs.PkgName,
		portsDir + "/" + p.Origin(),
		attrs.Prefix,
		attrs.Comment,
		attrs.DescrFile,
		attrs.Maintainer,
		strings.Join(attrs.Categories, " "),
		closure(attrs, byOrigin, "BUILD_DEPENDS", "LIB_DEPENDS"),
		closure(attrs, byOrigin, "LIB_DEPENDS", "RUN_DEPENDS"),
		www(attrs.DescrFile),
		closure(attrs, byOrigin, "EXTRACT_DEPENDS"),
		closure(attrs, byOrigin, "PATCH_DEPENDS"),
		closure(attrs, byOrigin, "FETCH_DEPENDS"),
	}
	return strings.Join(fields, "|")
}

// closure returns the sorted, deduplicated pkgnames of every origin
// directly named under the given fields, plus the transitive closure of
// each over Lib+Run — matching the original's describe(): the first hop
// uses the listed category set, every further hop uses Lib+Run only.
func closure(attrs *port.Attributes, byOrigin map[string]*port.Port, directFields ...string) string {
	seen := make(map[string]bool)
	var direct []string
	for _, field := range directFields {
		for _, dep := range attrs.DependsOf(field) {
			direct = append(direct, dep.Origin)
		}
	}

	names := make(map[string]bool)
	for _, origin := range direct {
		walk(origin, byOrigin, seen, names)
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

func walk(origin string, byOrigin map[string]*port.Port, seen map[string]bool, names map[string]bool) {
	if seen[origin] {
		return
	}
	seen[origin] = true

	p, ok := byOrigin[origin]
	if !ok {
		return
	}
	attrs := p.Attributes()
	if attrs == nil {
		return
	}
	if attrs.PkgName != "" {
		names[attrs.PkgName] = true
	}

	for _, field := range []string{"LIB_DEPENDS", "RUN_DEPENDS"} {
		for _, dep := range attrs.DependsOf(field) {
			walk(dep.Origin, byOrigin, seen, names)
		}
	}
}

func www(descrFile string) string {
	if descrFile == "" {
		return ""
	}
	f, err := os.Open(descrFile)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := wwwPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		site := strings.TrimSpace(m[1])
		if site == "" {
			return ""
		}
		if scheme := strings.SplitN(site, "://", 2); len(scheme) == 2 {
			return site
		}
		return "http://" + site
	}
	return ""
}

// Write writes lines to w, one per line, for use by the --index CLI flag.
func Write(w *bufio.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return w.Flush()
}
