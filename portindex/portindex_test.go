package portindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-synth/port"
)

func mustPort(t *testing.T, origin string, attrs *port.Attributes) *port.Port {
	t.Helper()
	p := port.New(port.Origin(origin))
	p.SetAttributes(attrs)
	return p
}

func TestGenerateLineFormatAndDependencyClosure(t *testing.T) {
	// x/c is a Lib dependency of x/b, which is a Build dependency of
	// x/a; the BUILD_DEPENDS field of x/a must include x/c transitively.
	c := mustPort(t, "x/c", &port.Attributes{PkgName: "libc-1.0"})
	b := mustPort(t, "x/b", &port.Attributes{
		PkgName:    "libb-1.0",
		LibDepends: []port.DepRef{{Field: "LIB_DEPENDS", Origin: "x/c"}},
	})
	a := mustPort(t, "x/a", &port.Attributes{
		PkgName:      "a-1.0",
		Prefix:       "/usr/local",
		Comment:      "a test port",
		Maintainer:   "nobody@example.com",
		Categories:   []string{"x"},
		BuildDepends: []port.DepRef{{Field: "BUILD_DEPENDS", Origin: "x/b"}},
	})

	lines := Generate([]*port.Port{a, b, c}, "/usr/dports")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	fields := strings.Split(lines[0], "|")
	if len(fields) != 13 {
		t.Fatalf("got %d fields, want 13: %q", len(fields), lines[0])
	}
	if fields[0] != "a-1.0" {
		t.Fatalf("PKGNAME = %q", fields[0])
	}
	if fields[1] != "/usr/dports/x/a" {
		t.Fatalf("PORTDIR/ORIGIN = %q", fields[1])
	}
	if fields[7] != "libb-1.0 libc-1.0" {
		t.Fatalf("BUILD_DEPENDS closure = %q, want transitive libb-1.0 libc-1.0", fields[7])
	}
}

func TestGenerateScrapesWWWFromDescrFile(t *testing.T) {
	dir := t.TempDir()
	descr := filepath.Join(dir, "pkg-descr")
	if err := os.WriteFile(descr, []byte("Some port.\n\nWWW: example.org/vim\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := mustPort(t, "x/a", &port.Attributes{PkgName: "a-1.0", DescrFile: descr})

	lines := Generate([]*port.Port{p}, "/usr/dports")
	fields := strings.Split(lines[0], "|")
	if fields[9] != "http://example.org/vim" {
		t.Fatalf("WWW = %q, want http://-prefixed", fields[9])
	}
}

func TestGenerateKeepsExplicitScheme(t *testing.T) {
	dir := t.TempDir()
	descr := filepath.Join(dir, "pkg-descr")
	if err := os.WriteFile(descr, []byte("WWW: https://example.org/vim\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := mustPort(t, "x/a", &port.Attributes{PkgName: "a-1.0", DescrFile: descr})

	lines := Generate([]*port.Port{p}, "/usr/dports")
	fields := strings.Split(lines[0], "|")
	if fields[9] != "https://example.org/vim" {
		t.Fatalf("WWW = %q, want scheme preserved", fields[9])
	}
}
