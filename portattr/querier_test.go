package portattr

import (
	"os"
	"strings"
	"testing"
)

// fixture reproduces one recorded `make -V...` invocation for a small port,
// one value per line in queryVars order.
const fixture = `vim-console-9.0.1.g20230101
9.0.1.g20230101
1

/usr/local
_gtk3
editors
Vi IMproved, a programmer's text editor
ports@dragonflybsd.org
NLS X11 PYTHON3
vim-9.0.1.tar.gz
/usr/dports/distfiles
gmake:devel/gmake
gtar:archivers/libarchive
tool:devel/gmake
cc:lang/gcc12
gtk3>=3.24:x11-toolkits/gtk30 lua:lang/lua54
libiconv.so:converters/libiconv
pkg-config:devel/pkgconf
description text
editors/vim-gtk3
interactive-flag-value
/usr/dports/editors/vim/Makefile /usr/dports/Mk/bsd.port.mk
/usr/dports/editors/vim/Makefile.options
/usr/dports/editors/vim/pkg
/construction/editors/vim-console/work
4
`

func TestParseFixture(t *testing.T) {
	a, err := parse(fixture, "editors/vim")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if a.PkgName != "vim-console-9.0.1.g20230101" {
		t.Fatalf("PkgName = %q", a.PkgName)
	}
	if a.Revision != "1" {
		t.Fatalf("Revision = %q, want 1", a.Revision)
	}
	if a.Epoch != "" {
		t.Fatalf("Epoch = %q, want empty", a.Epoch)
	}
	if a.Prefix != "/usr/local" {
		t.Fatalf("Prefix = %q", a.Prefix)
	}
	if len(a.Categories) != 1 || a.Categories[0] != "editors" {
		t.Fatalf("Categories = %v", a.Categories)
	}
	if len(a.Options) != 3 {
		t.Fatalf("Options = %v, want 3 entries", a.Options)
	}
	if a.JobsFlags != "-j4" {
		t.Fatalf("JobsFlags = %q, want -j4", a.JobsFlags)
	}
	if a.Interactive != true {
		t.Fatal("Interactive = false, want true (non-empty IS_INTERACTIVE)")
	}

	if len(a.LibDepends) != 2 {
		t.Fatalf("LibDepends = %v, want 2 entries", a.LibDepends)
	}
	if a.LibDepends[0].Origin != "x11-toolkits/gtk30" {
		t.Fatalf("LibDepends[0].Origin = %q", a.LibDepends[0].Origin)
	}
	if a.LibDepends[0].Field != "LIB_DEPENDS" {
		t.Fatalf("LibDepends[0].Field = %q", a.LibDepends[0].Field)
	}

	if len(a.BuildDepends) != 1 {
		t.Fatalf("BuildDepends = %v, want 1 entry", a.BuildDepends)
	}
}

func TestParseDepsStripsNonexistentAndDedups(t *testing.T) {
	deps := parseDeps("/nonexistent:x/y tool:devel/pkgconf tool:devel/pkgconf", "BUILD_DEPENDS", "")
	deps = dedupDeps(deps)
	if len(deps) != 1 {
		t.Fatalf("deps = %v, want 1 after stripping /nonexistent and dedup", deps)
	}
	if deps[0].Origin != "devel/pkgconf" {
		t.Fatalf("Origin = %q", deps[0].Origin)
	}
}

func TestLoadFixtureQuerier(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/editors__vim.txt"
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	q := &FixtureQuerier{Fixtures: map[string]string{"editors/vim": path}}
	a, err := Load(q, "editors/vim", "editors/vim")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.Name != "vim-console" {
		t.Fatalf("Name = %q, want vim-console derived from PkgName split", a.Name)
	}
}

func TestLoadNotFound(t *testing.T) {
	q := &FixtureQuerier{Fixtures: map[string]string{}}
	_, err := Load(q, "editors/missing", "editors/missing")
	if err == nil {
		t.Fatal("expected NotFoundError")
	}
	if !strings.Contains(err.Error(), "port not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}
