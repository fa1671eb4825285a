package port

import (
	"strconv"
	"strings"
)

// DepRef is a single (field, origin) pair produced by normalizing a raw
// dependency string, spec.md §3: "Dependency lists are normalized to
// (field, origin) pairs by splitting on ':' and stripping the tree-root
// prefix."
type DepRef struct {
	Field  string // e.g. "LIB_DEPENDS"
	Origin string // e.g. "devel/pkgconf"
}

// Attributes is the immutable-after-Config metadata map for one port,
// spec.md §3's "Port descriptor" minus its mutable fields (those live
// directly on Port).
type Attributes struct {
	Name     string
	Version  string
	Revision string
	Epoch    string
	PkgName  string
	Prefix   string
	Suffix   string

	Categories []string
	Comment    string
	Maintainer string
	Options    []string

	Distfiles []string
	DistDir   string

	FetchDepends   []DepRef
	ExtractDepends []DepRef
	PatchDepends   []DepRef
	BuildDepends   []DepRef
	LibDepends     []DepRef
	RunDepends     []DepRef // deduplicated per spec.md §3

	DescrFile   string
	Conflicts   []string
	NoPackage   bool
	Interactive bool
	Makefiles   []string
	OptionsFile string
	PkgDir      string
	WrkDir      string
	JobsFlags   string
}

// DependsOf returns the raw dependency list for a given field name, used by
// the wiring layer (scheduler/portcache) to iterate all six kinds
// uniformly without a type switch at every call site.
func (a *Attributes) DependsOf(field string) []DepRef {
	switch field {
	case "FETCH_DEPENDS":
		return a.FetchDepends
	case "EXTRACT_DEPENDS":
		return a.ExtractDepends
	case "PATCH_DEPENDS":
		return a.PatchDepends
	case "BUILD_DEPENDS":
		return a.BuildDepends
	case "LIB_DEPENDS":
		return a.LibDepends
	case "RUN_DEPENDS":
		return a.RunDepends
	default:
		return nil
	}
}

// AllDependencyOrigins returns every distinct origin mentioned across all
// six dependency fields, used by portcache to recursively Add() them.
func (a *Attributes) AllDependencyOrigins() []string {
	seen := make(map[string]bool)
	var out []string
	for _, field := range []string{"FETCH_DEPENDS", "EXTRACT_DEPENDS", "PATCH_DEPENDS", "BUILD_DEPENDS", "LIB_DEPENDS", "RUN_DEPENDS"} {
		for _, d := range a.DependsOf(field) {
			if !seen[d.Origin] {
				seen[d.Origin] = true
				out = append(out, d.Origin)
			}
		}
	}
	return out
}

// CompareVersions implements spec.md §3's version comparison rule: split
// name-version; if names differ the comparison is undefined (callers check
// names separately via InstallStatus computation). Versions compare by (a)
// epoch (after ','), then (b) revision (after '_'), then (c) dotted
// segments compared numerically when both parse as integers, lexically
// otherwise; if all matched prefixes are equal, the longer list wins.
//
// Returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	aEpoch, a2 := splitSuffix(a, ',')
	bEpoch, b2 := splitSuffix(b, ',')
	if c := compareSegment(aEpoch, bEpoch); c != 0 {
		return c
	}

	aRev, a3 := splitSuffix(a2, '_')
	bRev, b3 := splitSuffix(b2, '_')
	if c := compareSegment(aRev, bRev); c != 0 {
		return c
	}

	return compareDotted(a3, b3)
}

// splitSuffix splits "base,suffix" (or "base_suffix") into (suffix, base).
// If the separator is absent, suffix is "" and base is the whole string.
func splitSuffix(s string, sep byte) (suffix, base string) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return "", s
	}
	return s[idx+1:], s[:idx]
}

func compareSegment(a, b string) int {
	if a == b {
		return 0
	}
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	if a < b {
		return -1
	}
	return 1
}

func compareDotted(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	n := len(aParts)
	if len(bParts) < n {
		n = len(bParts)
	}
	for i := 0; i < n; i++ {
		if c := compareSegment(aParts[i], bParts[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(aParts) < len(bParts):
		return -1
	case len(aParts) > len(bParts):
		return 1
	default:
		return 0
	}
}

// SplitNameVersion splits a pkgname string "name-version" at the last '-',
// as required to compare a declared pkgname against an installed package
// name (spec.md §3's Install Status rule).
func SplitNameVersion(nameVersion string) (name, version string, ok bool) {
	idx := strings.LastIndexByte(nameVersion, '-')
	if idx < 0 {
		return "", "", false
	}
	return nameVersion[:idx], nameVersion[idx+1:], true
}

// ComputeInstallStatus implements spec.md §3's Install Status derivation:
// compare installedNameVersion against the port's declared pkgname. If
// names differ the port is Absent.
func ComputeInstallStatus(declaredPkgName string, installedNameVersion string) InstallStatus {
	declaredName, declaredVersion, ok := SplitNameVersion(declaredPkgName)
	if !ok {
		return Absent
	}
	if installedNameVersion == "" {
		return Absent
	}
	installedName, installedVersion, ok := SplitNameVersion(installedNameVersion)
	if !ok || installedName != declaredName {
		return Absent
	}
	switch c := CompareVersions(installedVersion, declaredVersion); {
	case c < 0:
		return Older
	case c > 0:
		return Newer
	default:
		return Current
	}
}
