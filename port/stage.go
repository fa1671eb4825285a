package port

import "go-synth/depgraph"

// Stage is the totally-ordered build pipeline step, spec.md §3: Config(1) <
// Fetch(2) < Build(3) < Install(4) < Package(5). Stage 0 means "not yet
// configured".
type Stage int

const (
	StageNone Stage = iota
	StageConfig
	StageFetch
	StageBuild
	StageInstall
	StagePackage

	// StageClean tags a `make clean` dispatch. It is not part of the
	// Advance precondition ladder (clean never gets scheduled via
	// Advance/finalize — the scheduler queues it directly after a
	// failure in any stage past Fetch, or after any Install) and has
	// no depgraph.Stage counterpart.
	StageClean
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageConfig:
		return "config"
	case StageFetch:
		return "fetch"
	case StageBuild:
		return "build"
	case StageInstall:
		return "install"
	case StagePackage:
		return "package"
	case StageClean:
		return "clean"
	default:
		return "unknown"
	}
}

// depgraphStage converts a port.Stage to the depgraph package's own Stage
// enum, which exists separately to avoid an import cycle (depgraph cannot
// import port, since port.Port embeds *depgraph.Handler).
func (s Stage) depgraphStage() depgraph.Stage {
	switch s {
	case StageConfig:
		return depgraph.StageConfig
	case StageFetch:
		return depgraph.StageFetch
	case StageBuild:
		return depgraph.StageBuild
	case StageInstall:
		return depgraph.StageInstall
	case StagePackage:
		return depgraph.StagePackage
	default:
		return depgraph.StageConfig
	}
}

// InstallStatus is the comparison of a port's declared pkgname/version
// against what's actually in the package database (spec.md §3).
type InstallStatus int

const (
	Absent InstallStatus = iota
	Older
	Current
	Newer
)

func (s InstallStatus) String() string {
	switch s {
	case Absent:
		return "absent"
	case Older:
		return "older"
	case Current:
		return "current"
	case Newer:
		return "newer"
	default:
		return "unknown"
	}
}
