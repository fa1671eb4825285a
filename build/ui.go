package build

import (
	"time"

	"go-synth/scheduler"
	"go-synth/stats"
)

// BuildStats is the Monitor UI's progress payload, filled from a
// scheduler.Snapshot rather than the scheduler's internal queue state
// directly, so StdoutUI/NcursesUI stay agnostic of the scheduler package.
type BuildStats struct {
	Total      int
	Success    int
	Failed     int
	SkippedPre int // ports the cache found already up to date, never queued
	Skipped    int // ports skipped because a dependency failed
	Ignored    int
	Duration   time.Duration
}

// StatsFromSnapshot adapts a scheduler.Snapshot into the Monitor UI's
// BuildStats payload (spec.md §6's monitor contract: per-status-class
// counts). The scheduler doesn't distinguish dependency-skip from
// not-yet-reached, so Skipped stays 0; SkippedPre/Ignored are likewise
// cache/CLI-level concerns the scheduler itself doesn't track.
func StatsFromSnapshot(snap scheduler.Snapshot, duration time.Duration) BuildStats {
	return BuildStats{
		Total:    snap.Total,
		Success:  snap.Installed,
		Failed:   snap.Failed,
		Duration: duration,
	}
}

// BuildUI is the interface for displaying build progress
// Implementations can be stdout (current), ncurses, web UI, etc.
type BuildUI interface {
	// Start initializes the UI (e.g., setup ncurses screen)
	Start() error

	// Stop cleanly shuts down the UI (e.g., restore terminal)
	Stop()

	// UpdateProgress updates the progress display with current stats and elapsed time
	UpdateProgress(stats BuildStats, elapsed string)

	// LogEvent logs a worker event (e.g., "[worker 0] start build: vim")
	LogEvent(workerID int, message string)

	// OnStatsUpdate receives real-time stats updates (called every 1s by StatsCollector)
	// This is part of the stats.StatsConsumer interface
	OnStatsUpdate(info stats.TopInfo)
}
