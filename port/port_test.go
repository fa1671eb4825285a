package port

import (
	"testing"
	"time"

	"go-synth/depgraph"
)

func fixedNow() time.Time { return time.Unix(1700000000, 0) }

func TestAdvanceTrivialPastStage(t *testing.T) {
	p := New("x/a")
	p.stage = StageBuild

	res, _ := p.Advance(StageFetch)
	if res != AdvanceDone {
		t.Fatalf("Advance(Fetch) on a port already at Build = %v, want AdvanceDone", res)
	}
}

func TestAdvanceNeedsEarlierStageFirst(t *testing.T) {
	p := New("x/a")
	// stage is StageNone; advancing to Install needs Build first.
	res, ch := p.Advance(StageInstall)
	if res != AdvanceWait {
		t.Fatalf("Advance(Install) from none = %v, want AdvanceWait", res)
	}
	if ch == nil {
		t.Fatal("expected a non-nil wait channel")
	}
}

func TestAdvanceFailedIsTerminal(t *testing.T) {
	p := New("x/a")
	p.failed = true

	res, ch := p.Advance(StageConfig)
	if res != AdvanceFailed {
		t.Fatalf("Advance on failed port = %v, want AdvanceFailed", res)
	}
	if ch != nil {
		t.Fatal("expected nil channel on AdvanceFailed")
	}
}

func TestAdvanceWorkingWaits(t *testing.T) {
	p := New("x/a")
	p.working = fixedNow()

	res, ch := p.Advance(StageConfig)
	if res != AdvanceWait {
		t.Fatalf("Advance on working port = %v, want AdvanceWait", res)
	}
	if ch == nil {
		t.Fatal("expected non-nil wait channel")
	}
}

func TestAdvanceGatesOnUnresolvedDependencies(t *testing.T) {
	a := New("x/a")
	b := New("x/b")
	a.stage = StageBuild // one below Install, so precondition 4 passes

	a.Depends().AddDependency("LIB_DEPENDS", depgraph.Lib, b.Depends())

	res, _ := a.Advance(StageInstall)
	if res != AdvanceFailed {
		t.Fatalf("Advance(Install) with unresolved lib dep = %v, want AdvanceFailed (Unresolved maps to fail-fast, not wait)", res)
	}
}

func TestFinalizeInstallSetsCurrentOnSuccess(t *testing.T) {
	p := New("x/a")
	p.stage = StageBuild

	needsClean := p.Finalize(StageInstall, true)
	if p.stage != StageInstall {
		t.Fatalf("stage = %v, want Install", p.stage)
	}
	if p.installStatus != Current {
		t.Fatalf("installStatus = %v, want Current", p.installStatus)
	}
	if !needsClean {
		t.Fatal("Install always schedules a clean, success or not")
	}
}

func TestFinalizeFetchFailureDoesNotSchedulesClean(t *testing.T) {
	p := New("x/a")
	needsClean := p.Finalize(StageFetch, false)
	if !p.failed {
		t.Fatal("expected failed = true after failed Fetch")
	}
	if needsClean {
		t.Fatal("a failed Fetch has nothing on disk yet to clean")
	}
}

func TestFinalizeBuildFailureSchedulesClean(t *testing.T) {
	p := New("x/a")
	p.stage = StageFetch
	needsClean := p.Finalize(StageBuild, false)
	if !p.failed {
		t.Fatal("expected failed = true after failed Build")
	}
	if !needsClean {
		t.Fatal("a failed Build past Fetch must schedule a clean")
	}
}

func TestFinalizeInstallFailureSchedulesClean(t *testing.T) {
	p := New("x/a")
	p.stage = StageBuild
	needsClean := p.Finalize(StageInstall, false)
	if !p.failed {
		t.Fatal("expected failed = true after failed Install")
	}
	if !needsClean {
		t.Fatal("Install always schedules a clean, success or not")
	}
}

func TestFinalizeWakesWaiters(t *testing.T) {
	p := New("x/a")
	p.working = fixedNow()
	ch := p.waitForCompletion()

	p.Finalize(StageConfig, true)

	select {
	case <-ch:
	default:
		t.Fatal("expected waiter channel to be closed after Finalize")
	}
}

func TestResetForCleanClearsFailed(t *testing.T) {
	p := New("x/a")
	p.failed = true
	p.ResetForClean()
	if p.failed {
		t.Fatal("expected failed cleared after ResetForClean")
	}
}
