package libbento

import (
	"os"
	"testing"
	"time"
)

func TestReconcileLivenessDowngradesDeadPid(t *testing.T) {
	st := &State{ID: "c", Status: StatusCreated, Pid: -1, CreatedAt: time.Now()}
	changed := reconcileLiveness(st)
	if !changed {
		t.Fatal("expected reconcileLiveness to report a change")
	}
	if st.Status != StatusStopped {
		t.Fatalf("Status = %v, want stopped", st.Status)
	}
}

func TestReconcileLivenessPromotesAlivePid(t *testing.T) {
	st := &State{ID: "c", Status: StatusCreated, Pid: os.Getpid(), CreatedAt: time.Now()}
	changed := reconcileLiveness(st)
	if !changed {
		t.Fatal("expected created->running to report a change")
	}
	if st.Status != StatusRunning {
		t.Fatalf("Status = %v, want running", st.Status)
	}
}

func TestReconcileLivenessLeavesRunningAloneWhenAlive(t *testing.T) {
	st := &State{ID: "c", Status: StatusRunning, Pid: os.Getpid(), CreatedAt: time.Now()}
	if reconcileLiveness(st) {
		t.Fatal("expected no change for an already-running, still-alive record")
	}
	if st.Status != StatusRunning {
		t.Fatalf("Status = %v, want running", st.Status)
	}
}

func TestReconcileLivenessLeavesStoppedAlone(t *testing.T) {
	st := &State{ID: "c", Status: StatusStopped, CreatedAt: time.Now()}
	if reconcileLiveness(st) {
		t.Fatal("a stopped record should never be reconciled again")
	}
}

func TestResolveLimitsNormalizesSizes(t *testing.T) {
	limits, err := resolveLimits(CreateOptions{
		MemoryLimit:     "256M",
		MemoryHigh:      "200M",
		MemorySwapLimit: "max",
		CPULimit:        "75000 100000",
		CPUWeight:       200,
		PidsLimit:       "200",
	})
	if err != nil {
		t.Fatalf("resolveLimits: %v", err)
	}
	if limits.MemoryMax != "268435456" {
		t.Errorf("MemoryMax = %q, want 268435456", limits.MemoryMax)
	}
	if limits.MemoryHigh != "209715200" {
		t.Errorf("MemoryHigh = %q, want 209715200", limits.MemoryHigh)
	}
	if limits.MemorySwapMax != "max" {
		t.Errorf("MemorySwapMax = %q, want max", limits.MemorySwapMax)
	}
	if limits.CPUMax != "75000 100000" {
		t.Errorf("CPUMax = %q", limits.CPUMax)
	}
}

func TestResolveLimitsRejectsBadSize(t *testing.T) {
	_, err := resolveLimits(CreateOptions{MemoryLimit: "not-a-size"})
	if err == nil {
		t.Fatal("expected an error for an unparseable --memory-limit")
	}
}
