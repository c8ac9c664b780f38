package system

import (
	"os"
	"testing"
)

func TestProcessAliveSelf(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Fatal("the current process should report itself as alive")
	}
}

func TestProcessAliveInvalidPid(t *testing.T) {
	if ProcessAlive(0) {
		t.Error("pid 0 should never be reported alive")
	}
	if ProcessAlive(-1) {
		t.Error("a negative pid should never be reported alive")
	}
}

func TestKillAndReapAlreadyGonePid(t *testing.T) {
	// A pid this large is exceedingly unlikely to be live; KillAndReap
	// must treat ESRCH as success rather than propagating an error.
	if err := KillAndReap(1 << 30); err != nil {
		t.Fatalf("KillAndReap(already-gone pid) = %v, want nil", err)
	}
}

func TestKillAndReapNonPositivePid(t *testing.T) {
	if err := KillAndReap(0); err != nil {
		t.Fatalf("KillAndReap(0) = %v, want nil", err)
	}
}
