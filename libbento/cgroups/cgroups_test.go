package cgroups

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContains(t *testing.T) {
	set := []string{"memory", "cpu", "pids"}
	if !contains(set, "cpu") {
		t.Error("expected cpu to be found")
	}
	if contains(set, "io") {
		t.Error("io should not be found")
	}
}

func TestReadControllers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cgroup.controllers")
	if err := os.WriteFile(path, []byte("cpuset cpu io memory pids\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := readControllers(path)
	if err != nil {
		t.Fatalf("readControllers: %v", err)
	}
	want := []string{"cpuset", "cpu", "io", "memory", "pids"}
	if len(got) != len(want) {
		t.Fatalf("readControllers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("readControllers[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCanWrite(t *testing.T) {
	dir := t.TempDir()
	if !canWrite(dir) {
		t.Error("expected a freshly created temp dir to be writable")
	}
	if canWrite(filepath.Join(dir, "does", "not", "exist")) {
		t.Error("a nonexistent parent should not be writable")
	}
}

func TestApplyLimitsWritesEachFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Dir(dir), filepath.Base(dir))
	m.leaf = dir // leaf already exists as the temp dir itself

	fails := m.ApplyLimits(Limits{
		MemoryMax: "268435456",
		CPUMax:    "75000 100000",
		CPUWeight: 200,
		PidsMax:   "200",
	})
	if len(fails) != 0 {
		t.Fatalf("ApplyLimits failures: %v", fails)
	}

	for file, want := range map[string]string{
		"memory.max": "268435456",
		"cpu.max":    "75000 100000",
		"cpu.weight": "200",
		"pids.max":   "200",
	} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			t.Fatalf("reading %s: %v", file, err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", file, data, want)
		}
	}
}

func TestApplyLimitsSkipsEmptyValues(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Dir(dir), filepath.Base(dir))
	m.leaf = dir

	m.ApplyLimits(Limits{MemoryMax: "100"})
	if _, err := os.Stat(filepath.Join(dir, "cpu.max")); !os.IsNotExist(err) {
		t.Error("cpu.max should not have been written when CPUMax is empty")
	}
}

func TestStatsMissingFilesAreNil(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Dir(dir), filepath.Base(dir))
	m.leaf = dir

	stats := m.Stats()
	if stats.MemoryCurrent != nil || stats.MemoryPeak != nil || stats.PidsCurrent != nil || stats.CPUUsageUsec != nil {
		t.Fatalf("Stats() = %+v, want all nil for an empty leaf", stats)
	}
}

func TestStatsReadsPresentFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Dir(dir), filepath.Base(dir))
	m.leaf = dir

	if err := os.WriteFile(filepath.Join(dir, "memory.current"), []byte("1048576\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pids.current"), []byte("3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	stats := m.Stats()
	if stats.MemoryCurrent == nil || *stats.MemoryCurrent != 1048576 {
		t.Errorf("MemoryCurrent = %v, want 1048576", stats.MemoryCurrent)
	}
	if stats.PidsCurrent == nil || *stats.PidsCurrent != 3 {
		t.Errorf("PidsCurrent = %v, want 3", stats.PidsCurrent)
	}
}
