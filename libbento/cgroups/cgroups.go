// Package cgroups implements the cgroup v2 resource controller: delegated
// subtree discovery, per-container leaf creation, limit application,
// process migration, and usage stats. It touches only the unified (v2)
// hierarchy and never writes to the legacy v1 controllers.
package cgroups

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const unifiedMountpoint = "/sys/fs/cgroup"

// Manager owns one per-container leaf directory under the discovered
// delegated subtree.
type Manager struct {
	id   string
	base string // delegated subtree the invoking user owns
	leaf string // base/id
}

// Limits are the resource values from the data model (§3), expressed as
// the literal strings the corresponding cgroup files accept.
type Limits struct {
	MemoryMax     string // bytes, "K"/"M"/"G" suffixed, or "max"
	MemoryHigh    string
	MemorySwapMax string
	CPUMax        string // "<quota-us> <period-us>"
	CPUWeight     int    // 1-10000, 0 means unset
	PidsMax       string // integer or "max"
}

// Stats is the subset of usage read back from the leaf's controller files.
// A nil pointer field means the file was missing or unparseable (§4.2).
type Stats struct {
	MemoryCurrent *uint64
	MemoryPeak    *uint64
	CPUUsageUsec  *uint64
	PidsCurrent   *uint64
}

// DiscoverBase locates the cgroup v2 directory the invoking user may write
// into, per §4.2: read /proc/self/cgroup, take the hierarchy-id-0 entry,
// and resolve it against /sys/fs/cgroup.
func DiscoverBase() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", fmt.Errorf("reading /proc/self/cgroup: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "0::") {
			continue
		}
		rel := strings.TrimPrefix(line, "0::")
		base := filepath.Join(unifiedMountpoint, rel)
		return resolveWritableBase(base)
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading /proc/self/cgroup: %w", err)
	}
	return "", fmt.Errorf("no cgroup v2 unified entry (hierarchy id 0) found; is cgroup v2 mounted and delegated?")
}

// resolveWritableBase walks up past any leaf this runtime previously
// created for controller evacuation (see EnableControllers) and returns
// the first ancestor the caller can create directories in.
func resolveWritableBase(base string) (string, error) {
	for filepath.Base(base) == "bento-supervisor" {
		parent := filepath.Dir(base)
		if parent == base {
			break
		}
		base = parent
	}
	if canWrite(base) {
		return base, nil
	}
	return "", fmt.Errorf("cgroup %s is not writable by this user; delegation is likely missing", base)
}

func canWrite(dir string) bool {
	probe := filepath.Join(dir, ".bento-write-check")
	if err := os.Mkdir(probe, 0o755); err != nil {
		return false
	}
	os.Remove(probe)
	return true
}

// NewManager creates a Manager bound to base/id without touching the
// filesystem yet.
func NewManager(base, id string) *Manager {
	return &Manager{id: id, base: base, leaf: filepath.Join(base, id)}
}

// Path returns the leaf directory path.
func (m *Manager) Path() string { return m.leaf }

// EnableControllers appends "+memory +cpu +pids" to the parent's
// cgroup.subtree_control, skipping any controller not present in the
// parent's cgroup.controllers (rootless delegation often excludes "io";
// §4.2 says never attempt "io" writes). If the write fails because the
// parent cgroup has processes of its own, processes are evacuated into a
// sibling leaf once and the write is retried (ported from the original
// Rust implementation's fallback).
func (m *Manager) EnableControllers() error {
	available, err := readControllers(filepath.Join(m.base, "cgroup.controllers"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCgroupUnavailable, err)
	}

	var toEnable []string
	for _, want := range []string{"memory", "cpu", "pids"} {
		if contains(available, want) {
			toEnable = append(toEnable, "+"+want)
		}
	}
	if len(toEnable) == 0 {
		return fmt.Errorf("%w: none of memory/cpu/pids are delegated at %s", ErrCgroupControllerMissing, m.base)
	}

	subtreeControl := filepath.Join(m.base, "cgroup.subtree_control")
	payload := strings.Join(toEnable, " ")
	if err := os.WriteFile(subtreeControl, []byte(payload), 0o644); err == nil {
		return nil
	}

	// Retry once after evacuating the parent's own processes into a leaf.
	if err := m.evacuateParent(); err != nil {
		return fmt.Errorf("%w: evacuating parent before enabling controllers: %w", ErrCgroupUnavailable, err)
	}
	if err := os.WriteFile(subtreeControl, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("%w: writing %s=%q: %w", ErrCgroupUnavailable, subtreeControl, payload, err)
	}
	return nil
}

func (m *Manager) evacuateParent() error {
	evac := filepath.Join(m.base, "bento-supervisor")
	if err := os.MkdirAll(evac, 0o755); err != nil {
		return err
	}
	procs, err := os.ReadFile(filepath.Join(m.base, "cgroup.procs"))
	if err != nil {
		return err
	}
	for _, pid := range strings.Fields(string(procs)) {
		// Best-effort: a pid that has already exited is not an error here.
		_ = os.WriteFile(filepath.Join(evac, "cgroup.procs"), []byte(pid), 0o644)
	}
	return nil
}

func readControllers(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(data)), nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// CreateLeaf creates the per-container cgroup directory.
func (m *Manager) CreateLeaf() error {
	if err := os.MkdirAll(m.leaf, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrCgroupUnavailable, m.leaf, err)
	}
	return nil
}

// ApplyLimits writes each supplied value to its matching controller file.
// Each write is independent and best-effort: a failure on one controller
// is collected and returned as a LimitApplyFailed, but earlier successful
// writes are not undone (§4.2). The caller decides, per spec §7, whether
// any individual failure should abort creation.
func (m *Manager) ApplyLimits(l Limits) []*LimitApplyFailed {
	var fails []*LimitApplyFailed

	write := func(file, value string) {
		if value == "" {
			return
		}
		if err := os.WriteFile(filepath.Join(m.leaf, file), []byte(value), 0o644); err != nil {
			fails = append(fails, &LimitApplyFailed{Controller: file, Cause: err})
		}
	}

	write("memory.max", l.MemoryMax)
	write("memory.high", l.MemoryHigh)
	write("memory.swap.max", l.MemorySwapMax)
	write("cpu.max", l.CPUMax)
	if l.CPUWeight > 0 {
		write("cpu.weight", strconv.Itoa(l.CPUWeight))
	}
	write("pids.max", l.PidsMax)

	return fails
}

// Join writes pid to the leaf's cgroup.procs, migrating it into the
// container's cgroup.
func (m *Manager) Join(pid int) error {
	path := filepath.Join(m.leaf, "cgroup.procs")
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("%w: joining pid %d to %s: %w", ErrCgroupUnavailable, pid, path, err)
	}
	return nil
}

// Stats reads back the usage files. Missing files produce a nil field
// rather than an error (§4.2).
func (m *Manager) Stats() Stats {
	var s Stats
	s.MemoryCurrent = readUint(filepath.Join(m.leaf, "memory.current"))
	s.MemoryPeak = readUint(filepath.Join(m.leaf, "memory.peak"))
	s.PidsCurrent = readUint(filepath.Join(m.leaf, "pids.current"))
	s.CPUUsageUsec = readCPUUsageUsec(filepath.Join(m.leaf, "cpu.stat"))
	return s
}

func readUint(path string) *uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func readCPUUsageUsec(path string) *uint64 {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[0] == "usage_usec" {
			v, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return nil
			}
			return &v
		}
	}
	return nil
}

// SampleCPUPercent takes two usage_usec readings spaced interval apart and
// returns the percentage of one CPU consumed over that window (§4.7).
func (m *Manager) SampleCPUPercent(interval time.Duration) (float64, bool) {
	first := readCPUUsageUsec(filepath.Join(m.leaf, "cpu.stat"))
	if first == nil {
		return 0, false
	}
	time.Sleep(interval)
	second := readCPUUsageUsec(filepath.Join(m.leaf, "cpu.stat"))
	if second == nil || *second < *first {
		return 0, false
	}
	deltaUsec := float64(*second - *first)
	pct := (deltaUsec / float64(interval.Microseconds())) * 100
	return pct, true
}

// Teardown removes the leaf. If the kernel reports EBUSY (processes still
// attached), every pid in cgroup.procs is sent SIGKILL and the removal is
// retried up to maxTeardownAttempts times at ~100ms spacing before
// surfacing ErrCgroupBusy (§4.2, §5).
func (m *Manager) Teardown() error {
	const maxTeardownAttempts = 10
	const retrySpacing = 100 * time.Millisecond

	for attempt := 0; attempt < maxTeardownAttempts; attempt++ {
		err := os.Remove(m.leaf)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if !isBusy(err) {
			return fmt.Errorf("%w: removing %s: %w", ErrCgroupUnavailable, m.leaf, err)
		}
		m.killStragglers()
		time.Sleep(retrySpacing)
	}
	return fmt.Errorf("%w: %s still busy after %d attempts", ErrCgroupBusy, m.leaf, maxTeardownAttempts)
}

func (m *Manager) killStragglers() {
	data, err := os.ReadFile(filepath.Join(m.leaf, "cgroup.procs"))
	if err != nil {
		return
	}
	for _, pidStr := range strings.Fields(string(data)) {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			continue
		}
		_ = unix.Kill(pid, unix.SIGKILL)
	}
}

func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY)
}
