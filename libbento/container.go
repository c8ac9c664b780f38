// Package libbento implements bento's container lifecycle and isolation
// engine: OCI config loading, cgroup v2 resource control, rootfs
// preparation, persistent cross-invocation state, and the fork/namespace
// bootstrap that ties them together. It has no daemon and no in-memory
// supervisor -- every exported entry point here is meant to be called once
// per short-lived CLI invocation.
package libbento

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"

	"github.com/bento-run/bento/libbento/cgroups"
	"github.com/bento-run/bento/libbento/system"
)

// CreateOptions carries the CLI flags relevant to creation (§6). Any empty
// string field means "leave that controller file untouched."
type CreateOptions struct {
	BundlePath       string
	MemoryLimit      string
	MemoryHigh       string
	MemorySwapLimit  string
	CPULimit         string // "<quota-us> <period-us>"
	CPUWeight        int
	PidsLimit        string
	NoCgroups        bool
	PopulationMethod PopulationMethod
}

// Create implements §4.5's ten-step creation flow.
func Create(store *Store, id string, opts CreateOptions) (*State, error) {
	bundlePath, err := filepath.Abs(opts.BundlePath)
	if err != nil {
		return nil, newErr("create", KindConfigInvalid, id, fmt.Errorf("resolving bundle path: %w", err))
	}

	spec, err := LoadConfig(bundlePath)
	if err != nil {
		return nil, err
	}

	limits, err := resolveLimits(opts)
	if err != nil {
		return nil, newErr("create", KindConfigInvalid, id, err)
	}

	population := opts.PopulationMethod
	if population == "" {
		population = PopulationCopy
	}

	st := &State{
		ID:         id,
		BundlePath: bundlePath,
		Status:     StatusCreating,
		CreatedAt:  time.Now(),
		Population: population,
		Limits:     limits,
	}
	if err := store.Create(st); err != nil {
		return nil, err
	}

	created, err := finishCreate(store, st, spec, opts)
	if err != nil {
		_ = store.Delete(id)
		return nil, err
	}
	return created, nil
}

func finishCreate(store *Store, st *State, spec *specs.Spec, opts CreateOptions) (*State, error) {
	id := st.ID
	bundleRootfs := filepath.Join(st.BundlePath, "rootfs")
	workspace := store.WorkspaceDir(id)

	effectiveRoot := bundleRootfs
	if st.Population != PopulationManual {
		if err := os.MkdirAll(filepath.Dir(workspace), 0o755); err != nil {
			return nil, newErr("create", KindRootfsPrepareFailed, id, err)
		}
		if err := populateRootfs(bundleRootfs, workspace, st.Population); err != nil {
			return nil, newErrFromSentinel("create", id, err)
		}
		effectiveRoot = workspace
		st.WorkspacePath = workspace
	}

	requestedNS := RequestedNamespaces(spec)
	cloneFlags, err := cloneFlagsFor(requestedNS)
	if err != nil {
		cleanupWorkspace(store, id)
		return nil, newErrFromSentinel("create", id, err)
	}

	childCfg := buildChildConfig(id, spec, effectiveRoot)
	workDir := filepath.Dir(workspace)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		cleanupWorkspace(store, id)
		return nil, newErr("create", KindRootfsPrepareFailed, id, err)
	}

	boot, err := startChildWithFallback(workDir, childCfg, cloneFlags)
	if err != nil {
		cleanupWorkspace(store, id)
		return nil, err
	}
	pid := boot.pid()

	if err := installIDMap(pid); err != nil {
		boot.abort()
		cleanupWorkspace(store, id)
		return nil, newErrFromSentinel("create", id, err)
	}

	if !opts.NoCgroups {
		cgroupPath, err := setupCgroup(id, pid, st.Limits)
		if err != nil {
			boot.abort()
			cleanupWorkspace(store, id)
			return nil, err
		}
		st.CgroupPath = cgroupPath
	}

	if err := boot.release(); err != nil {
		boot.abort()
		teardownCgroupByPath(st.CgroupPath)
		cleanupWorkspace(store, id)
		return nil, err
	}

	boot.cmd.Process.Release()

	st.Status = StatusCreated
	st.Pid = pid
	st.ConfigSnapshot = spec
	if err := store.Save(st); err != nil {
		return nil, err
	}

	notifyReady()
	return st, nil
}

// startChildWithFallback starts the namespaced child, retrying once with
// only the mandatory user namespace flag when the kernel rejects the full
// flag set with EINVAL -- the "NamespaceDenied on non-user namespaces...
// is demoted to a warning" policy from §7.
func startChildWithFallback(workDir string, cfg *childConfig, flags uintptr) (*bootstrapProcess, error) {
	boot, err := startChild(workDir, cfg, flags)
	if err == nil {
		return boot, nil
	}
	if !errors.Is(err, syscall.EINVAL) || flags == syscall.CLONE_NEWUSER {
		return nil, err
	}

	logrus.WithField("id", cfg.ID).Warn("kernel rejected one or more requested namespaces; retrying with only the user namespace")
	boot, err2 := startChild(workDir, cfg, syscall.CLONE_NEWUSER)
	if err2 != nil {
		return nil, newErr("create", KindNamespaceDenied, cfg.ID, fmt.Errorf("even the user namespace alone was rejected: %w", err2))
	}
	return boot, nil
}

func resolveLimits(opts CreateOptions) (ResourceLimits, error) {
	var limits ResourceLimits

	normalize := func(raw string) (string, error) {
		if raw == "" {
			return "", nil
		}
		bytes, isMax, err := ParseSize(raw)
		if err != nil {
			return "", err
		}
		return FormatSize(bytes, isMax), nil
	}

	var err error
	if limits.MemoryMax, err = normalize(opts.MemoryLimit); err != nil {
		return limits, fmt.Errorf("--memory-limit: %w", err)
	}
	if limits.MemoryHigh, err = normalize(opts.MemoryHigh); err != nil {
		return limits, fmt.Errorf("--memory-high: %w", err)
	}
	if limits.MemorySwapMax, err = normalize(opts.MemorySwapLimit); err != nil {
		return limits, fmt.Errorf("--memory-swap-limit: %w", err)
	}
	limits.CPUMax = opts.CPULimit
	limits.CPUWeight = opts.CPUWeight
	limits.PidsMax = opts.PidsLimit
	return limits, nil
}

func buildChildConfig(id string, spec *specs.Spec, effectiveRoot string) *childConfig {
	cfg := &childConfig{
		ID:            id,
		Args:          spec.Process.Args,
		Env:           spec.Process.Env,
		EffectiveRoot: effectiveRoot,
	}
	if spec.Process.Cwd != "" {
		cfg.Cwd = spec.Process.Cwd
	}
	if spec.Root != nil {
		cfg.ReadonlyRoot = spec.Root.Readonly
	}
	if spec.Hostname != "" {
		cfg.Hostname = spec.Hostname
	}
	for _, m := range spec.Mounts {
		cfg.Mounts = append(cfg.Mounts, childMount{
			Destination: m.Destination,
			Source:      m.Source,
			Type:        m.Type,
			Options:     m.Options,
		})
	}
	if RequestedNamespaces(spec)[specs.NetworkNamespace] {
		cfg.SetupNetworkNS = true
	}
	return cfg
}

func setupCgroup(id string, pid int, limits ResourceLimits) (string, error) {
	base, err := cgroups.DiscoverBase()
	if err != nil {
		return "", newErr("create", KindCgroupUnavailable, id, err)
	}
	mgr := cgroups.NewManager(base, id)
	if err := mgr.EnableControllers(); err != nil {
		if errors.Is(err, cgroups.ErrCgroupControllerMissing) {
			return "", newErr("create", KindCgroupControllerMissing, id, err)
		}
		return "", newErr("create", KindCgroupUnavailable, id, err)
	}
	if err := mgr.CreateLeaf(); err != nil {
		return "", newErr("create", KindCgroupUnavailable, id, err)
	}

	cgLimits := cgroups.Limits{
		MemoryMax:     limits.MemoryMax,
		MemoryHigh:    limits.MemoryHigh,
		MemorySwapMax: limits.MemorySwapMax,
		CPUMax:        limits.CPUMax,
		CPUWeight:     limits.CPUWeight,
		PidsMax:       limits.PidsMax,
	}
	for _, fail := range mgr.ApplyLimits(cgLimits) {
		if fail.Controller == "memory.swap.max" {
			logrus.WithError(fail.Cause).Warn("memory.swap.max unsupported in this rootless environment; continuing without a swap limit")
			continue
		}
		_ = mgr.Teardown()
		return "", newErr("create", KindLimitApplyFailed, id, fail)
	}

	if err := mgr.Join(pid); err != nil {
		_ = mgr.Teardown()
		return "", newErr("create", KindCgroupUnavailable, id, err)
	}
	return mgr.Path(), nil
}

func teardownCgroupByPath(path string) {
	if path == "" {
		return
	}
	mgr := cgroups.NewManager(filepath.Dir(path), filepath.Base(path))
	_ = mgr.Teardown()
}

// cleanupWorkspace removes <statedir>/work/<id> unconditionally, regardless
// of population method: even "manual" population leaves child-config.json
// behind under workDir (finishCreate), so the directory must still be
// removed on any create-failure path.
func cleanupWorkspace(store *Store, id string) {
	_ = os.RemoveAll(filepath.Dir(store.WorkspaceDir(id)))
}

func notifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Start implements the create/start split from §4.5 and §9: bento already
// exec'd the user's process during Create, so Start only verifies it is
// still alive and reconciles status accordingly.
func Start(store *Store, id string) (*State, error) {
	st, err := store.Load(id)
	if err != nil {
		return nil, err
	}
	reconcileLiveness(st)
	if err := store.Save(st); err != nil {
		return nil, err
	}
	notifyReady()
	return st, nil
}

// Inspect loads and liveness-reconciles a single record (§4.6).
func Inspect(store *Store, id string) (*State, error) {
	st, err := store.Load(id)
	if err != nil {
		return nil, err
	}
	if reconcileLiveness(st) {
		_ = store.Save(st)
	}
	return st, nil
}

// List enumerates and liveness-reconciles every record (§4.6).
func List(store *Store) ([]*State, []error) {
	states, errs := store.List()
	for _, st := range states {
		if reconcileLiveness(st) {
			_ = store.Save(st)
		}
	}
	return states, errs
}

// reconcileLiveness downgrades a created/running record to stopped when
// its pid is no longer alive, per the "lazy reconciliation" invariant in
// §3 and §4.6. It reports whether the record changed.
func reconcileLiveness(st *State) bool {
	if st.Status != StatusCreated && st.Status != StatusRunning {
		return false
	}
	if st.HasPid() && system.ProcessAlive(st.Pid) {
		if st.Status == StatusCreated {
			st.Status = StatusRunning
			return true
		}
		return false
	}
	st.Status = StatusStopped
	return true
}

// Kill implements §4.6: idempotent SIGKILL-and-reap.
func Kill(store *Store, id string) (*State, error) {
	st, err := store.Load(id)
	if err != nil {
		return nil, err
	}
	if st.HasPid() && system.ProcessAlive(st.Pid) {
		if err := system.KillAndReap(st.Pid); err != nil {
			return nil, newErr("kill", KindExecFailed, id, err)
		}
	}
	if st.Status != StatusStopped {
		st.Status = StatusStopped
		if err := store.Save(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Delete implements §4.6 with the kill-then-delete policy chosen for the
// ambiguous Open Question in §9: a running container is killed rather than
// rejected with Busy. Orphaned cgroup/workspace side effects are removed
// even when the state record itself is already gone.
func Delete(store *Store, id string) error {
	st, err := store.Load(id)
	if err != nil {
		var typed *Error
		if errors.As(err, &typed) && typed.Kind == KindStateNotFound {
			cleanupOrphans(store, id)
			return nil
		}
		return err
	}

	if st.HasPid() && system.ProcessAlive(st.Pid) {
		_ = system.KillAndReap(st.Pid)
	}
	if st.CgroupPath != "" {
		teardownCgroupByPath(st.CgroupPath)
	}
	cleanupWorkspace(store, id)
	return store.Delete(id)
}

func cleanupOrphans(store *Store, id string) {
	teardownCgroupByPath(filepath.Join(cgroupBaseGuess(), id))
	cleanupWorkspace(store, id)
}

// cgroupBaseGuess best-effort re-derives the delegated base for orphan
// cleanup when no state record survives to tell us the real cgroup_path.
func cgroupBaseGuess() string {
	base, err := cgroups.DiscoverBase()
	if err != nil {
		return ""
	}
	return base
}

// ContainerStats is one row of the stats table (§4.7). Pointer fields are
// nil when the corresponding controller file was missing or unreadable.
type ContainerStats struct {
	ID            string
	MemoryCurrent *uint64
	MemoryPeak    *uint64
	PidsCurrent   *uint64
	CPUPercent    *float64
}

// Stats implements §4.7: for every record with a cgroup_path, sample usage
// and a short CPU% window.
func Stats(store *Store, sampleWindow time.Duration) ([]ContainerStats, []error) {
	states, errs := store.List()
	var out []ContainerStats
	for _, st := range states {
		if st.CgroupPath == "" {
			continue
		}
		mgr := cgroups.NewManager(filepath.Dir(st.CgroupPath), filepath.Base(st.CgroupPath))
		raw := mgr.Stats()
		row := ContainerStats{
			ID:            st.ID,
			MemoryCurrent: raw.MemoryCurrent,
			MemoryPeak:    raw.MemoryPeak,
			PidsCurrent:   raw.PidsCurrent,
		}
		if pct, ok := mgr.SampleCPUPercent(sampleWindow); ok {
			row.CPUPercent = &pct
		}
		out = append(out, row)
	}
	return out, errs
}
