package libbento

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	mobyuser "github.com/moby/sys/user"
	"github.com/moby/sys/userns"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// nsFlags maps a requested OCI namespace type to its clone(2) flag, per
// §3.1's namespace_spec and §4.5 step 2 ("translate requested namespaces
// to CLONE_NEW* flags").
var nsFlags = map[specs.LinuxNamespaceType]uintptr{
	specs.UserNamespace:    unix.CLONE_NEWUSER,
	specs.MountNamespace:   unix.CLONE_NEWNS,
	specs.PIDNamespace:     unix.CLONE_NEWPID,
	specs.IPCNamespace:     unix.CLONE_NEWIPC,
	specs.UTSNamespace:     unix.CLONE_NEWUTS,
	specs.CgroupNamespace:  unix.CLONE_NEWCGROUP,
	specs.NetworkNamespace: unix.CLONE_NEWNET,
}

// cloneFlagsFor computes the clone flag bitmask for the requested set,
// denying (per §4.5 step 1 / §9) any container that does not request a
// user namespace -- bento is rootless-only.
func cloneFlagsFor(requested map[specs.LinuxNamespaceType]bool) (uintptr, error) {
	if !requested[specs.UserNamespace] {
		return 0, fmt.Errorf("%w: a user namespace is required; bento never runs a container in the host's own user namespace", ErrNamespaceDeniedSentinel)
	}
	if userns.RunningInUserNS() {
		// Nested rootless (e.g. bento invoked inside another rootless
		// container) still works -- subordinate id ranges just come from
		// the outer namespace's own mapping -- but it is worth a debug
		// note since id-mapping failures there are harder to diagnose.
		logrus.Debug("bento itself is running inside a user namespace; subordinate id ranges are relative to the outer mapping")
	}
	var flags uintptr
	for name, want := range requested {
		if !want {
			continue
		}
		flag, ok := nsFlags[name]
		if !ok {
			continue
		}
		flags |= flag
	}
	return flags, nil
}

// bootstrapProcess is everything process_linux owns about the child up
// until the sync pipe is released: its *exec.Cmd, the write end of the
// release pipe, and the path to the JSON file the child reads on its own
// side (childconfig.go).
type bootstrapProcess struct {
	cmd        *exec.Cmd
	syncWrite  *os.File
	configPath string
}

// startChild re-execs the bento binary as "__bento_init__" inside a freshly
// cloned set of namespaces, per §4.5 steps 2-5: the child is created and
// immediately exec'd into the init entry point, where it blocks on the
// read end of a sync pipe before touching the filesystem any further. This
// is the practical Go rendering of "fork, then have the child wait on a
// pipe while the parent finishes setup": Go cannot safely fork a
// multi-threaded runtime and run arbitrary code before exec, so the
// blocking point is moved to the very first thing the re-exec'd binary
// does instead of to a gap between clone() and execve().
func startChild(workspace string, cfg *childConfig, cloneFlags uintptr) (*bootstrapProcess, error) {
	configPath := filepath.Join(workspace, "child-config.json")
	if err := writeChildConfig(configPath, cfg); err != nil {
		return nil, newErr("create", KindStateWriteFailed, cfg.ID, err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		return nil, newErr("create", KindExecFailed, cfg.ID, fmt.Errorf("resolving own executable: %w", err))
	}

	syncRead, syncWrite, err := os.Pipe()
	if err != nil {
		return nil, newErr("create", KindExecFailed, cfg.ID, fmt.Errorf("creating sync pipe: %w", err))
	}

	cmd := exec.Command(selfExe, "__bento_init__", configPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{syncRead}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
	}

	if err := cmd.Start(); err != nil {
		syncRead.Close()
		syncWrite.Close()
		return nil, newErr("create", KindExecFailed, cfg.ID, fmt.Errorf("starting child: %w", err))
	}
	syncRead.Close() // parent keeps only the write end

	return &bootstrapProcess{cmd: cmd, syncWrite: syncWrite, configPath: configPath}, nil
}

// release writes the one byte that lets the blocked child proceed past its
// sync-pipe read, per §4.5 step 8.
func (b *bootstrapProcess) release() error {
	_, err := b.syncWrite.Write([]byte{0})
	closeErr := b.syncWrite.Close()
	if err != nil {
		return newErr("create", KindExecFailed, "", fmt.Errorf("releasing child: %w", err))
	}
	return closeErr
}

// abort is used when setup fails after the child exists but before it has
// been released: kill it outright rather than leaving it parked forever on
// the pipe read.
func (b *bootstrapProcess) abort() {
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_, _ = b.cmd.Process.Wait()
	}
	b.syncWrite.Close()
}

func (b *bootstrapProcess) pid() int {
	if b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// installIDMap writes the uid/gid mapping for pid's new user
// namespace, per §4.5 steps 6-7. It prefers newuidmap/newgidmap with
// subordinate id ranges discovered from /etc/subuid and /etc/subgid when
// both the binaries and a matching range are available, and falls back to
// writing /proc/<pid>/uid_map (and gid_map, after denying setgroups)
// directly with the single entry 0:<euid>:1 -- the only mapping a process
// can install for itself without help from a setuid binary.
func installIDMap(pid int) error {
	euid := os.Getuid()
	egid := os.Getgid()

	if err := tryNewidmap(pid, euid, egid); err == nil {
		return nil
	}

	// A denied setgroups write here is discarded the way the teacher's own
	// system.UpdateSetgroups caller does: the kernel can already have the
	// child in that state (e.g. it denied its own setgroups before we get
	// here), and the write existing only to permit the uid_map/gid_map
	// write below, not because its own success matters.
	_ = os.WriteFile(fmt.Sprintf("/proc/%d/setgroups", pid), []byte("deny"), 0o644)
	if err := writeSingleMap(fmt.Sprintf("/proc/%d/uid_map", pid), 0, euid, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrIDMapFailedSentinel, err)
	}
	if err := writeSingleMap(fmt.Sprintf("/proc/%d/gid_map", pid), 0, egid, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrIDMapFailedSentinel, err)
	}
	return nil
}

func writeSingleMap(path string, containerID, hostID, size int) error {
	line := fmt.Sprintf("%d %d %d\n", containerID, hostID, size)
	return os.WriteFile(path, []byte(line), 0o644)
}

// tryNewidmap attempts the multi-range newuidmap/newgidmap path: the
// current user's own uid/gid mapped to 0, plus whatever subordinate id
// range /etc/subuid and /etc/subgid grant them, ported from the original
// implementation's id-mapping fallback chain.
func tryNewidmap(pid, euid, egid int) error {
	newuidmapPath, err := exec.LookPath("newuidmap")
	if err != nil {
		return err
	}
	newgidmapPath, err := exec.LookPath("newgidmap")
	if err != nil {
		return err
	}

	me, err := user.Current()
	if err != nil {
		return err
	}

	uidRanges, err := subIDRanges("/etc/subuid", me.Username, euid)
	if err != nil {
		return err
	}
	gidRanges, err := subIDRanges("/etc/subgid", me.Username, egid)
	if err != nil {
		return err
	}

	uidArgs := append([]string{strconv.Itoa(pid), "0", strconv.Itoa(euid), "1"}, uidRanges...)
	gidArgs := append([]string{strconv.Itoa(pid), "0", strconv.Itoa(egid), "1"}, gidRanges...)

	if out, err := exec.Command(newuidmapPath, uidArgs...).CombinedOutput(); err != nil {
		return fmt.Errorf("newuidmap: %s: %w", string(out), err)
	}
	if out, err := exec.Command(newgidmapPath, gidArgs...).CombinedOutput(); err != nil {
		return fmt.Errorf("newgidmap: %s: %w", string(out), err)
	}
	return nil
}

// subIDRanges reads /etc/subuid or /etc/subgid for username and returns
// the next mapping triple ("1", start, count), continuing the container-id
// numbering after the single entry already claimed for hostID itself.
func subIDRanges(path, username string, hostID int) ([]string, error) {
	entries, err := mobyuser.ParseSubIDFile(path)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == username {
			return []string{"1", strconv.FormatInt(e.SubID, 10), strconv.FormatInt(e.Count, 10)}, nil
		}
	}
	return nil, fmt.Errorf("no subordinate id range for %s in %s", username, path)
}
