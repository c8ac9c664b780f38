package libbento

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// RunInit is the entry point for the re-exec'd child process (invoked by
// the CLI as the hidden "__bento_init__" subcommand -- see cmd/bento). It
// implements §4.5 steps 5-9 from the child's side of the fork: block on
// the sync pipe until the parent has finished installing id maps and
// joining the cgroup, then mount the rootfs, set the hostname, drop
// supplementary groups when possible, and exec the user's process. This
// function never returns on success -- unix.Exec replaces the process
// image.
func RunInit(configPath string) error {
	cfg, err := readChildConfig(configPath)
	if err != nil {
		return fmt.Errorf("%w: reading child config: %w", ErrExecFailedSentinel, err)
	}

	if err := waitForRelease(); err != nil {
		return err
	}

	if err := finishRootfs(cfg.EffectiveRoot, cfg.ReadonlyRoot); err != nil {
		return err
	}

	if cfg.SetupNetworkNS {
		if err := bringLoopbackUp(); err != nil {
			return err
		}
	}

	if cfg.Hostname != "" {
		if err := unix.Sethostname([]byte(cfg.Hostname)); err != nil {
			return fmt.Errorf("%w: sethostname(%q): %w", ErrExecFailedSentinel, cfg.Hostname, err)
		}
	}

	if allowSupGroups() {
		if err := unix.Setgroups(nil); err != nil {
			return fmt.Errorf("%w: clearing supplementary groups: %w", ErrExecFailedSentinel, err)
		}
	}

	cwd := cfg.Cwd
	if cwd == "" {
		cwd = "/"
	}
	if err := unix.Chdir(cwd); err != nil {
		return fmt.Errorf("%w: chdir %q: %w", ErrExecFailedSentinel, cwd, err)
	}

	if len(cfg.Args) == 0 {
		return fmt.Errorf("%w: no process arguments supplied", ErrExecFailedSentinel)
	}
	binary, err := resolveExecPath(cfg.Args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecFailedSentinel, err)
	}

	env := cfg.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	if err := unix.Exec(binary, cfg.Args, env); err != nil {
		return fmt.Errorf("%w: exec %q: %w", ErrExecFailedSentinel, binary, err)
	}
	return nil // unreachable
}

// waitForRelease blocks reading one byte from fd 3 -- the sync pipe's read
// end, passed down via ExtraFiles by the parent in startChild. This is the
// point in the child's own lifetime that corresponds to §4.5 step 5
// ("block reading one byte from S") in the original fork-before-exec
// model.
func waitForRelease() error {
	const syncPipeFD = 3
	f := os.NewFile(syncPipeFD, "sync-pipe")
	if f == nil {
		return fmt.Errorf("%w: sync pipe fd %d not available", ErrExecFailedSentinel, syncPipeFD)
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil {
		return fmt.Errorf("%w: waiting on sync pipe: %w", ErrExecFailedSentinel, err)
	}
	return nil
}

// allowSupGroups reports whether setgroups(2) is callable in this process's
// user namespace. installIDMap's fallback path (process_linux.go) writes
// "deny" to /proc/<pid>/setgroups before the single-entry uid_map/gid_map
// can be installed without newuidmap/newgidmap, and once setgroups is
// denied for a user namespace, the syscall always fails with EPERM inside
// it -- so clearing supplementary groups is only attempted when it isn't,
// matching the teacher's own allowSupGroups check.
func allowSupGroups() bool {
	data, err := os.ReadFile("/proc/self/setgroups")
	if err != nil {
		return true
	}
	return string(bytes.TrimSpace(data)) != "deny"
}

// resolveExecPath finds name on $PATH unless it already contains a slash,
// matching ordinary shell exec semantics.
func resolveExecPath(name string) (string, error) {
	for _, c := range name {
		if c == '/' {
			return name, nil
		}
	}
	return exec.LookPath(name)
}
