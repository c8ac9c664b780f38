package libbento

import (
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/sys/mountinfo"
	"github.com/mrunalp/fileutils"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// populateRootfs materializes the container's root filesystem at dst
// according to the requested population policy (§3.3, §4.3):
//
//   - copy: recursively copy src into dst (host and container trees stay
//     independent after creation).
//   - manual: nothing is done; src is used in place as the root and dst is
//     left untouched.
//   - bind: bind-mount src onto dst.
func populateRootfs(src, dst string, policy PopulationMethod) error {
	switch policy {
	case PopulationManual:
		return nil
	case PopulationBind:
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ErrRootfsPrepareFailedSentinel, dst, err)
		}
		if err := unix.Mount(src, dst, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("%w: bind-mounting %s onto %s: %w", ErrRootfsPrepareFailedSentinel, src, dst, err)
		}
		mounted, err := mountinfo.Mounted(dst)
		if err != nil || !mounted {
			return fmt.Errorf("%w: %s did not end up mounted", ErrRootfsPrepareFailedSentinel, dst)
		}
		return nil
	case PopulationCopy:
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ErrRootfsPrepareFailedSentinel, dst, err)
		}
		if err := fileutils.CopyDirectory(src, dst); err != nil {
			return fmt.Errorf("%w: copying %s to %s: %w", ErrRootfsPrepareFailedSentinel, src, dst, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown rootfs population policy %q", ErrRootfsPrepareFailedSentinel, policy)
	}
}

// finishRootfs runs inside the child, after namespaces are active and ids
// are mapped, but before the user's process is exec'd (§4.5 step 9): it
// makes the mount tree private so nothing done from here on propagates
// back to the host, mounts /proc, /sys, and a minimal /dev, switches root
// via pivot_root (falling back to chroot when pivot_root is unavailable,
// e.g. the rootfs itself is the real root), and leaves the process chdir'd
// appropriately.
func finishRootfs(root string, readonly bool) error {
	if err := makeMountTreePrivate(); err != nil {
		return err
	}
	if err := mountProc(root); err != nil {
		return err
	}
	if err := mountSys(root); err != nil {
		return err
	}
	if err := mountDev(root); err != nil {
		return err
	}
	if err := switchRoot(root); err != nil {
		return err
	}
	if readonly {
		if err := remountRootReadonly(); err != nil {
			return err
		}
	}
	return nil
}

// remountRootReadonly makes the now-pivoted "/" read-only, per root.readonly
// in the OCI config (§4.3). switchRoot always self-bind-mounts root before
// pivoting, so a plain MS_REMOUNT|MS_BIND suffices here.
func remountRootReadonly() error {
	flags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
	if err := unix.Mount("", "/", "", flags, ""); err != nil {
		return fmt.Errorf("%w: remounting / read-only: %w", ErrMountFailedSentinel, err)
	}
	return nil
}

// makeMountTreePrivate recursively remounts "/" MS_PRIVATE so that mount
// events made while preparing /proc, /sys, and /dev, and pivot_root itself,
// never propagate back into the host mount namespace (§4.3: "mount
// --make-rprivate /"). Without this, a host where "/" is MS_SHARED (the
// systemd default) can see pivot_root fail outright or leak mount events.
func makeMountTreePrivate() error {
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("%w: making mount tree private: %w", ErrMountFailedSentinel, err)
	}
	return nil
}

func mountProc(root string) error {
	target, err := securejoin.SecureJoin(root, "proc")
	if err != nil {
		return fmt.Errorf("%w: resolving /proc target: %w", ErrMountFailedSentinel, err)
	}
	if err := os.MkdirAll(target, 0o555); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrMountFailedSentinel, target, err)
	}
	if err := unix.Mount("proc", target, "proc", 0, ""); err != nil {
		return fmt.Errorf("%w: mounting proc at %s: %w", ErrMountFailedSentinel, target, err)
	}
	return nil
}

// mountSys mounts sysfs read-only unconditionally -- this is independent of
// root.readonly, which governs the rootfs mount itself and is applied
// separately by remountRootReadonly (§4.3).
func mountSys(root string) error {
	target, err := securejoin.SecureJoin(root, "sys")
	if err != nil {
		return fmt.Errorf("%w: resolving /sys target: %w", ErrMountFailedSentinel, err)
	}
	if err := os.MkdirAll(target, 0o555); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrMountFailedSentinel, target, err)
	}
	flags := uintptr(unix.MS_RDONLY)
	if err := unix.Mount("sysfs", target, "sysfs", flags, ""); err != nil {
		return fmt.Errorf("%w: mounting sysfs at %s: %w", ErrMountFailedSentinel, target, err)
	}
	return nil
}

// devNode describes one device file created under the container's minimal
// tmpfs /dev, mirroring the handful runc itself always creates.
type devNode struct {
	path  string
	major uint32
	minor uint32
	mode  uint32
}

var minimalDevNodes = []devNode{
	{"null", 1, 3, unix.S_IFCHR | 0o666},
	{"zero", 1, 5, unix.S_IFCHR | 0o666},
	{"full", 1, 7, unix.S_IFCHR | 0o666},
	{"random", 1, 8, unix.S_IFCHR | 0o666},
	{"urandom", 1, 9, unix.S_IFCHR | 0o666},
	{"tty", 5, 0, unix.S_IFCHR | 0o666},
}

func mountDev(root string) error {
	target, err := securejoin.SecureJoin(root, "dev")
	if err != nil {
		return fmt.Errorf("%w: resolving /dev target: %w", ErrMountFailedSentinel, err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrMountFailedSentinel, target, err)
	}
	if err := unix.Mount("tmpfs", target, "tmpfs", unix.MS_NOSUID, "mode=755,size=65536k"); err != nil {
		return fmt.Errorf("%w: mounting tmpfs at %s: %w", ErrMountFailedSentinel, target, err)
	}
	for _, n := range minimalDevNodes {
		path := filepath.Join(target, n.path)
		dev := unix.Mkdev(n.major, n.minor)
		if err := unix.Mknod(path, n.mode, int(dev)); err != nil {
			return fmt.Errorf("%w: creating device node %s: %w", ErrMountFailedSentinel, path, err)
		}
	}
	if err := os.Symlink("/proc/self/fd", filepath.Join(target, "fd")); err != nil && !os.IsExist(err) {
		return fmt.Errorf("%w: symlinking /dev/fd: %w", ErrMountFailedSentinel, err)
	}
	if err := mountDevpts(target); err != nil {
		return err
	}
	return nil
}

// mountDevpts mounts a devpts filesystem at <dev>/pts and symlinks
// <dev>/ptmx to it, per §4.3's minimal /dev component design.
func mountDevpts(devTarget string) error {
	ptsTarget := filepath.Join(devTarget, "pts")
	if err := os.MkdirAll(ptsTarget, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrMountFailedSentinel, ptsTarget, err)
	}
	data := "newinstance,ptmxmode=0666,mode=0620"
	if err := unix.Mount("devpts", ptsTarget, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC, data); err != nil {
		return fmt.Errorf("%w: mounting devpts at %s: %w", ErrMountFailedSentinel, ptsTarget, err)
	}
	if err := os.Symlink("pts/ptmx", filepath.Join(devTarget, "ptmx")); err != nil && !os.IsExist(err) {
		return fmt.Errorf("%w: symlinking /dev/ptmx: %w", ErrMountFailedSentinel, err)
	}
	return nil
}

// switchRoot makes root the process's new root filesystem via pivot_root,
// falling back to chroot when pivot_root refuses (ENOTDIR/EINVAL are common
// when root is itself already "/", e.g. manual population reusing the host
// tree) -- ported from the original implementation's mount-namespace setup.
func switchRoot(root string) error {
	if err := unix.Mount(root, root, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("%w: self-bind-mounting %s: %w", ErrMountFailedSentinel, root, err)
	}

	oldRoot := filepath.Join(root, ".bento-old-root")
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return fmt.Errorf("%w: creating pivot staging dir: %w", ErrPivotFailedSentinel, err)
	}

	if err := unix.PivotRoot(root, oldRoot); err != nil {
		return chrootFallback(root)
	}

	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("%w: chdir after pivot_root: %w", ErrPivotFailedSentinel, err)
	}
	oldRootAfterPivot := "/.bento-old-root"
	if err := unix.Unmount(oldRootAfterPivot, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("%w: detaching old root: %w", ErrPivotFailedSentinel, err)
	}
	if err := os.RemoveAll(oldRootAfterPivot); err != nil {
		return fmt.Errorf("%w: removing old root mountpoint: %w", ErrPivotFailedSentinel, err)
	}
	return nil
}

// bringLoopbackUp brings the "lo" interface up inside a newly unshared
// network namespace. bento does not do CNI-style interface provisioning
// (§1 non-goal) -- this is the one piece of network namespace setup a
// container needs to be minimally usable (e.g. for 127.0.0.1 traffic)
// without any external network plumbing.
func bringLoopbackUp() error {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("%w: finding loopback interface: %w", ErrMountFailedSentinel, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("%w: bringing loopback interface up: %w", ErrMountFailedSentinel, err)
	}
	return nil
}

func chrootFallback(root string) error {
	os.RemoveAll(filepath.Join(root, ".bento-old-root"))
	if err := unix.Chroot(root); err != nil {
		return fmt.Errorf("%w: chroot fallback to %s: %w", ErrPivotFailedSentinel, root, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("%w: chdir after chroot: %w", ErrPivotFailedSentinel, err)
	}
	return nil
}
