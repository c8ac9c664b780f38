// Package system holds small /proc- and syscall-facing helpers shared by
// the lifecycle engine, ported from the teacher's libcontainer/system
// package idiom (kill(pid, 0) liveness probes, not full process stats).
package system

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid names a live process, using
// kill(pid, 0) per §4.6 ("check pid liveness via kill(pid, 0)"). It never
// returns an error for ESRCH -- that is the expected "not alive" result.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	if errors.Is(err, unix.ESRCH) {
		return false
	}
	// EPERM means the process exists but we can't signal it (e.g. it was
	// reaped and the pid recycled into something we don't own) -- treat
	// as "exists" since the negative case (ESRCH) is what we're ruling out.
	return errors.Is(err, unix.EPERM)
}

// KillAndReap sends SIGKILL to pid and reaps it with a non-blocking wait,
// per §4.6. A pid that is already gone is not an error.
func KillAndReap(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err == nil || errors.Is(err, unix.ECHILD) || errors.Is(err, unix.ESRCH) {
			return nil
		}
		if !errors.Is(err, unix.EINTR) {
			return nil
		}
	}
}
