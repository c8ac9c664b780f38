package cgroups

import (
	"errors"
	"fmt"
)

var (
	// ErrCgroupUnavailable means the delegated subtree could not be
	// discovered, created, or written to.
	ErrCgroupUnavailable = errors.New("cgroup unavailable")
	// ErrCgroupControllerMissing means none of the requested controllers
	// are delegated to this user.
	ErrCgroupControllerMissing = errors.New("cgroup controller missing")
	// ErrCgroupBusy means teardown's retry loop exhausted its attempts
	// while the leaf still had attached processes.
	ErrCgroupBusy = errors.New("cgroup busy")
)

// LimitApplyFailed reports that writing a single controller file failed.
// ApplyLimits returns a slice of these rather than stopping at the first
// one, since each write is independent (§4.2).
type LimitApplyFailed struct {
	Controller string
	Cause      error
}

func (e *LimitApplyFailed) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Controller, e.Cause)
}

func (e *LimitApplyFailed) Unwrap() error { return e.Cause }
