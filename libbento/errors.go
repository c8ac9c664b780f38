package libbento

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by the rootfs and process bootstrap paths. They
// exist so that code deep in those paths (which knows the Kind but not the
// phase or container id) can produce an error that the top-level Error
// wrapping in container.go can recognize with errors.Is and re-tag with
// the right Kind, phase, and id.
var (
	ErrRootfsPrepareFailedSentinel = errors.New("rootfs prepare failed")
	ErrPivotFailedSentinel         = errors.New("pivot_root failed")
	ErrMountFailedSentinel         = errors.New("mount failed")
	ErrExecFailedSentinel          = errors.New("exec failed")
	ErrIDMapFailedSentinel         = errors.New("id map install failed")
	ErrNamespaceDeniedSentinel     = errors.New("namespace denied")
)

// kindForSentinel maps one of the sentinels above to its Kind, for
// newErrFromSentinel.
func kindForSentinel(err error) Kind {
	switch {
	case errors.Is(err, ErrRootfsPrepareFailedSentinel):
		return KindRootfsPrepareFailed
	case errors.Is(err, ErrPivotFailedSentinel):
		return KindPivotFailed
	case errors.Is(err, ErrMountFailedSentinel):
		return KindMountFailed
	case errors.Is(err, ErrExecFailedSentinel):
		return KindExecFailed
	case errors.Is(err, ErrIDMapFailedSentinel):
		return KindIDMapFailed
	case errors.Is(err, ErrNamespaceDeniedSentinel):
		return KindNamespaceDenied
	default:
		return KindExecFailed
	}
}

// newErrFromSentinel wraps a sentinel-tagged error (from the rootfs or
// process bootstrap paths) into the typed Error the CLI layer expects,
// attaching the phase and container id that only the caller knows.
func newErrFromSentinel(phase, id string, err error) *Error {
	return newErr(phase, kindForSentinel(err), id, err)
}

// Kind identifies a class of failure so callers (chiefly the CLI) can
// react on a stable value instead of matching error strings.
type Kind string

const (
	KindConfigInvalid           Kind = "ConfigInvalid"
	KindStateNotFound           Kind = "StateNotFound"
	KindStateCorrupt            Kind = "StateCorrupt"
	KindStateWriteFailed        Kind = "StateWriteFailed"
	KindIDAlreadyExists         Kind = "IdAlreadyExists"
	KindNamespaceDenied         Kind = "NamespaceDenied"
	KindIDMapFailed             Kind = "IdMapFailed"
	KindCgroupUnavailable       Kind = "CgroupUnavailable"
	KindCgroupControllerMissing Kind = "CgroupControllerMissing"
	KindLimitApplyFailed        Kind = "LimitApplyFailed"
	KindCgroupBusy              Kind = "CgroupBusy"
	KindRootfsPrepareFailed     Kind = "RootfsPrepareFailed"
	KindPivotFailed             Kind = "PivotFailed"
	KindMountFailed             Kind = "MountFailed"
	KindExecFailed              Kind = "ExecFailed"
	KindBusy                    Kind = "Busy"
)

// Error is a typed failure carrying the phase it occurred in, its Kind,
// and the underlying cause. The CLI layer unwraps it with errors.As to
// build the single diagnostic line required by the spec instead of
// sniffing error strings.
type Error struct {
	Kind  Kind
	Phase string
	ID    string
	Cause error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s: %s: %v", e.Phase, e.Kind, e.ID, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %v", e.Phase, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(phase string, kind Kind, id string, cause error) *Error {
	return &Error{Kind: kind, Phase: phase, ID: id, Cause: cause}
}

// LimitApplyFailed reports that writing a single cgroup controller file
// failed. The lifecycle engine decides, per controller, whether this is
// fatal (see spec §7: memory.swap.max is demoted to a warning).
type LimitApplyFailed struct {
	Controller string
	Cause      error
}

func (e *LimitApplyFailed) Error() string {
	return fmt.Sprintf("apply limit %s: %v", e.Controller, e.Cause)
}

func (e *LimitApplyFailed) Unwrap() error { return e.Cause }
