package libbento

import (
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Status is one of the container lifecycle states from the data model.
type Status string

const (
	StatusCreating Status = "creating"
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
)

// ResourceLimits holds the resource values supplied at creation. They are
// applied once and are immutable afterwards.
type ResourceLimits struct {
	MemoryMax     string `json:"memory_max,omitempty"`
	MemoryHigh    string `json:"memory_high,omitempty"`
	MemorySwapMax string `json:"memory_swap_max,omitempty"`
	CPUMax        string `json:"cpu_max,omitempty"`
	CPUWeight     int    `json:"cpu_weight,omitempty"`
	PidsMax       string `json:"pids_max,omitempty"`
}

// PopulationMethod is the rootfs population policy.
type PopulationMethod string

const (
	PopulationCopy   PopulationMethod = "copy"
	PopulationManual PopulationMethod = "manual"
	PopulationBind   PopulationMethod = "bind"
)

// State is the persisted record for one container. Exactly one State exists
// per live id; its absence means the id does not exist (§3).
type State struct {
	ID             string           `json:"id"`
	BundlePath     string           `json:"bundle_path"`
	Status         Status           `json:"status"`
	Pid            int              `json:"pid,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	CgroupPath     string           `json:"cgroup_path,omitempty"`
	WorkspacePath  string           `json:"workspace_path,omitempty"`
	Population     PopulationMethod `json:"population_method"`
	Limits         ResourceLimits   `json:"limits"`
	ConfigSnapshot *specs.Spec      `json:"config_snapshot"`
}

// HasPid reports whether the state record has ever recorded an init pid.
func (s *State) HasPid() bool { return s.Pid != 0 }
