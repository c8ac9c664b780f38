package libbento

import (
	"encoding/json"
	"os"
)

// childConfig is the minimal, self-contained instruction set handed to the
// re-exec'd child (the future container init) via a workspace-local JSON
// file. It carries only what the child needs after it has already been
// cloned into its new namespaces -- everything else lives in the parent.
type childConfig struct {
	ID             string       `json:"id"`
	Args           []string     `json:"args"`
	Env            []string     `json:"env"`
	Cwd            string       `json:"cwd"`
	Hostname       string       `json:"hostname"`
	EffectiveRoot  string       `json:"effective_root"`
	ReadonlyRoot   bool         `json:"readonly_root"`
	Mounts         []childMount `json:"mounts"`
	SetupNetworkNS bool         `json:"setup_network_ns"`
}

type childMount struct {
	Destination string   `json:"destination"`
	Source      string   `json:"source"`
	Type        string   `json:"type"`
	Options     []string `json:"options"`
}

func writeChildConfig(path string, cfg *childConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readChildConfig(path string) (*childConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg childConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
