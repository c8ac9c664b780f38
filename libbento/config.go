package libbento

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// LoadConfig reads <bundle>/config.json into a *specs.Spec. Unknown fields
// round-trip through encoding/json untouched; bento only ever reads the
// subset named in the OCI config loader component.
func LoadConfig(bundlePath string) (*specs.Spec, error) {
	path := filepath.Join(bundlePath, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr("load-config", KindConfigInvalid, "", fmt.Errorf("reading %s: %w", path, err))
	}

	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, newErr("load-config", KindConfigInvalid, "", fmt.Errorf("parsing %s: %w", path, err))
	}

	if err := validateConfig(bundlePath, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func validateConfig(bundlePath string, spec *specs.Spec) error {
	if spec.Process == nil || len(spec.Process.Args) == 0 {
		return newErr("load-config", KindConfigInvalid, "", fmt.Errorf("process.args is missing or empty"))
	}
	if spec.Root == nil || spec.Root.Path == "" {
		return newErr("load-config", KindConfigInvalid, "", fmt.Errorf("root.path is missing"))
	}

	rootPath := spec.Root.Path
	if !filepath.IsAbs(rootPath) {
		rootPath = filepath.Join(bundlePath, rootPath)
	}
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return newErr("load-config", KindConfigInvalid, "", fmt.Errorf("resolving root.path: %w", err))
	}
	spec.Root.Path = abs
	return nil
}

// RequestedNamespaces returns the set of linux.namespaces[].type values
// listed in the config, keyed by the OCI namespace type string ("pid",
// "network", "mount", "uts", "ipc", "cgroup", "user").
func RequestedNamespaces(spec *specs.Spec) map[specs.LinuxNamespaceType]bool {
	out := map[specs.LinuxNamespaceType]bool{}
	if spec.Linux == nil {
		return out
	}
	for _, ns := range spec.Linux.Namespaces {
		out[ns.Type] = true
	}
	return out
}
