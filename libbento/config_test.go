package libbento

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func writeBundle(t *testing.T, spec *specs.Spec) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "rootfs"), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadConfigValid(t *testing.T) {
	spec := &specs.Spec{
		Process: &specs.Process{Args: []string{"/bin/sh"}},
		Root:    &specs.Root{Path: "rootfs"},
	}
	dir := writeBundle(t, spec)

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := filepath.Join(dir, "rootfs")
	if loaded.Root.Path != want {
		t.Errorf("Root.Path = %q, want %q", loaded.Root.Path, want)
	}
}

func TestLoadConfigMissingArgsIsConfigInvalid(t *testing.T) {
	spec := &specs.Spec{
		Process: &specs.Process{Args: nil},
		Root:    &specs.Root{Path: "rootfs"},
	}
	dir := writeBundle(t, spec)

	_, err := LoadConfig(dir)
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != KindConfigInvalid {
		t.Fatalf("LoadConfig = %v, want KindConfigInvalid", err)
	}
}

func TestLoadConfigMissingRootIsConfigInvalid(t *testing.T) {
	spec := &specs.Spec{
		Process: &specs.Process{Args: []string{"/bin/sh"}},
	}
	dir := writeBundle(t, spec)

	_, err := LoadConfig(dir)
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != KindConfigInvalid {
		t.Fatalf("LoadConfig = %v, want KindConfigInvalid", err)
	}
}

func TestRequestedNamespaces(t *testing.T) {
	spec := &specs.Spec{
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.UserNamespace},
				{Type: specs.MountNamespace},
			},
		},
	}
	got := RequestedNamespaces(spec)
	if !got[specs.UserNamespace] || !got[specs.MountNamespace] {
		t.Fatalf("RequestedNamespaces = %v, missing expected entries", got)
	}
	if got[specs.NetworkNamespace] {
		t.Fatalf("RequestedNamespaces = %v, network should not be set", got)
	}
}
