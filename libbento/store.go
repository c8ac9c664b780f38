package libbento

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Store is the on-disk, daemonless state directory: one JSON file per
// container, written atomically via a tempfile-then-rename so concurrent
// invocations never observe a half-written record (§4.4, §5).
type Store struct {
	dir string
}

// DefaultStateDir resolves $XDG_STATE_HOME/bento, falling back to
// $HOME/.local/state/bento.
func DefaultStateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "bento"), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", newErr("state-dir", KindStateWriteFailed, "", fmt.Errorf("HOME is not set"))
	}
	return filepath.Join(home, ".local", "state", "bento"), nil
}

// OpenStore ensures the state directory exists and returns a Store rooted
// there.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, newErr("state-dir", KindStateWriteFailed, "", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) WorkspaceDir(id string) string {
	return filepath.Join(s.dir, "work", id, "rootfs")
}

func (s *Store) statePath(id string) string {
	return filepath.Join(s.dir, id+".state")
}

// dirLock is a held advisory flock on the state directory.
type dirLock struct{ fd int }

func (l *dirLock) unlock() {
	if l == nil {
		return
	}
	unix.Flock(l.fd, unix.LOCK_UN) //nolint:errcheck
	unix.Close(l.fd)
}

// lock takes a best-effort advisory flock on the state directory for the
// duration of a mutating operation (§5: "a best-effort advisory flock on
// the state directory during mutating operations is acceptable"). Failure
// to acquire it is never fatal -- atomicity of individual writes is what
// actually guarantees correctness across invocations.
func (s *Store) lock() (*dirLock, error) {
	fd, err := unix.Open(s.dir, unix.O_RDONLY, 0)
	if err != nil {
		return nil, nil //nolint:nilerr
	}
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		unix.Close(fd)
		return nil, nil //nolint:nilerr
	}
	return &dirLock{fd: fd}, nil
}

// Create writes a brand-new state record, failing with IdAlreadyExists if
// the id is already live. Cross-invocation exclusivity is guaranteed by
// O_CREAT|O_EXCL on a tempfile that is then renamed into place (§5).
func (s *Store) Create(st *State) error {
	if fl, _ := s.lock(); fl != nil {
		defer fl.unlock()
	}

	target := s.statePath(st.ID)
	if _, err := os.Stat(target); err == nil {
		return newErr("create", KindIDAlreadyExists, st.ID, fmt.Errorf("container %q already exists", st.ID))
	}

	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return newErr("create", KindIDAlreadyExists, st.ID, fmt.Errorf("container %q already exists", st.ID))
		}
		return newErr("create", KindStateWriteFailed, st.ID, err)
	}
	defer os.Remove(tmp) // no-op once renamed

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		f.Close()
		return newErr("create", KindStateWriteFailed, st.ID, err)
	}
	if err := f.Close(); err != nil {
		return newErr("create", KindStateWriteFailed, st.ID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return newErr("create", KindStateWriteFailed, st.ID, err)
	}
	return nil
}

// Save overwrites an existing record atomically.
func (s *Store) Save(st *State) error {
	if fl, _ := s.lock(); fl != nil {
		defer fl.unlock()
	}
	target := s.statePath(st.ID)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return newErr("save", KindStateWriteFailed, st.ID, err)
	}
	defer os.Remove(tmp)

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		f.Close()
		return newErr("save", KindStateWriteFailed, st.ID, err)
	}
	if err := f.Close(); err != nil {
		return newErr("save", KindStateWriteFailed, st.ID, err)
	}
	return os.Rename(tmp, target)
}

// Load reads a single record. StateNotFound when absent, StateCorrupt when
// present but unparseable.
func (s *Store) Load(id string) (*State, error) {
	data, err := os.ReadFile(s.statePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr("load", KindStateNotFound, id, fmt.Errorf("container %q not found", id))
		}
		return nil, newErr("load", KindStateWriteFailed, id, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, newErr("load", KindStateCorrupt, id, err)
	}
	return &st, nil
}

// List enumerates *.state files. Corrupt records are reported in the
// second return value rather than silently dropped or auto-deleted (§4.4).
func (s *Store) List() ([]*State, []error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, []error{newErr("list", KindStateWriteFailed, "", err)}
	}

	var states []*State
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".state") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".state")
		st, err := s.Load(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states, errs
}

// Delete removes the state file for id. It is not an error if the file is
// already gone, matching the "continue removing orphaned side-effects"
// policy of §4.6.
func (s *Store) Delete(id string) error {
	if fl, _ := s.lock(); fl != nil {
		defer fl.unlock()
	}
	if err := os.Remove(s.statePath(id)); err != nil && !os.IsNotExist(err) {
		return newErr("delete", KindStateWriteFailed, id, err)
	}
	return nil
}
