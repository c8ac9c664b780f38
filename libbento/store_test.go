package libbento

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreCreateLoadList(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	st := &State{ID: "c1", BundlePath: "/bundles/c1", Status: StatusCreating, CreatedAt: time.Now()}
	if err := store.Create(st); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := store.Load("c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != "c1" || loaded.Status != StatusCreating {
		t.Fatalf("loaded record mismatch: %+v", loaded)
	}

	states, errs := store.List()
	if len(errs) != 0 {
		t.Fatalf("unexpected List errors: %v", errs)
	}
	if len(states) != 1 || states[0].ID != "c1" {
		t.Fatalf("List = %+v, want one record for c1", states)
	}
}

func TestStoreCreateDuplicateFails(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	st := &State{ID: "dup", Status: StatusCreating, CreatedAt: time.Now()}
	if err := store.Create(st); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err = store.Create(st)
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != KindIDAlreadyExists {
		t.Fatalf("second Create = %v, want KindIDAlreadyExists", err)
	}
}

func TestStoreLoadMissingIsStateNotFound(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	_, err = store.Load("nope")
	var typed *Error
	if !errors.As(err, &typed) || typed.Kind != KindStateNotFound {
		t.Fatalf("Load(missing) = %v, want KindStateNotFound", err)
	}
}

func TestStoreCreateThenDeleteLeavesNoFile(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	st := &State{ID: "churn", Status: StatusCreated, CreatedAt: time.Now()}
	if err := store.Create(st); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete("churn"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Load("churn"); err == nil {
		t.Fatal("expected Load after Delete to fail")
	}
	// Deleting an already-absent id is not an error.
	if err := store.Delete("churn"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	st := &State{ID: "s1", Status: StatusCreated, CreatedAt: time.Now()}
	if err := store.Create(st); err != nil {
		t.Fatalf("Create: %v", err)
	}
	st.Status = StatusStopped
	if err := store.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := store.Load("s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Status != StatusStopped {
		t.Fatalf("Status = %v, want stopped", reloaded.Status)
	}
}
