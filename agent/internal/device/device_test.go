package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreate_StableAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "device_id")

	first, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("generated id %q is not a UUID: %v", first, err)
	}
	second, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if first != second {
		t.Errorf("device id changed: %q then %q", first, second)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("stray files left next to the id: %v", entries)
	}
}

func TestLoadOrCreate_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")
	want := "0b6f3c2e-6d1a-4c55-9d1e-8a7f0e3b2c11"
	os.WriteFile(path, []byte(want+"\n"), 0o644) //nolint:errcheck

	got, err := LoadOrCreate(path)
	if err != nil || got != want {
		t.Errorf("got (%q, %v), want %q", got, err, want)
	}
}

func TestLoadOrCreate_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_id")
	os.WriteFile(path, []byte("not-a-uuid"), 0o644) //nolint:errcheck
	if _, err := LoadOrCreate(path); err == nil {
		t.Fatal("expected error for corrupt id file")
	}
}

func TestLoadOrCreate_Unique(t *testing.T) {
	a, _ := LoadOrCreate(filepath.Join(t.TempDir(), "a"))
	b, _ := LoadOrCreate(filepath.Join(t.TempDir(), "b"))
	if a == "" || a == b {
		t.Errorf("ids not unique: %q %q", a, b)
	}
}
