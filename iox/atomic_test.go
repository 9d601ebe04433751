package iox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
)

func withRename(t *testing.T, fn func(oldpath, newpath string) error) {
	t.Helper()
	orig := renameFile
	renameFile = fn
	t.Cleanup(func() { renameFile = orig })
}

func tempEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestWriteFileAtomic_ReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	if err := WriteFileAtomic(path, []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"v":2}`), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("content = %s, want {\"v\":2}", got)
	}
	if left := tempEntries(t, dir); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestWriteFileAtomic_FallsBackOnPlatformError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")

	withRename(t, func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	})

	if err := WriteFileAtomic(path, []byte("direct"), 0o644); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "direct" {
		t.Errorf("content = %q, want %q", got, "direct")
	}
	if left := tempEntries(t, dir); len(left) != 0 {
		t.Errorf("temp files left behind after fallback: %v", left)
	}
}

func TestWriteFileAtomic_ReraisesOtherErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	boom := errors.New("boom")

	withRename(t, func(_, _ string) error { return boom })

	err := WriteFileAtomic(path, []byte("data"), 0o644)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("canonical file should not exist after a non-platform failure")
	}
	if left := tempEntries(t, dir); len(left) != 0 {
		t.Errorf("temp files left behind: %v", left)
	}
}

func TestWriteFileAtomic_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "history.json")
	if err := WriteFileAtomic(path, []byte("x"), 0o644); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
