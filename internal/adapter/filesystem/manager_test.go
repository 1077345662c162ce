package filesystem

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_TargetPath(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		rel  []string
		want string
	}{
		{name: "nested", rel: []string{"a", "c", "d.txt"}, want: filepath.Join(m.RootDir(), "a", "c", "d.txt")},
		{name: "drops traversal", rel: []string{"..", "..", "x.txt"}, want: filepath.Join(m.RootDir(), "x.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.TargetPath(tt.rel); got != tt.want {
				t.Errorf("TargetPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManager_OpenForWriteResume(t *testing.T) {
	m := newTestManager(t)
	path := m.TempPath(m.TargetPath([]string{"dir", "f.bin"}))

	w, offset, err := m.OpenForWrite(path, true)
	if err != nil {
		t.Fatalf("OpenForWrite() error = %v", err)
	}
	if offset != 0 {
		t.Errorf("offset = %d, want 0 for a new file", offset)
	}
	if _, err := io.WriteString(w, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	w, offset, err = m.OpenForWrite(path, true)
	if err != nil {
		t.Fatalf("OpenForWrite(resume) error = %v", err)
	}
	if offset != 5 {
		t.Errorf("offset = %d, want 5", offset)
	}
	io.WriteString(w, " world")
	w.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "hello world" {
		t.Errorf("content = %q, want %q", data, "hello world")
	}

	w, offset, err = m.OpenForWrite(path, false)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if size, _ := m.Size(path); offset != 0 || size != 0 {
		t.Errorf("OpenForWrite(no resume) offset=%d size=%d, want truncated", offset, size)
	}
}

func TestManager_CreateEmptyAndRemove(t *testing.T) {
	m := newTestManager(t)
	path := m.TargetPath([]string{"a", "b", "empty.txt"})

	if err := m.CreateEmpty(path); err != nil {
		t.Fatalf("CreateEmpty() error = %v", err)
	}
	if size, err := m.Size(path); err != nil || size != 0 {
		t.Errorf("Size() = %d, %v; want 0, nil", size, err)
	}

	if err := m.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := m.Remove(path); err != nil {
		t.Errorf("Remove() of missing file error = %v, want nil", err)
	}
	if _, err := m.Size(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Size() after remove error = %v, want ErrNotExist", err)
	}
}

func TestManager_RemovePartial(t *testing.T) {
	m := newTestManager(t)
	target := m.TargetPath([]string{"movie.mkv"})

	for _, p := range []string{target, m.TempPath(target), target + ".aria2"} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.RemovePartial(target); err != nil {
		t.Fatalf("RemovePartial() error = %v", err)
	}
	if _, err := os.Stat(m.TempPath(target)); !errors.Is(err, os.ErrNotExist) {
		t.Error(".part file should be removed")
	}
	if _, err := os.Stat(target + ".aria2"); !errors.Is(err, os.ErrNotExist) {
		t.Error(".aria2 file should be removed")
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("target should be kept, got %v", err)
	}
}

func TestManager_CleanOldTempFiles(t *testing.T) {
	m := newTestManager(t)

	old := filepath.Join(m.RootDir(), "old.bin.part")
	fresh := filepath.Join(m.RootDir(), "fresh.bin.part")
	control := filepath.Join(m.RootDir(), "x.bin.aria2")
	done := filepath.Join(m.RootDir(), "done.bin")
	for _, p := range []string{old, fresh, control, done} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	os.Chtimes(old, past, past)
	os.Chtimes(control, past, past)
	os.Chtimes(done, past, past)

	n, err := m.CleanOldTempFiles(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanOldTempFiles() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CleanOldTempFiles() = %d, want 2", n)
	}
	for _, p := range []string{fresh, done} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should still exist", filepath.Base(p))
		}
	}
}

func TestManager_CleanEmptyDirs(t *testing.T) {
	m := newTestManager(t)
	os.MkdirAll(filepath.Join(m.RootDir(), "a", "b", "c"), 0755)
	os.MkdirAll(filepath.Join(m.RootDir(), "keep"), 0755)
	os.WriteFile(filepath.Join(m.RootDir(), "keep", "f"), []byte("x"), 0644)

	if err := m.CleanEmptyDirs(); err != nil {
		t.Fatalf("CleanEmptyDirs() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.RootDir(), "a")); !os.IsNotExist(err) {
		t.Error("empty tree a/b/c should be removed")
	}
	if _, err := os.Stat(filepath.Join(m.RootDir(), "keep")); err != nil {
		t.Error("non-empty dir should be kept")
	}
}

func TestUniqueDir(t *testing.T) {
	parent := t.TempDir()
	if got := UniqueDir(parent, "share"); got != filepath.Join(parent, "share") {
		t.Errorf("UniqueDir() = %q", got)
	}
	os.Mkdir(filepath.Join(parent, "share"), 0755)
	os.Mkdir(filepath.Join(parent, "share_1"), 0755)
	if got := UniqueDir(parent, "share"); got != filepath.Join(parent, "share_2") {
		t.Errorf("UniqueDir() = %q, want share_2", got)
	}
}

func TestManager_GetDiskUsage(t *testing.T) {
	m := newTestManager(t)
	usage, err := m.GetDiskUsage()
	if err != nil {
		t.Fatalf("GetDiskUsage() error = %v", err)
	}
	if usage.Total == 0 {
		t.Error("Total = 0")
	}
}
