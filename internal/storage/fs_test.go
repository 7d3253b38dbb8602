package storage

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/starford/muninn/internal/apperr"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempStore(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempStore(t)
	if err := s.Write("permanent/decision/d.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("permanent/decision/d.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempStore(t)
	_, err := s.Read("absent.md")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("error = %v, want not-found", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("Read after delete: %v, want not-found", err)
	}
	if err := s.Delete("del.md"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("second Delete: %v, want not-found", err)
	}
}

func TestMove(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestExists(t *testing.T) {
	s := tempStore(t)
	ok, err := s.Exists("nope.md")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
	_ = s.Write("yes.md", []byte("x"))
	ok, err = s.Exists("yes.md")
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v", ok, err)
	}
}

func TestList(t *testing.T) {
	s := tempStore(t)
	_ = s.Write("permanent/decision/a.md", []byte("a"))
	_ = s.Write("temporary/session/b.md", []byte("b"))
	_ = s.Write("index.json", []byte("not md"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Checksum == "" || it.Path == "" {
			t.Errorf("incomplete metadata: %+v", it)
		}
	}
}

func TestListMissingDirIsEmpty(t *testing.T) {
	s := tempStore(t)
	items, err := s.List("temporary")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len = %d, want 0", len(items))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); !apperr.Is(err, apperr.KindSecurity) {
			t.Errorf("Read(%q) = %v, want security error", p, err)
		}
		if err := s.Write(p, []byte("x")); !apperr.Is(err, apperr.KindSecurity) {
			t.Errorf("Write(%q) = %v, want security error", p, err)
		}
	}
}

func TestSymlinkEscapeBlocked(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation needs privileges on windows")
	}
	s := tempStore(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(s.Root(), "evil")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := s.Write("evil/escape.md", []byte("x")); !apperr.Is(err, apperr.KindSecurity) {
		t.Errorf("Write through symlink = %v, want security error", err)
	}
	if _, err := s.Read("evil/escape.md"); !apperr.Is(err, apperr.KindSecurity) {
		t.Errorf("Read through symlink = %v, want security error", err)
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempStore(t)
	original := []byte("original content")
	_ = s.Write("atomic.md", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".muninn-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_CreatesMissingRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store", "nested")
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if err := s.Write("a.md", []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "muninn-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
