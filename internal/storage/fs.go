package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/muninn/internal/apperr"
	"github.com/starford/muninn/internal/checksum"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute, symlink-resolved path to the store directory
}

// NewFS creates a new FS provider rooted at the given directory,
// creating it if it does not exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperr.IO("resolve store root", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, apperr.IO("create store root", err)
	}
	// Resolve the root itself so containment checks hold when the
	// store lives behind a symlink.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, apperr.IO("resolve store root", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, apperr.IO("stat store root", err)
	}
	if !info.IsDir() {
		return nil, apperr.Validation("store root is not a directory: %s", abs)
	}
	return &FS{root: real}, nil
}

// Root returns the absolute store root directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the store root and rejects
// any result that escapes it, through traversal or through symlinks.
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", apperr.Security("absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", apperr.IO("resolve path", err)
	}
	if !f.contains(abs) {
		return "", apperr.Security("path escapes store root: %s", rel)
	}
	if err := f.guardSymlinks(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (f *FS) contains(abs string) bool {
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

// guardSymlinks resolves symlinks in the deepest existing ancestor of
// abs and rejects results that leave the store root.
func (f *FS) guardSymlinks(abs string) error {
	probe := abs
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if !f.contains(resolved) {
				return apperr.Security("path escapes store root via symlink: %s", abs)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return apperr.IO("resolve symlinks", err)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return nil
		}
		probe = parent
	}
}

// List walks dir (relative to root) and returns metadata for every .md
// file. A missing dir yields an empty list.
func (f *FS) List(dir string) ([]FileInfo, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, FileInfo{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.IO("list "+dir, err)
	}
	return out, nil
}

// Read returns the raw bytes of a store file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound(path)
		}
		return nil, apperr.IO("read "+path, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IO("mkdir", err)
	}

	tmp, err := os.CreateTemp(dir, ".muninn-tmp-*")
	if err != nil {
		return apperr.IO("create temp", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return apperr.IO("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return apperr.IO("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		return apperr.IO("close temp", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return apperr.IO("rename", err)
	}
	success = true
	return nil
}

// Delete removes a file from the store.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound(path)
		}
		return apperr.IO("delete "+path, err)
	}
	return nil
}

// Move renames a file within the store.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absNew)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IO("mkdir for move", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound(oldPath)
		}
		return apperr.IO("move", err)
	}
	return nil
}

// Exists reports whether a file exists at path.
func (f *FS) Exists(path string) (bool, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, apperr.IO("stat "+path, err)
	}
	return true, nil
}
