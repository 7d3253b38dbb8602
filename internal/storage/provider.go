// Package storage defines the memory store file-system abstraction.
package storage

import "time"

// FileInfo describes one stored record file.
type FileInfo struct {
	Path      string    // relative to the store root
	Checksum  string    // sha256 hex of the raw bytes
	UpdatedAt time.Time // file modification time
}

// Provider is the interface for store file operations. All paths are
// relative to the store root.
type Provider interface {
	// List walks dir and returns metadata for every .md file under it.
	// A missing dir yields an empty list.
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent
	// directories as needed.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Exists reports whether a file exists at path.
	Exists(path string) (bool, error)
	// Root returns the absolute store root directory.
	Root() string
}
