// Package storage defines the small filesystem seam the lifecycle
// controller uses to persist and remove sidecar manifests, and
// provides a default implementation rooted at a configurable apps directory.
// A real AkiraOS build swaps LocalBackend for its own persistent-storage
// driver; the runtime only ever depends on the Collaborator interface.
package storage

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/akiraos/runtime/internal/akerr"
)

// Collaborator is every filesystem operation the lifecycle controller and
// supervisor need. Kept deliberately small so alternate backends (network
// storage, a read-only embedded image) are easy to implement.
type Collaborator interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	Stat(path string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	Remove(path string) error
}

// LocalBackend implements Collaborator over the local filesystem, rooted at
// Root (typically the configured apps_root).
type LocalBackend struct {
	Root string
}

// NewLocalBackend returns a backend rooted at root.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (b *LocalBackend) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(b.Root, path)
}

func (b *LocalBackend) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(b.resolve(path))
	if err != nil {
		return nil, akerr.IOFailure(akerr.PhaseStorage, "read file", err)
	}
	return data, nil
}

func (b *LocalBackend) WriteFile(path string, data []byte, perm fs.FileMode) error {
	if err := os.WriteFile(b.resolve(path), data, perm); err != nil {
		return akerr.IOFailure(akerr.PhaseStorage, "write file", err)
	}
	return nil
}

func (b *LocalBackend) Stat(path string) (fs.FileInfo, error) {
	info, err := os.Stat(b.resolve(path))
	if err != nil {
		return nil, akerr.IOFailure(akerr.PhaseStorage, "stat file", err)
	}
	return info, nil
}

func (b *LocalBackend) MkdirAll(path string, perm fs.FileMode) error {
	if err := os.MkdirAll(b.resolve(path), perm); err != nil {
		return akerr.IOFailure(akerr.PhaseStorage, "mkdir", err)
	}
	return nil
}

// Remove deletes a sidecar artifact. A missing file is not an error — the
// caller (uninstall) treats removal as best-effort cleanup.
func (b *LocalBackend) Remove(path string) error {
	if err := os.Remove(b.resolve(path)); err != nil && !os.IsNotExist(err) {
		return akerr.IOFailure(akerr.PhaseStorage, "remove file", err)
	}
	return nil
}
