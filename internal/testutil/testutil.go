// Package testutil provides tempdir-based fixture builders for tests that
// need a small tree of destination volumes with known files and sizes,
// without hand-rolling os.MkdirAll/os.WriteFile calls at every call site.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Volume describes one destination mount point and the files to create
// under it.
type Volume struct {
	MountPoint string
	Files      []File
}

// File describes one file to create, relative to its volume's mount point.
type File struct {
	Path string
	Size int64 // content is Size bytes of a repeating filler byte
}

// Tree is a filesystem fixture: a set of volumes, each seeded with files.
type Tree struct {
	Volumes []Volume
}

// Harness builds a Tree under a fresh t.TempDir() and exposes each volume's
// real path, so tests can point a diskmgr.Manager or supervisor.Options at
// real directories instead of synthetic ones.
type Harness struct {
	t    *testing.T
	root string
}

// New creates a Harness and materializes given under a temp directory.
func New(t *testing.T, given Tree) *Harness {
	t.Helper()
	root := t.TempDir()
	h := &Harness{t: t, root: root}
	if err := Build(root, given); err != nil {
		t.Fatalf("testutil: build tree: %v", err)
	}
	return h
}

// Root returns the temp directory root.
func (h *Harness) Root() string { return h.root }

// VolumePath returns the absolute path of one configured mount point.
func (h *Harness) VolumePath(mountPoint string) string {
	return filepath.Join(h.root, mountPoint)
}

// Build materializes a Tree's volumes and files under root, creating parent
// directories as needed ("mkdir -p" semantics, matching how the planner's
// destination rewrite rule expects intermediate directories to exist).
func Build(root string, given Tree) error {
	for _, vol := range given.Volumes {
		volPath := filepath.Join(root, vol.MountPoint)
		if err := os.MkdirAll(volPath, 0o755); err != nil {
			return fmt.Errorf("testutil: create volume dir %s: %w", volPath, err)
		}
		for _, f := range vol.Files {
			if err := writeFile(filepath.Join(volPath, f.Path), f.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFile(path string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := bytes.Repeat([]byte{'x'}, int(size))
	return os.WriteFile(path, content, 0o644)
}
