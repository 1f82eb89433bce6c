// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// stagingRoot is a private scratch directory holding one write batch.
type stagingRoot struct {
	// dir is the absolute staging root.
	dir string
	// resolvedDir is dir with symlinks evaluated.
	resolvedDir string
}

// newStagingRoot creates a fresh staging directory under parent.
func newStagingRoot(parent string) (*stagingRoot, error) {
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, fmt.Errorf("create staging parent: %w", err)
	}

	dir, err := os.MkdirTemp(parent, stagingPattern)
	if err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("resolve staging root: %w", err)
	}

	return &stagingRoot{dir: abs, resolvedDir: resolved}, nil
}

// resolve maps entryPath to a location strictly inside the staging root.
// It returns the clean relative entry path and the absolute target path.
func (s *stagingRoot) resolve(entryPath string) (string, string, error) {
	clean, err := normalizeEntryPath(entryPath)
	if err != nil {
		return "", "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(clean))
	if !isStrictDescendant(s.dir, target) {
		return "", "", fmt.Errorf("%w: %q escapes staging root", ErrUnsafePath, entryPath)
	}

	return clean, target, nil
}

// stage guards entryPath and writes data under the staging root.
// It returns the clean relative path to hand to the archive tool.
func (s *stagingRoot) stage(entryPath string, data []byte) (string, error) {
	clean, target, err := s.resolve(entryPath)
	if err != nil {
		return "", err
	}

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return "", fmt.Errorf("create staging directory for %s: %w", clean, err)
	}

	resolvedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("resolve staging directory for %s: %w", clean, err)
	}
	if resolvedParent != s.resolvedDir && !isStrictDescendant(s.resolvedDir, resolvedParent) {
		return "", fmt.Errorf("%w: %q resolves outside staging root", ErrUnsafePath, entryPath)
	}

	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %q is a symlink", ErrUnsafePath, entryPath)
	}

	if err := os.WriteFile(target, data, 0o600); err != nil {
		return "", fmt.Errorf("stage %s: %w", clean, err)
	}

	return clean, nil
}

// remove deletes the staging root recursively.
func (s *stagingRoot) remove() error {
	return os.RemoveAll(s.dir)
}

// isStrictDescendant reports whether target lies inside root and is not root itself.
func isStrictDescendant(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}

	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}

	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
