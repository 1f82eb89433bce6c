// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
)

// Archive guards entry paths and batches writes on top of an ArchiveTool.
// One Archive must not be used for concurrent writes; callers serialize patches per file.
type Archive struct {
	tool ArchiveTool
	path string
	opts ArchiveOptions
}

// OpenArchive binds an archive file path to tool.
func OpenArchive(archivePath string, tool ArchiveTool, opts ArchiveOptions) (*Archive, error) {
	trimmedPath := strings.TrimSpace(archivePath)
	if trimmedPath == "" {
		return nil, ErrInvalidArchivePath
	}
	if tool == nil {
		return nil, ErrNilTool
	}

	opts.applyDefaults()

	return &Archive{
		tool: tool,
		path: trimmedPath,
		opts: opts,
	}, nil
}

// Path returns the archive file path.
func (a *Archive) Path() string {
	return a.path
}

// Entries returns entry paths with sizes in listing order. An empty archive yields an empty slice.
func (a *Archive) Entries(ctx context.Context) ([]Entry, error) {
	entries, err := a.tool.List(ctx, a.path)
	if err != nil {
		return nil, wrapToolError("list", a.path, err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return entries, nil
}

// ListEntries returns entry paths in listing order. An empty archive yields an empty slice.
func (a *Archive) ListEntries(ctx context.Context) ([]string, error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(entries))
	for i := range entries {
		paths[i] = entries[i].Path
	}

	return paths, nil
}

// ReadEntry returns the bytes of one entry.
// Paths able to escape the archive namespace are rejected before the tool is invoked.
func (a *Archive) ReadEntry(ctx context.Context, entryPath string) ([]byte, error) {
	if _, err := normalizeEntryPath(entryPath); err != nil {
		return nil, err
	}

	data, err := a.tool.Extract(ctx, a.path, entryPath)
	if err != nil {
		return nil, wrapToolError("extract "+entryPath, a.path, err)
	}

	return data, nil
}

// WriteEntries adds or overwrites items in one archive update.
//
// Every destination is validated before anything touches the filesystem, staged under a
// private root, and handed to the tool as a single batch. The staging root is removed on
// every exit path. Unless backups are disabled, a failed update restores the original archive.
func (a *Archive) WriteEntries(ctx context.Context, items []InjectionItem) error {
	if len(items) == 0 {
		return nil
	}

	batch, err := collapseItems(items)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	stage, err := newStagingRoot(a.opts.StagingDir)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := stage.remove(); rmErr != nil {
			a.opts.Logger.WithError(rmErr).WithField("dir", stage.dir).Warn("remove staging root")
		}
	}()

	relPaths := make([]string, 0, len(batch))
	for _, item := range batch {
		rel, err := stage.stage(item.Path, item.Data)
		if err != nil {
			return err
		}

		relPaths = append(relPaths, rel)
	}

	a.opts.Logger.WithFields(log.Fields{
		"archive": a.path,
		"entries": len(relPaths),
	}).Debug("staged entries")

	return a.update(ctx, stage.dir, relPaths)
}

// update runs the tool update guarded by a backup copy.
func (a *Archive) update(ctx context.Context, workDir string, relPaths []string) error {
	if a.opts.DisableBackup {
		if err := a.tool.Update(ctx, a.path, workDir, relPaths); err != nil {
			return wrapToolError("update", a.path, err)
		}

		return nil
	}

	backup := newArchiveBackup(a.path, a.opts.BackupKeep)
	if err := backup.capture(); err != nil {
		return err
	}

	if err := a.tool.Update(ctx, a.path, workDir, relPaths); err != nil {
		updateErr := wrapToolError("update", a.path, err)
		if rollbackErr := backup.restore(); rollbackErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", updateErr, rollbackErr)
		}

		return updateErr
	}

	if err := backup.release(); err != nil {
		a.opts.Logger.WithError(err).WithField("archive", a.path).Warn("remove backup")
	}

	return nil
}

// collapseItems validates destination paths and merges duplicates, keeping the first
// position and the last payload.
func collapseItems(items []InjectionItem) ([]InjectionItem, error) {
	out := make([]InjectionItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		clean, err := normalizeEntryPath(item.Path)
		if err != nil {
			return nil, err
		}

		if i, ok := seen[clean]; ok {
			out[i].Data = item.Data
			continue
		}

		seen[clean] = len(out)
		out = append(out, InjectionItem{Path: clean, Data: item.Data})
	}

	return out, nil
}

// wrapToolError adds operation context and classifies unknown tool errors as ErrArchiveTool.
func wrapToolError(op string, archivePath string, err error) error {
	switch {
	case errors.Is(err, ErrArchiveTool),
		errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrEntryTooLarge),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s %s: %w", op, archivePath, err)
	default:
		return fmt.Errorf("%w: %s %s: %w", ErrArchiveTool, op, archivePath, err)
	}
}
