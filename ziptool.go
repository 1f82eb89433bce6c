// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/STARRY-S/zip"
)

// ZipTool is an ArchiveTool over zip files.
// Updates are applied in place with an appending updater, so the archive is never rebuilt
// from scratch. Overwriting an entry moves the local records stored after it toward the
// front of the file. Those entries keep their names, methods and compressed bytes, but
// their central directory records are written without extra fields, so extended
// timestamps and unix ownership extras of entries after the first replaced one are lost.
// New entries are appended with a fresh modification time and mode 0644.
type ZipTool struct {
	opts ZipToolOptions
}

// NewZipTool returns a zip-backed archive tool.
func NewZipTool(opts ZipToolOptions) *ZipTool {
	opts.applyDefaults()
	return &ZipTool{opts: opts}
}

// List returns every entry of the zip archive in central directory order.
func (t *ZipTool) List(ctx context.Context, archivePath string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := openZipReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, Entry{
			Path: f.Name,
			Size: f.UncompressedSize64,
		})
	}

	return entries, nil
}

// Extract returns the bytes of the entry named entryPath.
func (t *ZipTool) Extract(ctx context.Context, archivePath string, entryPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := openZipReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	// The last record wins when a name repeats in the central directory.
	var found *zip.File
	for _, f := range r.File {
		if f.Name == entryPath {
			found = f
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryPath)
	}

	if found.UncompressedSize64 > uint64(t.opts.MaxEntrySize) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrEntryTooLarge, entryPath, found.UncompressedSize64)
	}

	return t.readZipFile(found)
}

// readZipFile reads one zip entry, bounded by MaxEntrySize.
func (t *ZipTool) readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open entry %s: %w", ErrArchiveTool, f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, t.opts.MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read entry %s: %w", ErrArchiveTool, f.Name, err)
	}
	if int64(len(data)) > t.opts.MaxEntrySize {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}

	return data, nil
}

// Update stores workDir/relPaths as uncompressed entries, replacing same-named entries.
// See ZipTool for what happens to the entries stored after a replaced one.
func (t *ZipTool) Update(ctx context.Context, archivePath string, workDir string, relPaths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(archivePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrArchiveTool, archivePath, err)
	}
	defer func() { _ = f.Close() }()

	u, err := zip.NewUpdater(f)
	if err != nil {
		return fmt.Errorf("%w: read central directory: %w", ErrArchiveTool, err)
	}

	modified := time.Now()
	for _, rel := range relPaths {
		if err := ctx.Err(); err != nil {
			_ = u.Close()
			return err
		}

		if err := appendStagedFile(u, workDir, rel, modified); err != nil {
			_ = u.Close()
			return err
		}
	}

	if err := u.Close(); err != nil {
		return fmt.Errorf("%w: write central directory: %w", ErrArchiveTool, err)
	}

	return nil
}

// appendStagedFile copies one staged file into the archive with Store method.
func appendStagedFile(u *zip.Updater, workDir string, rel string, modified time.Time) error {
	src, err := os.Open(filepath.Join(workDir, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("%w: open staged %s: %w", ErrArchiveTool, rel, err)
	}
	defer func() { _ = src.Close() }()

	fh := &zip.FileHeader{
		Name:     rel,
		Method:   zip.Store,
		Modified: modified,
	}
	fh.SetMode(0o644)

	w, err := u.AppendHeader(fh, zip.APPEND_MODE_OVERWRITE)
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrArchiveTool, rel, err)
	}

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrArchiveTool, rel, err)
	}

	return nil
}

// openZipReader opens archivePath for reading. Insecure entry names are tolerated here;
// Archive guards paths itself.
func openZipReader(archivePath string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && r != nil) {
		return nil, fmt.Errorf("%w: open %s: %w", ErrArchiveTool, archivePath, err)
	}

	return r, nil
}
