// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// backupSuffix is appended to the archive path for the pre-write copy.
const backupSuffix = ".bak"

// archiveBackup is the pre-write copy of one archive and its older generations.
// Generation 0 is "<archive>.bak", generation n is "<archive>.bak.<n>".
type archiveBackup struct {
	archivePath string
	keep        int
}

func newArchiveBackup(archivePath string, keep int) archiveBackup {
	return archiveBackup{archivePath: archivePath, keep: max(keep, 0)}
}

// generation returns the file name of backup generation n.
func (b archiveBackup) generation(n int) string {
	name := b.archivePath + backupSuffix
	if n == 0 {
		return name
	}

	return name + "." + strconv.Itoa(n)
}

// capture shifts older generations up by one and copies the archive into generation 0.
// With keep 0 or 1 only generation 0 exists.
func (b archiveBackup) capture() error {
	last := max(b.keep-1, 0)
	if err := discardFile(b.generation(last)); err != nil {
		return fmt.Errorf("drop backup generation %d: %w", last, err)
	}

	for n := last; n > 0; n-- {
		if err := shiftFile(b.generation(n-1), b.generation(n)); err != nil {
			return fmt.Errorf("shift backup generation %d: %w", n-1, err)
		}
	}

	if err := cloneArchive(b.archivePath, b.generation(0)); err != nil {
		return fmt.Errorf("backup archive: %w", err)
	}

	return nil
}

// restore moves generation 0 back over a partially updated archive.
func (b archiveBackup) restore() error {
	if err := os.Rename(b.generation(0), b.archivePath); err != nil {
		return fmt.Errorf("restore %s from backup: %w", b.archivePath, err)
	}

	return nil
}

// release drops generation 0 when no backups are retained after a successful write.
func (b archiveBackup) release() error {
	if b.keep > 0 {
		return nil
	}

	return discardFile(b.generation(0))
}

// cloneArchive copies the archive to dst with its permissions and syncs dst.
// A partial dst is removed on copy failure.
func cloneArchive(src string, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	return out.Sync()
}

// shiftFile moves from onto to; a missing from is not an error.
func shiftFile(from string, to string) error {
	err := os.Rename(from, to)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}

// discardFile removes name; a missing name is not an error.
func discardFile(name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
