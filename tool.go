// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import "context"

// ArchiveTool is the raw archive capability the patch engine builds on.
//
// Implementations need not guard entry paths; Archive validates them before every call.
type ArchiveTool interface {
	// List returns every entry of the archive in stored order.
	List(ctx context.Context, archivePath string) ([]Entry, error)
	// Extract returns the uncompressed bytes of one entry, or ErrEntryNotFound.
	Extract(ctx context.Context, archivePath string, entryPath string) ([]byte, error)
	// Update stores files workDir/relPaths[i] as entries relPaths[i], adding missing entries
	// and overwriting existing ones without recompressing or moving other entries' content.
	Update(ctx context.Context, archivePath string, workDir string, relPaths []string) error
}

// EntryReader reads single archive entries. Archive implements it.
type EntryReader interface {
	ReadEntry(ctx context.Context, entryPath string) ([]byte, error)
}
