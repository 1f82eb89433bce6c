// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"fmt"
	"strings"
)

// normalizeEntryPath validates an archive entry path and returns its clean slash form.
// It rejects empty, absolute, drive-rooted, NUL-containing and parent-traversing paths.
func normalizeEntryPath(entryPath string) (string, error) {
	if strings.TrimSpace(entryPath) == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.ContainsRune(entryPath, 0) {
		return "", fmt.Errorf("%w: %q contains NUL", ErrUnsafePath, entryPath)
	}
	if strings.HasPrefix(entryPath, `/`) || strings.HasPrefix(entryPath, `\`) {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafePath, entryPath)
	}

	raw := strings.ReplaceAll(entryPath, `\`, `/`)
	if hasDrivePrefix(raw) {
		return "", fmt.Errorf("%w: %q has drive prefix", ErrUnsafePath, entryPath)
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q traverses parent", ErrUnsafePath, entryPath)
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", fmt.Errorf("%w: %q has no name", ErrUnsafePath, entryPath)
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasDrivePrefix reports whether p begins with a drive letter such as "C:".
// Both "C:/x" and the drive-relative "C:x" match.
func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}

	letter := p[0] | 0x20
	return letter >= 'a' && letter <= 'z'
}

// bundleDir returns the archive directory of bundle name, e.g. "Payload/Foo.app".
func bundleDir(name string) string {
	return PayloadDir + "/" + name + BundleExt
}
