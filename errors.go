// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import "errors"

// Sentinel errors for patch operations. Use errors.Is in callers.
// Property list decode failures surface as plist.ErrUnrecognizedFormat and plist.ErrMalformedData.
var (
	// ErrEntryNotFound means the requested archive entry does not exist.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrUnsafePath means an entry path could escape the archive or staging root.
	ErrUnsafePath = errors.New("unsafe entry path")
	// ErrBundleNotFound means no application bundle Info.plist was found in the archive.
	ErrBundleNotFound = errors.New("application bundle not found")
	// ErrLocatorFailed means neither the SC_Info manifest nor Info.plist yielded injection targets.
	ErrLocatorFailed = errors.New("no usable manifest or executable name")
	// ErrArchiveTool means the underlying archive list, extract or update step failed.
	ErrArchiveTool = errors.New("archive tool failure")
	// ErrNilTool means no archive tool was provided.
	ErrNilTool = errors.New("archive tool is nil")
	// ErrInvalidArchivePath means the archive path is empty.
	ErrInvalidArchivePath = errors.New("invalid archive path")
	// ErrInvalidPayload means a transport-encoded payload could not be decoded.
	ErrInvalidPayload = errors.New("invalid payload encoding")
	// ErrEntryTooLarge means an entry exceeds the configured extraction limit.
	ErrEntryTooLarge = errors.New("entry exceeds size limit")
	// ErrVerifyMismatch means a written entry does not read back with the planned bytes.
	ErrVerifyMismatch = errors.New("written entry does not match planned payload")
)
