// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package plist

import "errors"

// Sentinel errors for property list coding. Use errors.Is in callers.
var (
	// ErrUnrecognizedFormat means the buffer is neither a binary nor an XML property list.
	ErrUnrecognizedFormat = errors.New("unrecognized property list format")
	// ErrMalformedData means the detected format is structurally invalid.
	ErrMalformedData = errors.New("malformed property list data")
	// ErrInvalidValue means the tree holds a value the encoder cannot represent.
	ErrInvalidValue = errors.New("invalid property list value")
)
