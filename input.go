// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeSinfs decodes transport records into DRM blobs, keeping record order.
func DecodeSinfs(records []SinfRecord) ([]Sinf, error) {
	sinfs := make([]Sinf, 0, len(records))
	for _, rec := range records {
		data, err := decodeBase64(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: sinf %d: %w", ErrInvalidPayload, rec.ID, err)
		}

		sinfs = append(sinfs, Sinf{Index: rec.ID, Data: data})
	}

	return sinfs, nil
}

// DecodeMetadata decodes base64 metadata text. Blank text means no metadata and returns nil.
func DecodeMetadata(text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	data, err := decodeBase64(text)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrInvalidPayload, err)
	}

	return data, nil
}

// decodeBase64 accepts standard padded base64 with embedded line breaks.
func decodeBase64(text string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		default:
			return r
		}
	}, text)

	return base64.StdEncoding.DecodeString(clean)
}
