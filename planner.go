// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"github.com/woozymasta/ipapatch/plist"
)

// PlanDRM maps DRM blobs to destinations inside bundle.
//
// With a manifest resolution, slot i receives the blob whose Index is i; slots without a
// blob and blobs without a slot are skipped. With a fallback resolution, the first blob
// goes to SC_Info/<executable>.sinf and the rest are dropped. Destination paths are
// concatenated as given, so crafted segments reach the write guard intact.
func PlanDRM(bundle BundleContext, sinfs []Sinf) []InjectionItem {
	if len(sinfs) == 0 {
		return nil
	}

	root := bundleDir(bundle.Name) + "/"

	switch bundle.Resolution.Kind() {
	case ResolutionManifest:
		byIndex := make(map[int][]byte, len(sinfs))
		for _, s := range sinfs {
			if _, dup := byIndex[s.Index]; !dup {
				byIndex[s.Index] = s.Data
			}
		}

		slots := bundle.Resolution.ManifestPaths()
		items := make([]InjectionItem, 0, min(len(slots), len(sinfs)))
		for i, rel := range slots {
			data, ok := byIndex[i]
			if !ok {
				continue
			}

			items = append(items, InjectionItem{Path: root + rel, Data: data})
		}

		return items

	case ResolutionFallback:
		return []InjectionItem{{
			Path: root + SCInfoDir + "/" + bundle.Resolution.Executable() + SinfExt,
			Data: sinfs[0].Data,
		}}

	case ResolutionNone:
		return nil
	}

	return nil
}

// ConvertMetadata re-encodes an XML plist as binary.
// Input that is not XML plist text comes back unchanged with converted set to false.
func ConvertMetadata(raw []byte) (out []byte, converted bool) {
	v, err := plist.DecodeXML(raw)
	if err != nil {
		return raw, false
	}

	encoded, err := plist.EncodeBinary(v)
	if err != nil {
		return raw, false
	}

	return encoded, true
}

// PlanMetadata returns the store metadata item, or nil when no metadata was supplied.
func PlanMetadata(raw []byte) []InjectionItem {
	if raw == nil {
		return nil
	}

	data, _ := ConvertMetadata(raw)

	return []InjectionItem{{Path: MetadataEntryPath, Data: data}}
}

// PlanInjection composes DRM items followed by the metadata item.
func PlanInjection(bundle BundleContext, req Request) []InjectionItem {
	items := PlanDRM(bundle, req.Sinfs)
	items = append(items, PlanMetadata(req.Metadata)...)

	return items
}
