// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/woozymasta/pathrules"

	"github.com/woozymasta/ipapatch/plist"
)

// Entry path suffixes relative to a bundle directory.
const (
	infoPlistSuffix = "/" + InfoPlistName
	manifestSuffix  = "/" + SCInfoDir + "/" + ManifestPlistName
)

var (
	// infoPlistMatcher selects bundle Info.plist entries outside companion Watch bundles.
	infoPlistMatcher = sync.OnceValues(func() (*entryMatcher, error) {
		return newEntryMatcher([]pathrules.Rule{
			{Action: pathrules.ActionInclude, Pattern: "**/*" + BundleExt + infoPlistSuffix},
			{Action: pathrules.ActionExclude, Pattern: "**/Watch/**"},
		})
	})
	// manifestMatcher selects SC_Info/Manifest.plist entries outside companion Watch bundles.
	manifestMatcher = sync.OnceValues(func() (*entryMatcher, error) {
		return newEntryMatcher([]pathrules.Rule{
			{Action: pathrules.ActionInclude, Pattern: "**/*" + BundleExt + manifestSuffix},
			{Action: pathrules.ActionExclude, Pattern: "**/Watch/**"},
		})
	})
)

// entryMatcher holds compiled path rules for archive entry discovery.
type entryMatcher struct {
	matcher *pathrules.Matcher
}

// newEntryMatcher compiles rules with exclude as the default action.
func newEntryMatcher(rules []pathrules.Rule) (*entryMatcher, error) {
	matcher, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{
		DefaultAction: pathrules.ActionExclude,
	})
	if err != nil {
		return nil, fmt.Errorf("compile entry rules: %w", err)
	}

	return &entryMatcher{matcher: matcher}, nil
}

// Match reports whether entry path p is selected by the rules.
func (m *entryMatcher) Match(p string) bool {
	if m == nil || m.matcher == nil || p == "" || strings.HasSuffix(p, "/") {
		return false
	}

	return m.matcher.Included(p, false)
}

// FindBundleRoot returns the name of the first application bundle whose Info.plist appears
// in paths, skipping bundles nested under a Watch directory.
func FindBundleRoot(paths []string) (string, error) {
	m, err := infoPlistMatcher()
	if err != nil {
		return "", err
	}

	for _, p := range paths {
		if !m.Match(p) {
			continue
		}

		if name := bundleNameOf(p, infoPlistSuffix); name != "" {
			return name, nil
		}
	}

	return "", ErrBundleNotFound
}

// ReadManifest reads SinfPaths from the SC_Info/Manifest.plist of bundle.
// It reports false when the manifest is missing or the field is absent or not a list of strings.
// An empty list is a usable manifest that names no slots.
func ReadManifest(ctx context.Context, paths []string, bundle string, reader EntryReader) ([]string, bool, error) {
	m, err := manifestMatcher()
	if err != nil {
		return nil, false, err
	}

	root, found, err := readBundlePlist(ctx, paths, bundle, manifestSuffix, m, reader)
	if err != nil || !found {
		return nil, false, err
	}

	field, ok := dictField(root, ManifestSinfPathsKey)
	if !ok {
		return nil, false, nil
	}

	sinfPaths, ok := stringList(field)
	if !ok {
		return nil, false, nil
	}

	return sinfPaths, true, nil
}

// ReadInfo reads CFBundleExecutable from the Info.plist of bundle.
// It reports false when the field is absent, empty or not a string.
func ReadInfo(ctx context.Context, paths []string, bundle string, reader EntryReader) (string, bool, error) {
	m, err := infoPlistMatcher()
	if err != nil {
		return "", false, err
	}

	root, found, err := readBundlePlist(ctx, paths, bundle, infoPlistSuffix, m, reader)
	if err != nil || !found {
		return "", false, err
	}

	field, ok := dictField(root, InfoExecutableKey)
	if !ok {
		return "", false, nil
	}

	executable, ok := field.AsString()
	if !ok || executable == "" {
		return "", false, nil
	}

	return executable, true, nil
}

// Locate finds the bundle and resolves where DRM blobs go.
// The manifest wins; Info.plist is consulted only when no usable manifest exists.
func Locate(ctx context.Context, paths []string, reader EntryReader) (BundleContext, error) {
	name, err := FindBundleRoot(paths)
	if err != nil {
		return BundleContext{}, err
	}

	sinfPaths, ok, err := ReadManifest(ctx, paths, name, reader)
	if err != nil {
		return BundleContext{}, err
	}
	if ok {
		return BundleContext{Name: name, Resolution: ManifestResolution(sinfPaths)}, nil
	}

	executable, ok, err := ReadInfo(ctx, paths, name, reader)
	if err != nil {
		return BundleContext{}, err
	}
	if ok {
		return BundleContext{Name: name, Resolution: FallbackResolution(executable)}, nil
	}

	return BundleContext{}, fmt.Errorf("%w: bundle %s", ErrLocatorFailed, name)
}

// readBundlePlist decodes the first entry selected by m that belongs to bundle.
func readBundlePlist(
	ctx context.Context,
	paths []string,
	bundle string,
	suffix string,
	m *entryMatcher,
	reader EntryReader,
) (plist.Value, bool, error) {
	for _, p := range paths {
		if !m.Match(p) || bundleNameOf(p, suffix) != bundle {
			continue
		}

		data, err := reader.ReadEntry(ctx, p)
		if err != nil {
			return plist.Value{}, false, err
		}

		v, err := plist.Decode(data)
		if err != nil {
			return plist.Value{}, false, fmt.Errorf("decode %s: %w", p, err)
		}

		return v, true, nil
	}

	return plist.Value{}, false, nil
}

// bundleNameOf returns <Name> for entry paths ending in <Name>.app<suffix>.
func bundleNameOf(entryPath string, suffix string) string {
	dir, ok := strings.CutSuffix(entryPath, suffix)
	if !ok {
		return ""
	}

	name, ok := strings.CutSuffix(path.Base(dir), BundleExt)
	if !ok {
		return ""
	}

	return name
}

// dictField returns key from a dict root.
func dictField(root plist.Value, key string) (plist.Value, bool) {
	d, ok := root.AsDict()
	if !ok {
		return plist.Value{}, false
	}

	return d.Get(key)
}

// stringList converts an array of strings; any other shape reports false.
func stringList(v plist.Value) ([]string, bool) {
	items, ok := v.AsArray()
	if !ok {
		return nil, false
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		switch item.Kind() {
		case plist.KindString:
			s, _ := item.AsString()
			out = append(out, s)
		case plist.KindInvalid, plist.KindInteger, plist.KindReal, plist.KindBoolean,
			plist.KindData, plist.KindDate, plist.KindArray, plist.KindDict:
			return nil, false
		}
	}

	return out, true
}
