// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

package ipapatch

import (
	"os"
	"time"

	"github.com/apex/log"
)

// Fixed archive layout names.
const (
	// PayloadDir is the archive directory holding application bundles.
	PayloadDir = "Payload"
	// BundleExt is the application bundle directory suffix.
	BundleExt = ".app"
	// InfoPlistName is the bundle descriptor file name.
	InfoPlistName = "Info.plist"
	// SCInfoDir is the bundle directory holding DRM data.
	SCInfoDir = "SC_Info"
	// ManifestPlistName is the DRM manifest file name inside SC_Info.
	ManifestPlistName = "Manifest.plist"
	// SinfExt is the DRM blob file suffix.
	SinfExt = ".sinf"
	// MetadataEntryPath is the archive-root path of the store metadata plist.
	MetadataEntryPath = "iTunesMetadata.plist"
	// ManifestSinfPathsKey is the manifest field listing DRM blob paths.
	ManifestSinfPathsKey = "SinfPaths"
	// InfoExecutableKey is the Info.plist field naming the main executable.
	InfoExecutableKey = "CFBundleExecutable"
)

// Default tuning values.
const (
	DefaultMaxEntrySize = 64 * 1024 * 1024
	// stagingPattern names private staging directories.
	stagingPattern = "ipapatch-stage-*"
)

// Entry describes one archive entry.
type Entry struct {
	// Path is the slash-separated entry path as stored in the archive.
	Path string `json:"path" yaml:"path"`
	// Size is the uncompressed entry size in bytes.
	Size uint64 `json:"size" yaml:"size"`
}

// Sinf is one decoded DRM blob.
type Sinf struct {
	// Data is the raw blob payload.
	Data []byte `json:"-" yaml:"-"`
	// Index is the caller-supplied ordinal matched against manifest slots.
	Index int `json:"index" yaml:"index"`
}

// SinfRecord is the transport form of a DRM blob.
type SinfRecord struct {
	// Data is the base64-encoded blob.
	Data string `json:"sinf" yaml:"sinf"`
	// ID is the blob ordinal.
	ID int `json:"id" yaml:"id"`
}

// InjectionItem is one planned archive write.
type InjectionItem struct {
	// Path is the destination entry path.
	Path string `json:"path" yaml:"path"`
	// Data is the payload placed at Path.
	Data []byte `json:"-" yaml:"-"`
}

// ResolutionKind identifies how DRM destinations were resolved.
type ResolutionKind uint8

// Resolution kinds.
const (
	// ResolutionNone means no destinations were resolved.
	ResolutionNone ResolutionKind = iota
	// ResolutionManifest means destinations come from SC_Info/Manifest.plist.
	ResolutionManifest
	// ResolutionFallback means one destination is derived from the executable name.
	ResolutionFallback
)

// String returns the resolution name.
func (k ResolutionKind) String() string {
	switch k {
	case ResolutionManifest:
		return "manifest"
	case ResolutionFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Resolution is the tagged result of manifest/Info.plist discovery.
type Resolution struct {
	executable    string
	manifestPaths []string
	kind          ResolutionKind
}

// ManifestResolution returns a resolution listing manifest-relative blob paths.
func ManifestResolution(paths []string) Resolution {
	return Resolution{kind: ResolutionManifest, manifestPaths: paths}
}

// FallbackResolution returns a resolution naming the bundle executable.
func FallbackResolution(executable string) Resolution {
	return Resolution{kind: ResolutionFallback, executable: executable}
}

// Kind reports which variant r holds.
func (r Resolution) Kind() ResolutionKind { return r.kind }

// ManifestPaths returns manifest paths for ResolutionManifest.
func (r Resolution) ManifestPaths() []string { return r.manifestPaths }

// Executable returns the executable name for ResolutionFallback.
func (r Resolution) Executable() string { return r.executable }

// BundleContext is the located application bundle.
type BundleContext struct {
	// Name is the bundle directory name without the .app suffix.
	Name string `json:"name" yaml:"name"`
	// Resolution tells where DRM blobs go.
	Resolution Resolution `json:"-" yaml:"-"`
}

// Request is the input of one patch operation.
type Request struct {
	// Sinfs are decoded DRM blobs in caller order.
	Sinfs []Sinf `json:"-" yaml:"-"`
	// Metadata is the optional store metadata plist; nil means absent.
	Metadata []byte `json:"-" yaml:"-"`
}

// PatchResult contains patch outcome details.
type PatchResult struct {
	// Bundle is the located bundle name.
	Bundle string `json:"bundle" yaml:"bundle"`
	// Resolution is how DRM destinations were resolved.
	Resolution ResolutionKind `json:"resolution" yaml:"resolution"`
	// Items lists destination paths in write order.
	Items []string `json:"items,omitempty" yaml:"items,omitempty"`
	// Written reports whether the archive was updated.
	Written bool `json:"written" yaml:"written"`
	// MetadataConverted reports whether metadata was re-encoded as binary plist.
	MetadataConverted bool `json:"metadata_converted,omitempty" yaml:"metadata_converted,omitempty"`
	// Duration is end-to-end patch duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// ArchiveOptions configures archive accessor behavior.
type ArchiveOptions struct {
	// Logger receives staging and backup diagnostics.
	Logger log.Interface `json:"-" yaml:"-"`
	// StagingDir is the parent directory for private staging roots (default os.TempDir()).
	StagingDir string `json:"staging_dir,omitempty" yaml:"staging_dir,omitempty"`
	// BackupKeep controls how many backup generations are kept after a successful write.
	// 0 means remove backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
	// DisableBackup skips the pre-write copy; a failed update may then leave the archive modified.
	DisableBackup bool `json:"disable_backup,omitempty" yaml:"disable_backup,omitempty"`
}

// PatchOptions configures Patcher behavior.
type PatchOptions struct {
	// Archive configures staging and backups for the write step.
	Archive ArchiveOptions `json:"archive,omitzero" yaml:"archive,omitzero"`
	// Logger receives stage transitions; default is log.Log.
	Logger log.Interface `json:"-" yaml:"-"`
	// Verify re-reads written entries and compares them to the plan.
	Verify bool `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// ZipToolOptions configures the zip-backed archive tool.
type ZipToolOptions struct {
	// MaxEntrySize bounds extracted entry size in bytes (default 64 MiB).
	MaxEntrySize int64 `json:"max_entry_size,omitempty" yaml:"max_entry_size,omitempty"`
}

// applyDefaults fills zero-valued archive options with defaults.
func (opts *ArchiveOptions) applyDefaults() {
	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}

	if opts.Logger == nil {
		opts.Logger = log.Log
	}
}

// applyDefaults fills zero-valued patch options with defaults.
func (opts *PatchOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = log.Log
	}

	if opts.Archive.Logger == nil {
		opts.Archive.Logger = opts.Logger
	}

	opts.Archive.applyDefaults()
}

// applyDefaults fills zero-valued zip tool options with defaults.
func (opts *ZipToolOptions) applyDefaults() {
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultMaxEntrySize
	}
}
