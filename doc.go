// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/ipapatch

/*
Package ipapatch injects DRM blobs (SINF) and store metadata into IPA archives.

A patch lists the archive, locates the application bundle under Payload/, resolves
where each blob belongs and writes every planned entry in one in-place update.
Other entries keep their stored bytes.

Destination resolution (summary):
  - the first Payload/<Name>.app/Info.plist outside a Watch directory names the bundle;
  - SC_Info/Manifest.plist field SinfPaths lists one slot per blob, slot i takes the
    blob with Index i, unmatched slots and blobs are skipped;
  - without a usable manifest, the first blob goes to SC_Info/<CFBundleExecutable>.sinf;
  - metadata goes to iTunesMetadata.plist, re-encoded as binary plist when it is XML and
    kept verbatim otherwise.

# Patching

Decode transport payloads once and run the patch:

	sinfs, err := ipapatch.DecodeSinfs(records)
	if err != nil {
	    return err
	}
	metadata, err := ipapatch.DecodeMetadata(metadataBase64)
	if err != nil {
	    return err
	}

	p := ipapatch.NewPatcher(ipapatch.NewZipTool(ipapatch.ZipToolOptions{}), ipapatch.PatchOptions{
	    Verify: true,
	})
	res, err := p.Patch(ctx, "App.ipa", ipapatch.Request{Sinfs: sinfs, Metadata: metadata})
	if err != nil {
	    var stageErr *ipapatch.StageError
	    if errors.As(err, &stageErr) {
	        // stageErr.Stage tells where it failed
	    }
	    return err
	}
	_ = res.Items

An empty plan (no blobs, no metadata) leaves the archive untouched.

# Archive access

Archive guards entry paths on top of any ArchiveTool:

	a, err := ipapatch.OpenArchive("App.ipa", ipapatch.NewZipTool(ipapatch.ZipToolOptions{}), ipapatch.ArchiveOptions{
	    BackupKeep: 1,
	})
	if err != nil {
	    return err
	}
	paths, err := a.ListEntries(ctx)
	if err != nil {
	    return err
	}
	bundle, err := ipapatch.Locate(ctx, paths, a)
	if err != nil {
	    return err
	}
	err = a.WriteEntries(ctx, ipapatch.PlanDRM(bundle, sinfs))

Paths that are empty, absolute, drive-prefixed or contain ".." segments fail with
ErrUnsafePath before any file is created. Writes are staged in a private directory
that is removed on every exit path; unless DisableBackup is set, a failed update
restores the archive from its backup copy.

# Property lists

Package plist decodes binary and XML property lists into an ordered value tree and
encodes binary property lists deterministically.
*/
package ipapatch
