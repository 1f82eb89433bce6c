package ipapatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenArchive_InvalidInput(t *testing.T) {
	t.Parallel()

	if _, err := OpenArchive("  ", newFakeTool(nil), ArchiveOptions{}); !errors.Is(err, ErrInvalidArchivePath) {
		t.Fatalf("expected ErrInvalidArchivePath, got %v", err)
	}

	if _, err := OpenArchive("app.ipa", nil, ArchiveOptions{}); !errors.Is(err, ErrNilTool) {
		t.Fatalf("expected ErrNilTool, got %v", err)
	}
}

func TestArchiveListEntries_EmptyArchive(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "empty.ipa")
	if err := createTestZip(archivePath, nil); err != nil {
		t.Fatalf("createTestZip: %v", err)
	}

	a, err := OpenArchive(archivePath, NewZipTool(ZipToolOptions{}), ArchiveOptions{})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	paths, err := a.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if paths == nil || len(paths) != 0 {
		t.Fatalf("ListEntries=%v, want empty non-nil slice", paths)
	}
}

func TestArchiveListAndRead_Zip(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "app.ipa")
	err := createTestZip(archivePath, []testEntry{
		{path: "Payload/Foo.app/Info.plist", data: infoPlistXML("Foo")},
		{path: "Payload/Foo.app/Foo", data: []byte("MACHO")},
		{path: "iTunesMetadata.plist", data: []byte("meta")},
	})
	if err != nil {
		t.Fatalf("createTestZip: %v", err)
	}

	a, err := OpenArchive(archivePath, NewZipTool(ZipToolOptions{}), ArchiveOptions{})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	entries, err := a.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}

	wantPaths := []string{"Payload/Foo.app/Info.plist", "Payload/Foo.app/Foo", "iTunesMetadata.plist"}
	if len(entries) != len(wantPaths) {
		t.Fatalf("Entries count=%d, want %d", len(entries), len(wantPaths))
	}
	for i, want := range wantPaths {
		if entries[i].Path != want {
			t.Fatalf("entry[%d]=%q, want %q", i, entries[i].Path, want)
		}
	}
	if entries[1].Size != uint64(len("MACHO")) {
		t.Fatalf("entry size=%d, want %d", entries[1].Size, len("MACHO"))
	}

	data, err := a.ReadEntry(context.Background(), "Payload/Foo.app/Foo")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(data) != "MACHO" {
		t.Fatalf("ReadEntry=%q, want %q", data, "MACHO")
	}

	if _, err := a.ReadEntry(context.Background(), "Payload/Foo.app/missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestArchiveReadEntry_EntryTooLarge(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "app.ipa")
	err := createTestZip(archivePath, []testEntry{
		{path: "big.bin", data: make([]byte, 128)},
	})
	if err != nil {
		t.Fatalf("createTestZip: %v", err)
	}

	a, err := OpenArchive(archivePath, NewZipTool(ZipToolOptions{MaxEntrySize: 64}), ArchiveOptions{})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	if _, err := a.ReadEntry(context.Background(), "big.bin"); !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
}

func TestArchiveReadEntry_UnsafePathSkipsTool(t *testing.T) {
	t.Parallel()

	tool := newFakeTool([]testEntry{{path: "a.txt", data: []byte("a")}})
	a, err := OpenArchive(writeArchiveStub(t, "stub"), tool, ArchiveOptions{})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	for _, p := range []string{"../a.txt", "/a.txt", "C:/a.txt", ""} {
		if _, err := a.ReadEntry(context.Background(), p); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("ReadEntry(%q) error=%v, want ErrUnsafePath", p, err)
		}
	}

	if len(tool.extracts) != 0 {
		t.Fatalf("tool Extract called %d times, want 0", len(tool.extracts))
	}
}

func TestArchiveListEntries_ToolFailure(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	tool.listErr = errors.New("exit status 9")

	a, err := OpenArchive(writeArchiveStub(t, "stub"), tool, ArchiveOptions{})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	if _, err := a.ListEntries(context.Background()); !errors.Is(err, ErrArchiveTool) {
		t.Fatalf("expected ErrArchiveTool, got %v", err)
	}
}

func TestArchiveWriteEntries_OverwriteAndAddZip(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "app.ipa")
	err := createTestZip(archivePath, []testEntry{
		{path: "Payload/Foo.app/Info.plist", data: infoPlistXML("Foo")},
		{path: "Payload/Foo.app/SC_Info/Foo.sinf", data: []byte("old-sinf")},
		{path: "Payload/Foo.app/Foo", data: []byte("MACHO")},
	})
	if err != nil {
		t.Fatalf("createTestZip: %v", err)
	}

	staging := t.TempDir()
	a, err := OpenArchive(archivePath, NewZipTool(ZipToolOptions{}), ArchiveOptions{StagingDir: staging})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	err = a.WriteEntries(context.Background(), []InjectionItem{
		{Path: "Payload/Foo.app/SC_Info/Foo.sinf", Data: []byte("new-sinf")},
		{Path: "iTunesMetadata.plist", Data: []byte("meta")},
	})
	if err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	want := map[string]string{
		"Payload/Foo.app/Info.plist":       string(infoPlistXML("Foo")),
		"Payload/Foo.app/SC_Info/Foo.sinf": "new-sinf",
		"Payload/Foo.app/Foo":              "MACHO",
		"iTunesMetadata.plist":             "meta",
	}

	paths, err := a.ListEntries(context.Background())
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		seen[p] = true
	}
	for p, content := range want {
		if !seen[p] {
			t.Fatalf("entry %q missing after write", p)
		}

		got, err := a.ReadEntry(context.Background(), p)
		if err != nil {
			t.Fatalf("ReadEntry(%q): %v", p, err)
		}
		if string(got) != content {
			t.Fatalf("entry %q=%q, want %q", p, got, content)
		}
	}

	assertDirEmpty(t, staging)
	if _, err := os.Stat(archivePath + backupSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("backup must be removed with BackupKeep=0, stat err=%v", err)
	}
}

func TestArchiveWriteEntries_UnsafePathNoMutation(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	archivePath := writeArchiveStub(t, "orig")
	staging := t.TempDir()

	a, err := OpenArchive(archivePath, tool, ArchiveOptions{StagingDir: staging, BackupKeep: 1})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	err = a.WriteEntries(context.Background(), []InjectionItem{
		{Path: "Payload/Foo.app/SC_Info/Foo.sinf", Data: []byte("ok")},
		{Path: "../../etc/passwd", Data: []byte("evil")},
	})
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}

	if tool.updateCount() != 0 {
		t.Fatalf("tool Update called %d times, want 0", tool.updateCount())
	}
	assertDirEmpty(t, staging)

	if _, err := os.Stat(archivePath + backupSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no backup expected before guard passes, stat err=%v", err)
	}
}

func TestArchiveWriteEntries_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	staging := t.TempDir()
	a, err := OpenArchive(writeArchiveStub(t, "orig"), tool, ArchiveOptions{StagingDir: staging})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	if err := a.WriteEntries(context.Background(), nil); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	if tool.updateCount() != 0 {
		t.Fatalf("tool Update called %d times, want 0", tool.updateCount())
	}
	assertDirEmpty(t, staging)
}

func TestArchiveWriteEntries_SingleBatchCollapsesDuplicates(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	a, err := OpenArchive(writeArchiveStub(t, "orig"), tool, ArchiveOptions{})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	err = a.WriteEntries(context.Background(), []InjectionItem{
		{Path: "Payload/Foo.app/SC_Info/Foo.sinf", Data: []byte("first")},
		{Path: "iTunesMetadata.plist", Data: []byte("meta")},
		{Path: "./Payload/Foo.app/SC_Info/Foo.sinf", Data: []byte("last")},
	})
	if err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	if tool.updateCount() != 1 {
		t.Fatalf("tool Update called %d times, want 1", tool.updateCount())
	}

	upd := tool.updates[0]
	wantPaths := []string{"Payload/Foo.app/SC_Info/Foo.sinf", "iTunesMetadata.plist"}
	if len(upd.relPaths) != len(wantPaths) {
		t.Fatalf("relPaths=%v, want %v", upd.relPaths, wantPaths)
	}
	for i := range wantPaths {
		if upd.relPaths[i] != wantPaths[i] {
			t.Fatalf("relPaths[%d]=%q, want %q", i, upd.relPaths[i], wantPaths[i])
		}
	}

	if got := string(upd.staged["Payload/Foo.app/SC_Info/Foo.sinf"]); got != "last" {
		t.Fatalf("staged payload=%q, want %q", got, "last")
	}
}

func TestArchiveWriteEntries_ToolFailureRestoresArchive(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	tool.updateErr = errors.New("zip exited with status 2")
	tool.onUpdate = func(archivePath string) {
		_ = os.WriteFile(archivePath, []byte("half-written"), 0o600)
	}

	archivePath := writeArchiveStub(t, "orig")
	staging := t.TempDir()
	a, err := OpenArchive(archivePath, tool, ArchiveOptions{StagingDir: staging})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	err = a.WriteEntries(context.Background(), []InjectionItem{
		{Path: "Payload/Foo.app/SC_Info/Foo.sinf", Data: []byte("sinf")},
	})
	if !errors.Is(err, ErrArchiveTool) {
		t.Fatalf("expected ErrArchiveTool, got %v", err)
	}

	got, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "orig" {
		t.Fatalf("archive=%q, want restored %q", got, "orig")
	}

	if _, err := os.Stat(archivePath + backupSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("backup must be consumed by restore, stat err=%v", err)
	}
	assertDirEmpty(t, staging)
}

func TestArchiveWriteEntries_BackupRotation(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	archivePath := writeArchiveStub(t, "v1")
	a, err := OpenArchive(archivePath, tool, ArchiveOptions{BackupKeep: 2})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	for _, next := range []string{"v2", "v3"} {
		err := a.WriteEntries(context.Background(), []InjectionItem{
			{Path: "iTunesMetadata.plist", Data: []byte(next)},
		})
		if err != nil {
			t.Fatalf("WriteEntries: %v", err)
		}

		// Simulate the archive content changing with every successful write.
		if err := os.WriteFile(archivePath, []byte(next), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	checks := map[string]string{
		archivePath + backupSuffix:        "v2",
		archivePath + backupSuffix + ".1": "v1",
	}
	for p, want := range checks {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", p, err)
		}
		if string(got) != want {
			t.Fatalf("%s=%q, want %q", filepath.Base(p), got, want)
		}
	}
}

func TestArchiveWriteEntries_DisableBackup(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	archivePath := writeArchiveStub(t, "orig")
	a, err := OpenArchive(archivePath, tool, ArchiveOptions{DisableBackup: true, BackupKeep: 3})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	err = a.WriteEntries(context.Background(), []InjectionItem{
		{Path: "iTunesMetadata.plist", Data: []byte("meta")},
	})
	if err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	if _, err := os.Stat(archivePath + backupSuffix); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("no backup expected with DisableBackup, stat err=%v", err)
	}
}

func TestArchiveWriteEntries_CanceledContext(t *testing.T) {
	t.Parallel()

	tool := newFakeTool(nil)
	staging := t.TempDir()
	a, err := OpenArchive(writeArchiveStub(t, "orig"), tool, ArchiveOptions{StagingDir: staging})
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = a.WriteEntries(ctx, []InjectionItem{{Path: "iTunesMetadata.plist", Data: []byte("m")}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tool.updateCount() != 0 {
		t.Fatalf("tool Update called %d times, want 0", tool.updateCount())
	}
	assertDirEmpty(t, staging)
}
