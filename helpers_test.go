package ipapatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/STARRY-S/zip"

	"github.com/woozymasta/ipapatch/plist"
)

// testEntry is one ordered zip fixture entry.
type testEntry struct {
	path string
	data []byte
}

// createTestZip writes entries as a stored zip archive at archivePath.
func createTestZip(archivePath string, entries []testEntry) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.path, Method: zip.Store})
		if err != nil {
			_ = f.Close()
			return err
		}

		if _, err := w.Write(e.data); err != nil {
			_ = f.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// mustBinaryPlist encodes v or fails the test.
func mustBinaryPlist(t *testing.T, v plist.Value) []byte {
	t.Helper()

	data, err := plist.EncodeBinary(v)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	return data
}

// manifestPlist builds a binary SC_Info/Manifest.plist with the given SinfPaths.
func manifestPlist(t *testing.T, sinfPaths ...string) []byte {
	t.Helper()

	items := make([]plist.Value, 0, len(sinfPaths))
	for _, p := range sinfPaths {
		items = append(items, plist.String(p))
	}

	root := plist.NewDict()
	root.Set(ManifestSinfPathsKey, plist.Array(items...))

	return mustBinaryPlist(t, plist.Map(root))
}

// infoPlistXML builds an XML Info.plist naming executable.
func infoPlistXML(executable string) []byte {
	return fmt.Appendf(nil, `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>com.example.%[1]s</string>
	<key>CFBundleExecutable</key>
	<string>%[1]s</string>
</dict>
</plist>
`, executable)
}

// memReader is an EntryReader over an in-memory map.
type memReader map[string][]byte

func (m memReader) ReadEntry(_ context.Context, entryPath string) ([]byte, error) {
	data, ok := m[entryPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryPath)
	}

	return data, nil
}

// fakeUpdate records one ArchiveTool.Update call with the staged payloads it saw.
type fakeUpdate struct {
	staged   map[string][]byte
	relPaths []string
}

// fakeTool is an in-memory ArchiveTool that records calls.
type fakeTool struct {
	entries   map[string][]byte
	listErr   error
	updateErr error
	// onUpdate runs before the update is applied; it may damage the archive file.
	onUpdate func(archivePath string)
	order    []string
	updates  []fakeUpdate
	extracts []string
	// corrupt stores altered bytes to provoke verification failures.
	corrupt bool
	mu      sync.Mutex
}

func newFakeTool(entries []testEntry) *fakeTool {
	ft := &fakeTool{entries: make(map[string][]byte, len(entries))}
	for _, e := range entries {
		ft.order = append(ft.order, e.path)
		ft.entries[e.path] = e.data
	}

	return ft
}

func (f *fakeTool) List(_ context.Context, _ string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]Entry, 0, len(f.order))
	for _, p := range f.order {
		out = append(out, Entry{Path: p, Size: uint64(len(f.entries[p]))})
	}

	return out, nil
}

func (f *fakeTool) Extract(_ context.Context, _ string, entryPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.extracts = append(f.extracts, entryPath)

	data, ok := f.entries[entryPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryPath)
	}

	return data, nil
}

func (f *fakeTool) Update(_ context.Context, archivePath string, workDir string, relPaths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := fakeUpdate{
		relPaths: append([]string(nil), relPaths...),
		staged:   make(map[string][]byte, len(relPaths)),
	}
	for _, rel := range relPaths {
		data, err := os.ReadFile(filepath.Join(workDir, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}

		rec.staged[rel] = data
	}
	f.updates = append(f.updates, rec)

	if f.onUpdate != nil {
		f.onUpdate(archivePath)
	}
	if f.updateErr != nil {
		return f.updateErr
	}

	for _, rel := range relPaths {
		data := rec.staged[rel]
		if f.corrupt {
			data = append([]byte("x"), data...)
		}

		if _, ok := f.entries[rel]; !ok {
			f.order = append(f.order, rel)
		}
		f.entries[rel] = data
	}

	return nil
}

// updateCount returns the number of recorded Update calls.
func (f *fakeTool) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.updates)
}

// writeArchiveStub creates a placeholder archive file for fake tool tests.
func writeArchiveStub(t *testing.T, content string) string {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "app.ipa")
	if err := os.WriteFile(archivePath, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return archivePath
}

// assertDirEmpty fails when dir contains any entry.
func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	if len(entries) != 0 {
		t.Fatalf("%s must be empty, has %d entries (first %q)", dir, len(entries), entries[0].Name())
	}
}
