package ipapatch

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStagingRoot_StageWritesInsideRoot(t *testing.T) {
	t.Parallel()

	stage, err := newStagingRoot(t.TempDir())
	if err != nil {
		t.Fatalf("newStagingRoot: %v", err)
	}
	defer func() { _ = stage.remove() }()

	rel, err := stage.stage("Payload/Foo.app/SC_Info/Foo.sinf", []byte("sinf"))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if rel != "Payload/Foo.app/SC_Info/Foo.sinf" {
		t.Fatalf("rel=%q", rel)
	}

	got, err := os.ReadFile(filepath.Join(stage.dir, "Payload", "Foo.app", "SC_Info", "Foo.sinf"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "sinf" {
		t.Fatalf("staged=%q, want %q", got, "sinf")
	}
}

func TestStagingRoot_RejectsTraversalWithoutMutation(t *testing.T) {
	t.Parallel()

	stage, err := newStagingRoot(t.TempDir())
	if err != nil {
		t.Fatalf("newStagingRoot: %v", err)
	}
	defer func() { _ = stage.remove() }()

	for _, p := range []string{"../../etc/passwd", "Payload/../../x", "/etc/passwd"} {
		if _, err := stage.stage(p, []byte("evil")); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("stage(%q) error=%v, want ErrUnsafePath", p, err)
		}
	}

	assertDirEmpty(t, stage.dir)
}

func TestStagingRoot_RejectsSymlinkedParent(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	outside := t.TempDir()
	stage, err := newStagingRoot(t.TempDir())
	if err != nil {
		t.Fatalf("newStagingRoot: %v", err)
	}
	defer func() { _ = stage.remove() }()

	if err := os.Symlink(outside, filepath.Join(stage.dir, "Payload")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	if _, err := stage.stage("Payload/evil.sinf", []byte("evil")); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("stage error=%v, want ErrUnsafePath", err)
	}

	assertDirEmpty(t, outside)
}

func TestStagingRoot_RejectsSymlinkTarget(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	victim := filepath.Join(t.TempDir(), "victim")
	if err := os.WriteFile(victim, []byte("keep"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	stage, err := newStagingRoot(t.TempDir())
	if err != nil {
		t.Fatalf("newStagingRoot: %v", err)
	}
	defer func() { _ = stage.remove() }()

	if err := os.Symlink(victim, filepath.Join(stage.dir, "link.sinf")); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	if _, err := stage.stage("link.sinf", []byte("evil")); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("stage error=%v, want ErrUnsafePath", err)
	}

	got, err := os.ReadFile(victim)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "keep" {
		t.Fatalf("victim=%q, want unchanged", got)
	}
}

func TestStagingRoot_Remove(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	stage, err := newStagingRoot(parent)
	if err != nil {
		t.Fatalf("newStagingRoot: %v", err)
	}

	if _, err := stage.stage("a/b/c.bin", []byte("x")); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := stage.remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}

	assertDirEmpty(t, parent)
}

func TestIsStrictDescendant(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "stage", "root")
	testCases := []struct {
		name   string
		target string
		want   bool
	}{
		{name: "child", target: filepath.Join(root, "a"), want: true},
		{name: "nested", target: filepath.Join(root, "a", "b"), want: true},
		{name: "dotdot prefix name", target: filepath.Join(root, "..a"), want: true},
		{name: "root itself", target: root, want: false},
		{name: "parent", target: filepath.Dir(root), want: false},
		{name: "sibling", target: filepath.Join(filepath.Dir(root), "other"), want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := isStrictDescendant(root, tc.target); got != tc.want {
				t.Fatalf("isStrictDescendant(%q, %q)=%v, want %v", root, tc.target, got, tc.want)
			}
		})
	}
}
