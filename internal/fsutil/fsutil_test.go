package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestProbes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Run.completed")
	touch(t, file)

	if !Exists(file) || !IsFile(file) || IsDir(file) {
		t.Errorf("file probes wrong for %s", file)
	}
	if !IsDir(dir) || IsFile(dir) {
		t.Errorf("dir probes wrong for %s", dir)
	}
	if Exists(filepath.Join(dir, "missing")) {
		t.Error("missing file reported as existing")
	}
	if !ReadableFile(file) {
		t.Error("expected file to be readable")
	}
}

func TestReadable_PermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	dir := t.TempDir()
	file := filepath.Join(dir, "Log.txt")
	touch(t, file)
	if err := os.Chmod(file, 0); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if Readable(file) {
		t.Error("expected unreadable file")
	}
}

func TestGlob(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "runParameters.xml.bak"))
	touch(t, filepath.Join(dir, "runParameters.xml.1"))
	touch(t, filepath.Join(dir, "RunInfo.xml"))

	got := Glob(dir, "runParameters.xml*")
	if len(got) != 2 {
		t.Fatalf("Expected 2 matches, got %v", got)
	}
	if got[0] != "runParameters.xml.1" || got[1] != "runParameters.xml.bak" {
		t.Errorf("Expected sorted matches, got %v", got)
	}

	if Glob(filepath.Join(dir, "nope"), "*") != nil {
		t.Error("missing dir should yield nil")
	}
}

func TestGlob_MetaCharsInDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run[1]")
	touch(t, filepath.Join(dir, "x Post Run Step.log"))

	if got := Glob(dir, "*Post Run Step.log"); len(got) != 1 {
		t.Errorf("Expected 1 match in dir with meta chars, got %v", got)
	}
}

func TestCanonical_ResolvesSymlinks(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "archive", "150101_INSTR_0001_AAAA")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := Canonical(link)
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	want, _ := filepath.EvalSymlinks(target)
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	if _, err := Canonical(filepath.Join(base, "missing")); err == nil {
		t.Error("Canonical of a missing path should fail")
	}
}

func TestResolvePath_NonExistentTail(t *testing.T) {
	base := t.TempDir()
	resolvedBase, _ := filepath.EvalSymlinks(base)

	got, err := ResolvePath(filepath.Join(base, "state", "cache.db"))
	if err != nil {
		t.Fatalf("ResolvePath failed: %v", err)
	}
	want := filepath.Join(resolvedBase, "state", "cache.db")
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
