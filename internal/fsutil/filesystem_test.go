package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fs := OSFileSystem{}

	if !fs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_TempDirLifecycle(t *testing.T) {
	fs := OSFileSystem{}

	dir, err := fs.MkdirTemp(t.TempDir(), "pol2cat-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}

	if err := fs.MkdirAll(filepath.Join(dir, "adam"), 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fs.WriteFile(filepath.Join(dir, "qff_1.lis"), []byte("a\nb\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fs.WriteFile(filepath.Join(dir, "adam", "GLOBAL.sdf"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	files, err := fs.List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	if files[0] != filepath.Join(dir, "adam", "GLOBAL.sdf") {
		t.Errorf("unexpected sort order: %v", files)
	}

	data, err := fs.ReadFile(filepath.Join(dir, "qff_1.lis"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "a\nb\n" {
		t.Errorf("expected list contents, got %q", data)
	}

	if err := fs.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}
	if fs.Exists(dir) {
		t.Error("expected temp dir to be removed")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}
}

func TestMemoryFileSystem_WriteRequiresParent(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/missing/file.txt", []byte("x"), 0644); err == nil {
		t.Error("expected error when parent directory is missing")
	}
}

func TestMemoryFileSystem_ReadNonExistent(t *testing.T) {
	mfs := NewMemoryFileSystem()

	_, err := mfs.ReadFile("/nonexistent.txt")
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	for _, p := range []string{"/a/b/c", "/a/b", "/a"} {
		if !mfs.Exists(p) {
			t.Errorf("expected %s to exist", p)
		}
	}
}

func TestMemoryFileSystem_MkdirTemp(t *testing.T) {
	mfs := NewMemoryFileSystem()

	first, err := mfs.MkdirTemp("", "pol2cat-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	second, err := mfs.MkdirTemp("", "pol2cat-*")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}

	if first != "/tmp/pol2cat-1" || second != "/tmp/pol2cat-2" {
		t.Errorf("unexpected temp names %q, %q", first, second)
	}
	if !mfs.Exists(first) || !mfs.Exists(second) {
		t.Error("expected both temp dirs to exist")
	}
}

func TestMemoryFileSystem_RemoveAll(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/parent/child", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := mfs.WriteFile("/parent/file1.txt", []byte("file1"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := mfs.WriteFile("/parent/child/file2.txt", []byte("file2"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := mfs.WriteFile("/parentless.txt", []byte("keep"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := mfs.RemoveAll("/parent"); err != nil {
		t.Fatalf("RemoveAll failed: %v", err)
	}

	for _, p := range []string{"/parent", "/parent/file1.txt", "/parent/child", "/parent/child/file2.txt"} {
		if mfs.Exists(p) {
			t.Errorf("expected %s to not exist", p)
		}
	}
	if !mfs.Exists("/parentless.txt") {
		t.Error("RemoveAll must not match on a bare name prefix")
	}
}

func TestMemoryFileSystem_List(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.List("/nowhere"); err == nil {
		t.Error("expected error listing a missing directory")
	}

	if err := mfs.MkdirAll("/w/sub", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	_ = mfs.WriteFile("/w/b.lis", nil, 0644)
	_ = mfs.WriteFile("/w/sub/a.lis", nil, 0644)

	files, err := mfs.List("/w")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 2 || files[0] != "/w/b.lis" || files[1] != "/w/sub/a.lis" {
		t.Errorf("unexpected listing %v", files)
	}
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("./dirty/../clean.txt", []byte("clean"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("clean.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if string(data) != "clean" {
		t.Errorf("expected 'clean', got %q", data)
	}
}
