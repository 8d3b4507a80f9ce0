package vfs

import (
	"context"
	"io"
	"testing"
)

func mustMkdir(t *testing.T, fs *FS, path string) {
	t.Helper()
	if err := fs.Mkdir(context.Background(), path, 0o755); err != nil {
		t.Fatalf("Mkdir(%s) failed: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, fs *FS, path string, data []byte) {
	t.Helper()
	h, err := fs.Open(context.Background(), path, FlagWrite|FlagCreate|FlagTrunc)
	if err != nil {
		t.Fatalf("Open(%s) for write failed: %v", path, err)
	}
	if _, err := h.Write(data); err != nil {
		t.Fatalf("Write(%s) failed: %v", path, err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close(%s) failed: %v", path, err)
	}
}

func mustReadFile(t *testing.T, fs *FS, path string) []byte {
	t.Helper()
	h, err := fs.Open(context.Background(), path, FlagRead)
	if err != nil {
		t.Fatalf("Open(%s) for read failed: %v", path, err)
	}
	defer h.Close()
	data, err := io.ReadAll(h)
	if err != nil {
		t.Fatalf("ReadAll(%s) failed: %v", path, err)
	}
	return data
}

func wantFSError(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected FSError with code %v, got nil", code)
	}
	fsErr, ok := err.(*FSError)
	if !ok {
		t.Fatalf("expected *FSError, got %T: %v", err, err)
	}
	if fsErr.Code != code {
		t.Errorf("error code = %v, want %v (err: %v)", fsErr.Code, code, err)
	}
}

func TestStatRoot(t *testing.T) {
	fs := New()
	attr, err := fs.Stat(context.Background(), "/")
	if err != nil {
		t.Fatalf("Stat(/) failed: %v", err)
	}
	if !attr.IsDir() {
		t.Errorf("root mode = %o, want directory bits", attr.Mode)
	}
}

func TestStatMissing(t *testing.T) {
	fs := New()
	_, err := fs.Stat(context.Background(), "/nope")
	wantFSError(t, err, ErrNoSuchFile)
}

func TestMkdirRequiresParent(t *testing.T) {
	fs := New()
	err := fs.Mkdir(context.Background(), "/a/b", 0o755)
	wantFSError(t, err, ErrNoSuchFile)

	mustMkdir(t, fs, "/a")
	mustMkdir(t, fs, "/a/b")

	attr, err := fs.Stat(context.Background(), "/a/b")
	if err != nil {
		t.Fatalf("Stat(/a/b) failed: %v", err)
	}
	if !attr.IsDir() {
		t.Errorf("mode = %o, want directory bits", attr.Mode)
	}
}

func TestMkdirExisting(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/a")
	wantFSError(t, fs.Mkdir(context.Background(), "/a", 0o755), ErrAlreadyExists)
}

func TestMkdirOnFileParent(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/f", []byte("x"))
	wantFSError(t, fs.Mkdir(context.Background(), "/f/sub", 0o755), ErrNotDirectory)
}

func TestMkdirAll(t *testing.T) {
	fs := New()
	if err := fs.MkdirAll(context.Background(), "/x/y/z", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, p := range []string{"/x", "/x/y", "/x/y/z"} {
		attr, err := fs.Stat(context.Background(), p)
		if err != nil {
			t.Fatalf("Stat(%s) failed: %v", p, err)
		}
		if !attr.IsDir() {
			t.Errorf("%s is not a directory", p)
		}
	}

	// Idempotent on existing directories.
	if err := fs.MkdirAll(context.Background(), "/x/y", 0o755); err != nil {
		t.Errorf("MkdirAll on existing dirs failed: %v", err)
	}

	// A file in the path fails the whole call.
	mustWriteFile(t, fs, "/x/file", []byte("x"))
	wantFSError(t, fs.MkdirAll(context.Background(), "/x/file/deep", 0o755), ErrNotDirectory)
}

func TestRmdir(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/d")
	mustWriteFile(t, fs, "/d/f", []byte("x"))

	wantFSError(t, fs.Rmdir(context.Background(), "/d"), ErrNotEmpty)

	if err := fs.Remove(context.Background(), "/d/f"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := fs.Rmdir(context.Background(), "/d"); err != nil {
		t.Fatalf("Rmdir after emptying failed: %v", err)
	}
	_, err := fs.Stat(context.Background(), "/d")
	wantFSError(t, err, ErrNoSuchFile)
}

func TestRmdirOnFile(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/f", []byte("x"))
	wantFSError(t, fs.Rmdir(context.Background(), "/f"), ErrNotDirectory)
}

func TestRemoveDirectory(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/d")
	wantFSError(t, fs.Remove(context.Background(), "/d"), ErrIsDirectory)
}

func TestListDirSorted(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/dir")
	mustWriteFile(t, fs, "/dir/c.log", []byte("c"))
	mustWriteFile(t, fs, "/dir/a.log", []byte("a"))
	mustMkdir(t, fs, "/dir/b")

	entries, err := fs.ListDir(context.Background(), "/dir")
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	want := []string{"a.log", "b", "c.log"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, name := range want {
		if entries[i].Name != name {
			t.Errorf("entries[%d].Name = %s, want %s", i, entries[i].Name, name)
		}
	}
	if !entries[1].Attr.IsDir() {
		t.Errorf("entry b should be a directory")
	}
}

func TestListDirOnFile(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/f", []byte("x"))
	_, err := fs.ListDir(context.Background(), "/f")
	wantFSError(t, err, ErrNotDirectory)
}

func TestRenameFile(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/a", []byte("payload"))

	if err := fs.Rename(context.Background(), "/a", "/b"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if got := mustReadFile(t, fs, "/b"); string(got) != "payload" {
		t.Errorf("read after rename = %q, want %q", got, "payload")
	}
	_, err := fs.Stat(context.Background(), "/a")
	wantFSError(t, err, ErrNoSuchFile)
}

func TestRenameMissingSource(t *testing.T) {
	fs := New()
	wantFSError(t, fs.Rename(context.Background(), "/nope", "/dst"), ErrNoSuchFile)
}

func TestRenameOntoExistingFile(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/a", []byte("a"))
	mustWriteFile(t, fs, "/b", []byte("b"))
	wantFSError(t, fs.Rename(context.Background(), "/a", "/b"), ErrAlreadyExists)
}

func TestRenameDirOntoEmptyDir(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/src")
	mustWriteFile(t, fs, "/src/f", []byte("x"))
	mustMkdir(t, fs, "/dst")

	if err := fs.Rename(context.Background(), "/src", "/dst"); err != nil {
		t.Fatalf("Rename onto empty dir failed: %v", err)
	}
	if got := mustReadFile(t, fs, "/dst/f"); string(got) != "x" {
		t.Errorf("subtree content = %q, want %q", got, "x")
	}
}

func TestRenameDirOntoNonEmptyDir(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/src")
	mustMkdir(t, fs, "/dst")
	mustWriteFile(t, fs, "/dst/busy", []byte("x"))
	wantFSError(t, fs.Rename(context.Background(), "/src", "/dst"), ErrNotEmpty)
}

func TestRenameDirectoryMovesSubtree(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/old")
	mustMkdir(t, fs, "/old/sub")
	mustWriteFile(t, fs, "/old/sub/deep.log", []byte("deep"))

	if err := fs.Rename(context.Background(), "/old", "/new"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if got := mustReadFile(t, fs, "/new/sub/deep.log"); string(got) != "deep" {
		t.Errorf("moved content = %q, want %q", got, "deep")
	}
	_, err := fs.Stat(context.Background(), "/old/sub/deep.log")
	wantFSError(t, err, ErrNoSuchFile)

	entries, err := fs.ListDir(context.Background(), "/new/sub")
	if err != nil {
		t.Fatalf("ListDir(/new/sub) failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "deep.log" {
		t.Errorf("unexpected listing after move: %+v", entries)
	}
}

func TestRenameIntoOwnSubtree(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/a")
	wantFSError(t, fs.Rename(context.Background(), "/a", "/a/b"), ErrInvalidArgument)
}

func TestSymlink(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/target", []byte("x"))

	if err := fs.Symlink(context.Background(), "/target", "/link"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	got, err := fs.Readlink(context.Background(), "/link")
	if err != nil {
		t.Fatalf("Readlink failed: %v", err)
	}
	if got != "/target" {
		t.Errorf("Readlink = %q, want %q", got, "/target")
	}

	attr, err := fs.Stat(context.Background(), "/link")
	if err != nil {
		t.Fatalf("Stat(/link) failed: %v", err)
	}
	if !attr.IsSymlink() {
		t.Errorf("mode = %o, want symlink bits", attr.Mode)
	}

	_, err = fs.Readlink(context.Background(), "/target")
	wantFSError(t, err, ErrNotSymlink)
}

func TestSetAttr(t *testing.T) {
	fs := New()
	mustWriteFile(t, fs, "/f", []byte("0123456789"))

	size := uint64(4)
	mode := uint32(0o600)
	if err := fs.SetAttr(context.Background(), "/f", AttrChanges{Size: &size, Mode: &mode}); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}

	attr, err := fs.Stat(context.Background(), "/f")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if attr.Size != 4 {
		t.Errorf("Size = %d, want 4", attr.Size)
	}
	if attr.Perm() != 0o600 {
		t.Errorf("Perm = %o, want 600", attr.Perm())
	}
	if got := mustReadFile(t, fs, "/f"); string(got) != "0123" {
		t.Errorf("truncated content = %q, want %q", got, "0123")
	}

	// Zero-extension.
	size = 8
	if err := fs.SetAttr(context.Background(), "/f", AttrChanges{Size: &size}); err != nil {
		t.Fatalf("SetAttr extend failed: %v", err)
	}
	if got := mustReadFile(t, fs, "/f"); string(got) != "0123\x00\x00\x00\x00" {
		t.Errorf("extended content = %q", got)
	}
}

func TestSetAttrSizeOnDirectory(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/d")
	size := uint64(1)
	wantFSError(t, fs.SetAttr(context.Background(), "/d", AttrChanges{Size: &size}), ErrInvalidArgument)
}

func TestRemoveTree(t *testing.T) {
	fs := New()
	mustMkdir(t, fs, "/extracts")
	mustMkdir(t, fs, "/extracts/run1")
	mustMkdir(t, fs, "/extracts/run1/nested")
	mustWriteFile(t, fs, "/extracts/run1/a.log", []byte("a"))
	mustWriteFile(t, fs, "/extracts/run1/nested/b.log", []byte("b"))
	mustWriteFile(t, fs, "/keep", []byte("k"))

	if err := fs.RemoveTree(context.Background(), "/extracts/run1"); err != nil {
		t.Fatalf("RemoveTree failed: %v", err)
	}

	for _, p := range []string{"/extracts/run1", "/extracts/run1/a.log", "/extracts/run1/nested/b.log"} {
		if _, err := fs.Stat(context.Background(), p); err == nil {
			t.Errorf("%s still exists after RemoveTree", p)
		}
	}
	if _, err := fs.Stat(context.Background(), "/extracts"); err != nil {
		t.Errorf("parent removed by RemoveTree: %v", err)
	}
	if _, err := fs.Stat(context.Background(), "/keep"); err != nil {
		t.Errorf("sibling removed by RemoveTree: %v", err)
	}

	entries, err := fs.ListDir(context.Background(), "/extracts")
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("parent listing not empty: %+v", entries)
	}
}

func TestGetSysPath(t *testing.T) {
	fs := New()
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"extracts/x", "/extracts/x"},
		{"/a/../b", "/b"},
		{"/a//b/", "/a/b"},
	}
	for _, tt := range tests {
		if got := fs.GetSysPath(tt.in); got != tt.want {
			t.Errorf("GetSysPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	fs := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fs.Stat(ctx, "/"); err == nil {
		t.Error("Stat with cancelled context should fail")
	}
	if err := fs.Mkdir(ctx, "/d", 0o755); err == nil {
		t.Error("Mkdir with cancelled context should fail")
	}
}
