package vfs

import (
	"context"
	"io"
	"time"
)

// Handle is an open file. Each handle has its own cursor and its own last-op
// state; the underlying byte buffer is shared with every other handle open on
// the same path.
type Handle struct {
	fs    *FS
	path  string
	node  *node
	flags OpenFlag

	pos    int64
	lastOp LastOp
	closed bool
}

// Interface assertions: the SFTP layer hands handles to the request server,
// which drives them through these standard interfaces.
var (
	_ io.Reader   = (*Handle)(nil)
	_ io.Writer   = (*Handle)(nil)
	_ io.Seeker   = (*Handle)(nil)
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)

// Open opens the regular file at p according to flags.
//
// Flags must include read or write access. With FlagCreate and write access
// a missing file is created (its parent must exist); without FlagCreate a
// missing file fails with ErrNoSuchFile. FlagTrunc empties the file on open,
// FlagExcl fails when the file already exists, and FlagAppend forces every
// write to the current end of the data.
func (fs *FS) Open(ctx context.Context, p string, flags OpenFlag) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !flags.Readable() && !flags.Writable() {
		return nil, NewInvalidArgumentError("open requires read or write access")
	}
	p = canonicalPath(p)
	if p == "/" {
		return nil, NewIsDirectoryError(p)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, exists := fs.getLocked(p)
	if exists {
		switch n.kind {
		case kindDir:
			return nil, NewIsDirectoryError(p)
		case kindSymlink:
			return nil, &FSError{Code: ErrNotFile, Message: "not a regular file", Path: p}
		}
		if flags&FlagCreate != 0 && flags&FlagExcl != 0 {
			return nil, NewAlreadyExistsError(p)
		}
		if flags&FlagTrunc != 0 && flags.Writable() {
			n.data = nil
			n.mtime = time.Now()
		}
	} else {
		if flags&FlagCreate == 0 || !flags.Writable() {
			return nil, NewNoSuchFileError(p)
		}
		parent, name := splitPath(p)
		parentNode, err := fs.requireDirLocked(parent)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		n = &node{kind: kindFile, perm: 0o644, atime: now, mtime: now}
		fs.entries[p] = n
		fs.addChildLocked(parent, name)
		parentNode.mtime = now
	}

	fs.openHandles++
	return &Handle{fs: fs, path: p, node: n, flags: flags}, nil
}

// Path returns the canonical path the handle was opened on.
func (h *Handle) Path() string {
	return h.path
}

// LastOp returns the most recent data operation performed on the handle.
func (h *Handle) LastOp() LastOp {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return h.lastOp
}

// Close releases the handle. Further operations fail with ErrInvalidHandle.
// Closing an already-closed handle is an error.
func (h *Handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return NewInvalidHandleError(h.path)
	}
	h.closed = true
	h.fs.openHandles--
	return nil
}

// ReadAt reads len(p) bytes starting at offset off, recording a read as the
// handle's last operation. It honours the io.ReaderAt contract and returns
// io.EOF on short reads.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return h.readAtLocked(p, off)
}

func (h *Handle) readAtLocked(p []byte, off int64) (int, error) {
	if h.closed {
		return 0, NewInvalidHandleError(h.path)
	}
	if !h.flags.Readable() {
		return 0, &FSError{Code: ErrPermissionDenied, Message: "handle not open for reading", Path: h.path}
	}
	if off < 0 {
		return 0, NewInvalidArgumentError("negative read offset")
	}

	h.lastOp = LastOpRead
	h.node.atime = time.Now()

	if off >= int64(len(h.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.node.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at offset off, zero-extending the file when the offset
// lies past the current end. On append handles the offset is ignored and the
// bytes go to the end of the data. A write is recorded as the handle's last
// operation.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return h.writeAtLocked(p, off)
}

func (h *Handle) writeAtLocked(p []byte, off int64) (int, error) {
	if h.closed {
		return 0, NewInvalidHandleError(h.path)
	}
	if !h.flags.Writable() {
		return 0, &FSError{Code: ErrPermissionDenied, Message: "handle not open for writing", Path: h.path}
	}
	if off < 0 {
		return 0, NewInvalidArgumentError("negative write offset")
	}

	if h.flags&FlagAppend != 0 {
		off = int64(len(h.node.data))
	}
	if end := off + int64(len(p)); end > int64(len(h.node.data)) {
		grown := make([]byte, end)
		copy(grown, h.node.data)
		h.node.data = grown
	}
	copy(h.node.data[off:], p)

	h.lastOp = LastOpWrite
	h.node.mtime = time.Now()
	return len(p), nil
}

// Read reads from the handle's cursor.
func (h *Handle) Read(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.readAtLocked(p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Write writes at the handle's cursor, or at the end of the data on append
// handles.
func (h *Handle) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.flags&FlagAppend != 0 {
		n, err := h.writeAtLocked(p, 0)
		h.pos = int64(len(h.node.data))
		return n, err
	}
	n, err := h.writeAtLocked(p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Seek repositions the handle's cursor.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.closed {
		return 0, NewInvalidHandleError(h.path)
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = h.pos
	case io.SeekEnd:
		base = int64(len(h.node.data))
	default:
		return 0, NewInvalidArgumentError("invalid seek whence")
	}
	pos := base + offset
	if pos < 0 {
		return 0, NewInvalidArgumentError("negative seek position")
	}
	h.pos = pos
	return pos, nil
}
