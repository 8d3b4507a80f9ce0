// Package vfs implements the process-wide in-memory filesystem that stages
// device uploads and archive extractions.
//
// The filesystem is POSIX-like: directories, regular files and symlinks with
// permission bits, ownership and timestamps. Exactly one entry exists per
// canonical absolute path; a parent directory must exist before an entry can
// be created beneath it.
//
// Every operation, reads included, serialises on a single filesystem-wide
// mutex because the backing buffers support no finer granularity. Throughput
// is bounded by the network, not by this lock.
package vfs

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"
)

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindSymlink
)

// node is the stored form of one filesystem entry. File data is shared
// between all open handles of the same path.
type node struct {
	kind   nodeKind
	perm   uint32
	uid    uint32
	gid    uint32
	atime  time.Time
	mtime  time.Time
	data   []byte
	target string
}

// FS is an in-memory filesystem rooted at "/".
//
// The zero value is not usable; construct with New.
type FS struct {
	mu sync.Mutex

	// entries maps canonical absolute path to node. The root "/" always
	// exists and cannot be removed or renamed.
	entries map[string]*node

	// children maps a directory path to the set of child names within it.
	children map[string]map[string]struct{}

	openHandles int
}

// Stats is a point-in-time snapshot of filesystem occupancy.
type Stats struct {
	Entries     int `json:"entries"`
	OpenHandles int `json:"open_handles"`
}

// New creates an empty filesystem containing only the root directory.
func New() *FS {
	now := time.Now()
	fs := &FS{
		entries:  make(map[string]*node),
		children: make(map[string]map[string]struct{}),
	}
	fs.entries["/"] = &node{kind: kindDir, perm: 0o755, atime: now, mtime: now}
	fs.children["/"] = make(map[string]struct{})
	return fs
}

// Stats returns the current entry and open-handle counts.
func (fs *FS) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return Stats{Entries: len(fs.entries), OpenHandles: fs.openHandles}
}

// GetSysPath returns the canonical form of p. The filesystem has no host
// counterpart, so the canonical in-memory path is the system path.
func (fs *FS) GetSysPath(p string) string {
	return canonicalPath(p)
}

// ============================================================================
// Path helpers
// ============================================================================

// canonicalPath normalises p to a cleaned absolute path.
func canonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// splitPath returns the parent directory and base name of a canonical path.
func splitPath(p string) (parent, name string) {
	return path.Dir(p), path.Base(p)
}

// ============================================================================
// Locked lookup helpers
// ============================================================================

func (fs *FS) getLocked(p string) (*node, bool) {
	n, ok := fs.entries[p]
	return n, ok
}

// requireDirLocked returns the node at p, failing when it is absent or not a
// directory.
func (fs *FS) requireDirLocked(p string) (*node, error) {
	n, ok := fs.entries[p]
	if !ok {
		return nil, NewNoSuchFileError(p)
	}
	if n.kind != kindDir {
		return nil, NewNotDirectoryError(p)
	}
	return n, nil
}

func (fs *FS) addChildLocked(parent, name string) {
	set, ok := fs.children[parent]
	if !ok {
		set = make(map[string]struct{})
		fs.children[parent] = set
	}
	set[name] = struct{}{}
}

func (fs *FS) removeChildLocked(parent, name string) {
	if set, ok := fs.children[parent]; ok {
		delete(set, name)
	}
}

// attrLocked builds the external attribute view of a node.
func attrLocked(n *node) Attr {
	a := Attr{
		Mode:  n.perm & ModePermMask,
		UID:   n.uid,
		GID:   n.gid,
		Atime: n.atime,
		Mtime: n.mtime,
	}
	switch n.kind {
	case kindDir:
		a.Mode |= ModeDir
	case kindFile:
		a.Mode |= ModeRegular
		a.Size = uint64(len(n.data))
	case kindSymlink:
		a.Mode |= ModeSymlink
		a.Size = uint64(len(n.target))
	}
	return a
}

// ============================================================================
// Attribute operations
// ============================================================================

// Stat returns the attributes of the entry at p.
//
// Symlinks are first-class entries storing a target string, so Stat does not
// follow them and Lstat is an alias.
func (fs *FS) Stat(ctx context.Context, p string) (Attr, error) {
	if err := ctx.Err(); err != nil {
		return Attr{}, err
	}
	p = canonicalPath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.getLocked(p)
	if !ok {
		return Attr{}, NewNoSuchFileError(p)
	}
	return attrLocked(n), nil
}

// Lstat is identical to Stat; symlinks carry their own attributes.
func (fs *FS) Lstat(ctx context.Context, p string) (Attr, error) {
	return fs.Stat(ctx, p)
}

// SetAttr applies a partial attribute update to the entry at p. A Size change
// is only valid on regular files and truncates or zero-extends the data.
func (fs *FS) SetAttr(ctx context.Context, p string, changes AttrChanges) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = canonicalPath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.getLocked(p)
	if !ok {
		return NewNoSuchFileError(p)
	}

	if changes.Size != nil {
		if n.kind != kindFile {
			return NewInvalidArgumentError("size change on non-regular file")
		}
		size := int(*changes.Size)
		switch {
		case size < len(n.data):
			n.data = n.data[:size]
		case size > len(n.data):
			n.data = append(n.data, make([]byte, size-len(n.data))...)
		}
		n.mtime = time.Now()
	}
	if changes.Mode != nil {
		n.perm = *changes.Mode & ModePermMask
	}
	if changes.UID != nil {
		n.uid = *changes.UID
	}
	if changes.GID != nil {
		n.gid = *changes.GID
	}
	if changes.Atime != nil {
		n.atime = *changes.Atime
	}
	if changes.Mtime != nil {
		n.mtime = *changes.Mtime
	}
	return nil
}

// ============================================================================
// Symlinks
// ============================================================================

// Symlink creates a symbolic link at linkpath pointing at target. The target
// is stored verbatim and never resolved by the filesystem itself.
func (fs *FS) Symlink(ctx context.Context, target, linkpath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	linkpath = canonicalPath(linkpath)
	if linkpath == "/" {
		return NewInvalidArgumentError("cannot create symlink at root")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.getLocked(linkpath); exists {
		return NewAlreadyExistsError(linkpath)
	}
	parent, name := splitPath(linkpath)
	if _, err := fs.requireDirLocked(parent); err != nil {
		return err
	}

	now := time.Now()
	fs.entries[linkpath] = &node{
		kind:   kindSymlink,
		perm:   0o777,
		atime:  now,
		mtime:  now,
		target: target,
	}
	fs.addChildLocked(parent, name)
	return nil
}

// Readlink returns the target stored in the symlink at p.
func (fs *FS) Readlink(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p = canonicalPath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.getLocked(p)
	if !ok {
		return "", NewNoSuchFileError(p)
	}
	if n.kind != kindSymlink {
		return "", &FSError{Code: ErrNotSymlink, Message: "not a symlink", Path: p}
	}
	return n.target, nil
}

// ============================================================================
// Remove and rename
// ============================================================================

// Remove deletes the regular file or symlink at p. Directories must be
// removed with Rmdir or RemoveTree.
func (fs *FS) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = canonicalPath(p)
	if p == "/" {
		return NewInvalidArgumentError("cannot remove root")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.getLocked(p)
	if !ok {
		return NewNoSuchFileError(p)
	}
	if n.kind == kindDir {
		return NewIsDirectoryError(p)
	}

	parent, name := splitPath(p)
	delete(fs.entries, p)
	fs.removeChildLocked(parent, name)
	return nil
}

// Rename moves the entry at oldPath to newPath. The source must exist; the
// destination must not exist, except that an empty directory may be replaced
// by a directory. Renaming moves an entire subtree.
func (fs *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldPath = canonicalPath(oldPath)
	newPath = canonicalPath(newPath)
	if oldPath == "/" || newPath == "/" {
		return NewInvalidArgumentError("cannot rename root")
	}
	if oldPath == newPath {
		return nil
	}
	if strings.HasPrefix(newPath, oldPath+"/") {
		return NewInvalidArgumentError("cannot move a directory into itself")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	src, ok := fs.getLocked(oldPath)
	if !ok {
		return NewNoSuchFileError(oldPath)
	}

	newParent, newName := splitPath(newPath)
	if _, err := fs.requireDirLocked(newParent); err != nil {
		return err
	}

	if dst, exists := fs.getLocked(newPath); exists {
		// Only an empty directory may be replaced, and only by a directory.
		if dst.kind != kindDir || src.kind != kindDir {
			return NewAlreadyExistsError(newPath)
		}
		if len(fs.children[newPath]) > 0 {
			return NewNotEmptyError(newPath)
		}
		delete(fs.entries, newPath)
		delete(fs.children, newPath)
		fs.removeChildLocked(newParent, newName)
	}

	oldParent, oldName := splitPath(oldPath)

	// Move the entry itself.
	delete(fs.entries, oldPath)
	fs.entries[newPath] = src
	fs.removeChildLocked(oldParent, oldName)
	fs.addChildLocked(newParent, newName)

	// Move the subtree beneath a directory by rewriting path keys.
	if src.kind == kindDir {
		prefix := oldPath + "/"
		var moved []string
		for p := range fs.entries {
			if strings.HasPrefix(p, prefix) {
				moved = append(moved, p)
			}
		}
		for _, p := range moved {
			rebased := newPath + "/" + strings.TrimPrefix(p, prefix)
			fs.entries[rebased] = fs.entries[p]
			delete(fs.entries, p)
			if set, ok := fs.children[p]; ok {
				fs.children[rebased] = set
				delete(fs.children, p)
			}
		}
		if set, ok := fs.children[oldPath]; ok {
			fs.children[newPath] = set
			delete(fs.children, oldPath)
		}
	}
	return nil
}
