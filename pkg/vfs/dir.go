package vfs

import (
	"context"
	"slices"
	"strings"
	"time"
)

// ============================================================================
// Directory operations
// ============================================================================

// Mkdir creates a directory at p. The parent must already exist; use
// MkdirAll to create intermediate directories.
func (fs *FS) Mkdir(ctx context.Context, p string, perm uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = canonicalPath(p)
	if p == "/" {
		return NewAlreadyExistsError(p)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mkdirLocked(p, perm)
}

func (fs *FS) mkdirLocked(p string, perm uint32) error {
	if _, exists := fs.getLocked(p); exists {
		return NewAlreadyExistsError(p)
	}
	parent, name := splitPath(p)
	parentNode, err := fs.requireDirLocked(parent)
	if err != nil {
		return err
	}

	now := time.Now()
	fs.entries[p] = &node{kind: kindDir, perm: perm & ModePermMask, atime: now, mtime: now}
	fs.children[p] = make(map[string]struct{})
	fs.addChildLocked(parent, name)
	parentNode.mtime = now
	return nil
}

// MkdirAll creates the directory at p along with any missing parents.
// Existing directories along the way are accepted; an existing non-directory
// fails the call.
func (fs *FS) MkdirAll(ctx context.Context, p string, perm uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = canonicalPath(p)
	if p == "/" {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	current := ""
	for _, seg := range segments {
		current += "/" + seg
		if n, exists := fs.getLocked(current); exists {
			if n.kind != kindDir {
				return NewNotDirectoryError(current)
			}
			continue
		}
		if err := fs.mkdirLocked(current, perm); err != nil {
			return err
		}
	}
	return nil
}

// Rmdir removes the empty directory at p.
func (fs *FS) Rmdir(ctx context.Context, p string) error {
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
	if n.kind != kindDir {
		return NewNotDirectoryError(p)
	}
	if len(fs.children[p]) > 0 {
		return NewNotEmptyError(p)
	}

	parent, name := splitPath(p)
	delete(fs.entries, p)
	delete(fs.children, p)
	fs.removeChildLocked(parent, name)
	return nil
}

// ListDir returns the entries of the directory at p sorted by name.
func (fs *FS) ListDir(ctx context.Context, p string) ([]DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = canonicalPath(p)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.requireDirLocked(p); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(fs.children[p]))
	for name := range fs.children[p] {
		names = append(names, name)
	}
	slices.Sort(names)

	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		childPath := p + "/" + name
		if p == "/" {
			childPath = "/" + name
		}
		child, ok := fs.getLocked(childPath)
		if !ok {
			continue
		}
		entries = append(entries, DirEntry{Name: name, Attr: attrLocked(child)})
	}
	return entries, nil
}

// RemoveTree removes the entry at p and, for directories, everything beneath
// it. Removing "/" empties the filesystem but keeps the root itself.
func (fs *FS) RemoveTree(ctx context.Context, p string) error {
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

	if n.kind != kindDir {
		parent, name := splitPath(p)
		delete(fs.entries, p)
		fs.removeChildLocked(parent, name)
		return nil
	}

	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	for childPath := range fs.entries {
		if strings.HasPrefix(childPath, prefix) && childPath != p {
			delete(fs.entries, childPath)
			delete(fs.children, childPath)
		}
	}

	if p == "/" {
		fs.children["/"] = make(map[string]struct{})
		return nil
	}

	parent, name := splitPath(p)
	delete(fs.entries, p)
	delete(fs.children, p)
	fs.removeChildLocked(parent, name)
	return nil
}
