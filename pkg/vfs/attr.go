package vfs

import "time"

// File-type bits OR-ed onto permission bits in Attr.Mode, mirroring the
// POSIX S_IFMT encoding so SFTP clients can decode entry types directly.
const (
	// ModeTypeMask selects the file-type bits of a mode value.
	ModeTypeMask uint32 = 0o170000

	// ModeDir marks a directory.
	ModeDir uint32 = 0o040000

	// ModeRegular marks a regular file.
	ModeRegular uint32 = 0o100000

	// ModeSymlink marks a symbolic link.
	ModeSymlink uint32 = 0o120000

	// ModePermMask selects the permission bits of a mode value.
	ModePermMask uint32 = 0o7777
)

// Attr holds the attributes of a filesystem entry as returned by Stat.
//
// Mode carries the file-type bits OR-ed onto the permission bits.
type Attr struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Mode&ModeTypeMask == ModeDir
}

// IsRegular reports whether the attributes describe a regular file.
func (a Attr) IsRegular() bool {
	return a.Mode&ModeTypeMask == ModeRegular
}

// IsSymlink reports whether the attributes describe a symbolic link.
func (a Attr) IsSymlink() bool {
	return a.Mode&ModeTypeMask == ModeSymlink
}

// Perm returns the permission bits of the mode.
func (a Attr) Perm() uint32 {
	return a.Mode & ModePermMask
}

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	Name string
	Attr Attr
}

// OpenFlag is the set of access and disposition flags accepted by Open.
// They map one-to-one onto the SFTP v3 pflags plus POSIX open semantics.
type OpenFlag int

const (
	// FlagRead requests read access.
	FlagRead OpenFlag = 1 << iota

	// FlagWrite requests write access.
	FlagWrite

	// FlagAppend forces every write to the current end of file.
	FlagAppend

	// FlagCreate creates the file when it does not exist.
	FlagCreate

	// FlagExcl fails the open when combined with FlagCreate and the file
	// already exists.
	FlagExcl

	// FlagTrunc truncates the file to zero length on open.
	FlagTrunc
)

// Readable reports whether the flags include read access.
func (f OpenFlag) Readable() bool { return f&FlagRead != 0 }

// Writable reports whether the flags include write or append access.
func (f OpenFlag) Writable() bool { return f&(FlagWrite|FlagAppend) != 0 }

// AttrChanges describes a partial attribute update for SetAttr. Nil fields
// are left unchanged. Size truncates or zero-extends the file data.
type AttrChanges struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime *time.Time
	Mtime *time.Time
}

// LastOp records the most recent data operation performed through a handle.
// It drives the close-after-write latch: only a handle whose final data
// operation was a write counts as a completed upload when closed.
type LastOp int

const (
	// LastOpNone means no read or write has happened on the handle yet.
	LastOpNone LastOp = iota

	// LastOpRead means the most recent data operation was a read.
	LastOpRead

	// LastOpWrite means the most recent data operation was a write.
	LastOpWrite
)

func (op LastOp) String() string {
	switch op {
	case LastOpRead:
		return "read"
	case LastOpWrite:
		return "write"
	default:
		return "none"
	}
}
