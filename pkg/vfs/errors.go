package vfs

// FSError represents a domain error from filesystem operations.
//
// These are semantic errors (no such file, directory not empty, etc.) as
// opposed to infrastructure errors. The SFTP layer translates FSError codes
// to SFTP status codes in one place.
type FSError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the filesystem path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *FSError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a filesystem error.
type ErrorCode int

const (
	// ErrNoSuchFile indicates the requested path does not exist
	ErrNoSuchFile ErrorCode = iota

	// ErrPermissionDenied indicates the operation is not permitted on the entry
	ErrPermissionDenied

	// ErrNotDirectory indicates a directory operation hit a non-directory
	ErrNotDirectory

	// ErrIsDirectory indicates a file operation hit a directory
	ErrIsDirectory

	// ErrNotFile indicates an open was attempted on a non-regular entry
	ErrNotFile

	// ErrNotEmpty indicates a directory is not empty (cannot be removed)
	ErrNotEmpty

	// ErrAlreadyExists indicates an entry with the name already exists
	ErrAlreadyExists

	// ErrNotSymlink indicates a readlink was attempted on a non-symlink
	ErrNotSymlink

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty path, no access mode on open, negative offset
	ErrInvalidArgument

	// ErrInvalidHandle indicates the handle has already been closed
	ErrInvalidHandle
)

// ============================================================================
// Error Factory Functions
// ============================================================================

// NewNoSuchFileError creates an FSError for a missing path.
func NewNoSuchFileError(path string) *FSError {
	return &FSError{
		Code:    ErrNoSuchFile,
		Message: "no such file or directory",
		Path:    path,
	}
}

// NewNotDirectoryError creates an FSError for when a directory operation is
// attempted on a non-directory.
func NewNotDirectoryError(path string) *FSError {
	return &FSError{
		Code:    ErrNotDirectory,
		Message: "not a directory",
		Path:    path,
	}
}

// NewIsDirectoryError creates an FSError for when a file operation is
// attempted on a directory.
func NewIsDirectoryError(path string) *FSError {
	return &FSError{
		Code:    ErrIsDirectory,
		Message: "is a directory",
		Path:    path,
	}
}

// NewNotEmptyError creates an FSError for when a directory is not empty.
func NewNotEmptyError(path string) *FSError {
	return &FSError{
		Code:    ErrNotEmpty,
		Message: "directory not empty",
		Path:    path,
	}
}

// NewAlreadyExistsError creates an FSError for when an entry already exists.
func NewAlreadyExistsError(path string) *FSError {
	return &FSError{
		Code:    ErrAlreadyExists,
		Message: "already exists",
		Path:    path,
	}
}

// NewInvalidArgumentError creates an FSError for invalid arguments.
func NewInvalidArgumentError(message string) *FSError {
	return &FSError{
		Code:    ErrInvalidArgument,
		Message: message,
	}
}

// NewInvalidHandleError creates an FSError for operations on a closed handle.
func NewInvalidHandleError(path string) *FSError {
	return &FSError{
		Code:    ErrInvalidHandle,
		Message: "handle is closed",
		Path:    path,
	}
}

// CodeOf extracts the ErrorCode from an error, returning ok=false when the
// error is not an *FSError.
func CodeOf(err error) (ErrorCode, bool) {
	fsErr, ok := err.(*FSError)
	if !ok {
		return 0, false
	}
	return fsErr.Code, true
}
