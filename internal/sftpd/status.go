package sftpd

import (
	"context"
	"errors"

	"github.com/pkg/sftp"

	"github.com/iwplog/iwplogd/pkg/vfs"
)

// mapStatus translates filesystem domain errors to SFTP status errors.
// Every handler return passes through here so the vfs error codes map to
// wire statuses in exactly one place.
//
// The v3 dialect has no codes for most POSIX conditions. Errors without a
// direct counterpart are returned unchanged; the wire layer sends them as
// SSH_FX_FAILURE with the original message, which is what OpenSSH does
// for EEXIST, EISDIR and ENOTEMPTY too.
func mapStatus(err error) error {
	if err == nil {
		return nil
	}

	code, ok := vfs.CodeOf(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sftp.ErrSSHFxConnectionLost
		}
		return err
	}

	switch code {
	case vfs.ErrNoSuchFile, vfs.ErrNotDirectory:
		// No NO_SUCH_PATH in v3; a missing parent degrades to
		// NO_SUCH_FILE.
		return sftp.ErrSSHFxNoSuchFile
	case vfs.ErrPermissionDenied:
		return sftp.ErrSSHFxPermissionDenied
	default:
		return err
	}
}

// statusLabel names the SFTP status a mapped error is reported as, for
// the request metrics and logs. Empty for success.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sftp.ErrSSHFxNoSuchFile):
		return "SSH_FX_NO_SUCH_FILE"
	case errors.Is(err, sftp.ErrSSHFxPermissionDenied):
		return "SSH_FX_PERMISSION_DENIED"
	case errors.Is(err, sftp.ErrSSHFxOpUnsupported):
		return "SSH_FX_OP_UNSUPPORTED"
	case errors.Is(err, sftp.ErrSSHFxConnectionLost):
		return "SSH_FX_CONNECTION_LOST"
	default:
		return "SSH_FX_FAILURE"
	}
}
