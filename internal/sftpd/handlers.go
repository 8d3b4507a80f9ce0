package sftpd

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"go.opentelemetry.io/otel/trace"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/internal/telemetry"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/metrics"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

// uploadDirPerm is the mode of directories created by clients. The SFTP
// Mkdir packet carries no usable attributes.
const uploadDirPerm = 0o755

// sessionInfo identifies one authenticated inbound session in logs and
// spans.
type sessionInfo struct {
	ID     string
	User   string
	Remote string
}

// sessionHandlers serves the SFTP request set of one session against the
// shared VirtualFS. One instance exists per subsystem channel.
type sessionHandlers struct {
	// ctx is the session context. Bus publishes use it rather than the
	// per-request context, which is cancelled when the request closes.
	ctx     context.Context
	fs      *vfs.FS
	bus     *bus.Bus
	metrics metrics.SFTPMetrics
	sess    *sessionInfo
}

// The request server drives the session through these roles.
var (
	_ sftp.FileReader     = (*sessionHandlers)(nil)
	_ sftp.FileWriter     = (*sessionHandlers)(nil)
	_ sftp.FileCmder      = (*sessionHandlers)(nil)
	_ sftp.FileLister     = (*sessionHandlers)(nil)
	_ sftp.OpenFileWriter = (*sessionHandlers)(nil)
)

func newSessionHandlers(ctx context.Context, fs *vfs.FS, b *bus.Bus, sm metrics.SFTPMetrics, sess *sessionInfo) *sessionHandlers {
	return &sessionHandlers{ctx: ctx, fs: fs, bus: b, metrics: sm, sess: sess}
}

// handlers binds the session to the four request-server roles.
func (h *sessionHandlers) handlers() sftp.Handlers {
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

// observe finishes one request: it records the request metric, logs the
// outcome and returns the wire-mapped status error.
func (h *sessionHandlers) observe(op, p string, start time.Time, err error) error {
	status := mapStatus(err)
	if h.metrics != nil {
		h.metrics.RecordRequest(op, time.Since(start), statusLabel(status))
	}

	if err != nil {
		logger.Debug("sftp request failed",
			logger.SFTPOp(op),
			logger.Path(p),
			logger.SessionID(h.sess.ID),
			logger.Status(statusLabel(status)),
			logger.Err(err))
		return status
	}

	logger.Debug("sftp request",
		logger.SFTPOp(op),
		logger.Path(p),
		logger.SessionID(h.sess.ID))
	return nil
}

// Fileread opens the requested file for a download.
func (h *sessionHandlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	start := time.Now()
	ctx, span := telemetry.StartSFTPSpan(r.Context(), r.Method, r.Filepath,
		telemetry.SessionID(h.sess.ID))
	defer span.End()

	handle, err := h.fs.Open(ctx, r.Filepath, vfs.FlagRead)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, h.observe(r.Method, r.Filepath, start, err)
	}

	_ = h.observe(r.Method, r.Filepath, start, nil)
	return handle, nil
}

// Filewrite opens the requested file for an upload and arms the
// close-after-write latch on the returned handle.
func (h *sessionHandlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	f, err := h.openUpload(r)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile handles read-write opens so a device can verify its upload on
// the same handle. The latch behaves exactly as for Filewrite: a handle
// whose final data operation was a read does not count as an upload.
func (h *sessionHandlers) OpenFile(r *sftp.Request) (sftp.WriterAtReaderAt, error) {
	f, err := h.openUpload(r)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (h *sessionHandlers) openUpload(r *sftp.Request) (*uploadFile, error) {
	start := time.Now()

	// The span covers the whole upload; it ends when the handle closes.
	ctx, span := telemetry.StartSFTPSpan(r.Context(), "upload", r.Filepath,
		telemetry.SessionID(h.sess.ID),
		telemetry.Username(h.sess.User))

	handle, err := h.fs.Open(ctx, r.Filepath, toOpenFlags(r.Pflags()))
	if err != nil {
		telemetry.RecordError(ctx, err)
		span.End()
		return nil, h.observe(r.Method, r.Filepath, start, err)
	}

	_ = h.observe(r.Method, r.Filepath, start, nil)
	return &uploadFile{h: h, handle: handle, ctx: ctx, span: span}, nil
}

// Filecmd applies a metadata or namespace change.
func (h *sessionHandlers) Filecmd(r *sftp.Request) error {
	start := time.Now()
	ctx, span := telemetry.StartSFTPSpan(r.Context(), r.Method, r.Filepath,
		telemetry.SessionID(h.sess.ID))
	defer span.End()

	var err error
	switch r.Method {
	case "Mkdir":
		err = h.fs.Mkdir(ctx, r.Filepath, uploadDirPerm)
	case "Rmdir":
		err = h.fs.Rmdir(ctx, r.Filepath)
	case "Remove":
		err = h.fs.Remove(ctx, r.Filepath)
	case "Rename", "PosixRename":
		logger.Debug("sftp rename",
			logger.OldPath(r.Filepath),
			logger.NewPath(r.Target),
			logger.SessionID(h.sess.ID))
		err = h.fs.Rename(ctx, r.Filepath, r.Target)
	case "Setstat":
		err = h.fs.SetAttr(ctx, r.Filepath, attrChanges(r))
	case "Symlink":
		// Filepath is the link target, Target the link location.
		err = h.fs.Symlink(ctx, r.Filepath, r.Target)
	default:
		err = sftp.ErrSSHFxOpUnsupported
	}

	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return h.observe(r.Method, r.Filepath, start, err)
}

// Filelist answers directory listings, stats and readlinks.
func (h *sessionHandlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	start := time.Now()
	ctx, span := telemetry.StartSFTPSpan(r.Context(), r.Method, r.Filepath,
		telemetry.SessionID(h.sess.ID))
	defer span.End()

	switch r.Method {
	case "List":
		entries, err := h.fs.ListDir(ctx, r.Filepath)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, h.observe(r.Method, r.Filepath, start, err)
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, entry := range entries {
			infos = append(infos, fileInfo{name: entry.Name, attr: entry.Attr})
		}
		_ = h.observe(r.Method, r.Filepath, start, nil)
		return listerat(infos), nil

	case "Stat", "Lstat":
		attr, err := h.fs.Stat(ctx, r.Filepath)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, h.observe(r.Method, r.Filepath, start, err)
		}
		_ = h.observe(r.Method, r.Filepath, start, nil)
		return listerat{fileInfo{name: path.Base(r.Filepath), attr: attr}}, nil

	case "Readlink":
		target, err := h.fs.Readlink(ctx, r.Filepath)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, h.observe(r.Method, r.Filepath, start, err)
		}
		_ = h.observe(r.Method, r.Filepath, start, nil)
		// The single entry's name carries the link target.
		return listerat{fileInfo{name: target, attr: vfs.Attr{Mode: vfs.ModeSymlink | 0o777}}}, nil

	default:
		return nil, h.observe(r.Method, r.Filepath, start, sftp.ErrSSHFxOpUnsupported)
	}
}

// toOpenFlags converts the request pflags to filesystem open flags.
func toOpenFlags(pf sftp.FileOpenFlags) vfs.OpenFlag {
	var flags vfs.OpenFlag
	if pf.Read {
		flags |= vfs.FlagRead
	}
	if pf.Write {
		flags |= vfs.FlagWrite
	}
	if pf.Append {
		flags |= vfs.FlagAppend
	}
	if pf.Creat {
		flags |= vfs.FlagCreate
	}
	if pf.Excl {
		flags |= vfs.FlagExcl
	}
	if pf.Trunc {
		flags |= vfs.FlagTrunc
	}
	return flags
}

// attrChanges converts a Setstat request to a partial attribute update.
func attrChanges(r *sftp.Request) vfs.AttrChanges {
	attrs := r.Attributes()
	flags := r.AttrFlags()

	var changes vfs.AttrChanges
	if flags.Size {
		size := attrs.Size
		changes.Size = &size
	}
	if flags.Permissions {
		mode := attrs.Mode & vfs.ModePermMask
		changes.Mode = &mode
	}
	if flags.UidGid {
		uid, gid := attrs.UID, attrs.GID
		changes.UID = &uid
		changes.GID = &gid
	}
	if flags.Acmodtime {
		atime := time.Unix(int64(attrs.Atime), 0)
		mtime := time.Unix(int64(attrs.Mtime), 0)
		changes.Atime = &atime
		changes.Mtime = &mtime
	}
	return changes
}

// uploadFile wraps a write handle to count uploaded bytes and fire the
// close-after-write latch. The request server closes it when the client
// closes the handle, or during cleanup when the connection drops.
type uploadFile struct {
	h      *sessionHandlers
	handle *vfs.Handle
	ctx    context.Context
	span   trace.Span
	bytes  atomic.Uint64
}

func (f *uploadFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.handle.WriteAt(p, off)
	if n > 0 {
		f.bytes.Add(uint64(n))
		if f.h.metrics != nil {
			f.h.metrics.RecordBytesWritten(uint64(n))
		}
	}
	if err != nil {
		return n, mapStatus(err)
	}
	return n, nil
}

func (f *uploadFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.handle.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, mapStatus(err)
	}
	return n, err
}

// Close releases the handle. When the handle's final data operation was a
// write, the upload is complete and FileReceived is published.
func (f *uploadFile) Close() error {
	lastOp := f.handle.LastOp()
	size := f.bytes.Load()

	if err := f.handle.Close(); err != nil {
		telemetry.RecordError(f.ctx, err)
		f.span.End()
		return mapStatus(err)
	}

	if lastOp != vfs.LastOpWrite {
		f.span.End()
		return nil
	}

	telemetry.SetAttributes(f.ctx, telemetry.Size(size))
	f.span.End()

	logger.Info("file received",
		logger.Path(f.handle.Path()),
		logger.Size(size),
		logger.SessionID(f.h.sess.ID),
		logger.Username(f.h.sess.User))

	f.h.bus.FileReceived.Publish(f.h.ctx, bus.FileReceived{
		Path: f.handle.Path(),
		FS:   f.h.fs,
	})
	return nil
}

// listerat serves a fixed listing snapshot, modeled after the ReadAt of
// strings.Reader.
type listerat []os.FileInfo

func (l listerat) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(ls, l[offset:])
	if n < len(ls) {
		return n, io.EOF
	}
	return n, nil
}

// fileInfo adapts a filesystem attribute record to os.FileInfo.
type fileInfo struct {
	name string
	attr vfs.Attr
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.attr.Size) }
func (fi fileInfo) Mode() os.FileMode  { return fileMode(fi.attr) }
func (fi fileInfo) ModTime() time.Time { return fi.attr.Mtime }
func (fi fileInfo) IsDir() bool        { return fi.attr.IsDir() }
func (fi fileInfo) Sys() any           { return fi.attr }

// Uid and Gid are consulted by the wire layer when marshalling entry
// attributes (sftp.FileInfoUidGid).
func (fi fileInfo) Uid() uint32 { return fi.attr.UID }
func (fi fileInfo) Gid() uint32 { return fi.attr.GID }

// fileMode converts stored POSIX mode bits to an os.FileMode.
func fileMode(attr vfs.Attr) os.FileMode {
	mode := os.FileMode(attr.Perm())
	switch {
	case attr.IsDir():
		mode |= os.ModeDir
	case attr.IsSymlink():
		mode |= os.ModeSymlink
	}
	return mode
}
