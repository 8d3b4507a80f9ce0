// Package extract unpacks uploaded event archives into per-event scratch
// directories on the virtual filesystem.
//
// Every completed upload arrives as a FileReceived signal. The extractor
// recovers the event ID from the archive name, streams the gzip tar into
// a fresh directory under /extracts and announces the result with
// ExtractionCompleted. A failed extraction removes its scratch directory
// and drops the upload; the archive itself is only removed on success.
package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/internal/telemetry"
	"github.com/iwplog/iwplogd/internal/work"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/metrics"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

const (
	// scratchRoot holds one directory per extraction.
	scratchRoot = "/extracts"

	// scratchTimeLayout names scratch directories by wall-clock second.
	scratchTimeLayout = "20060102150405"

	scratchDirPerm = 0o755
)

// Extraction outcome labels, matching the pipeline metrics.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Extractor unpacks one archive per FileReceived signal.
type Extractor struct {
	bus     *bus.Bus
	pool    *work.Pool
	metrics metrics.PipelineMetrics
}

// New creates an extractor. pool may be nil to unpack inline on the
// publisher's goroutine, as tests do. pm may be nil when metrics are
// disabled.
func New(b *bus.Bus, pool *work.Pool, pm metrics.PipelineMetrics) *Extractor {
	return &Extractor{bus: b, pool: pool, metrics: pm}
}

// HandleFileReceived is the bus handler for completed uploads. Unpacking
// is handed to the pool so the SFTP close path is never blocked on it.
func (e *Extractor) HandleFileReceived(ctx context.Context, payload bus.FileReceived) {
	if e.pool == nil {
		e.extract(ctx, payload)
		return
	}
	e.pool.Submit("extract", func(ctx context.Context) {
		e.extract(ctx, payload)
	})
}

// extract runs one extraction end to end.
func (e *Extractor) extract(ctx context.Context, payload bus.FileReceived) {
	fs := payload.FS
	archive := path.Base(payload.Path)
	eventID := events.IDFromArchiveName(archive)

	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanExtractArchive, eventID,
		telemetry.Archive(archive))
	defer span.End()

	start := time.Now()

	if e.metrics != nil {
		if attr, err := fs.Stat(ctx, payload.Path); err == nil {
			e.metrics.RecordUploadReceived(attr.Size)
		}
	}

	scratch, err := e.newScratchDir(ctx, fs)
	if err != nil {
		e.fail(ctx, archive, eventID, start, err)
		return
	}
	telemetry.SetAttributes(ctx, telemetry.ExtractDir(scratch))

	items, err := unpack(ctx, fs, payload.Path, scratch)
	if err != nil {
		if rmErr := fs.RemoveTree(ctx, scratch); rmErr != nil {
			logger.Warn("scratch cleanup failed",
				logger.Directory(scratch),
				logger.Err(rmErr))
		}
		e.fail(ctx, archive, eventID, start, err)
		return
	}

	// The upload has served its purpose; only the extracted tree stays.
	if err := fs.Remove(ctx, payload.Path); err != nil {
		logger.Warn("archive cleanup failed",
			logger.Archive(archive),
			logger.Err(err))
	}

	if e.metrics != nil {
		e.metrics.RecordExtraction(outcomeOK, len(items), time.Since(start))
	}
	telemetry.SetAttributes(ctx, telemetry.Members(len(items)))

	logger.Info("archive extracted",
		logger.Archive(archive),
		logger.Directory(scratch),
		logger.Members(len(items)),
		logger.EventID(eventID),
		logger.DurationMs(logger.Duration(start)))

	e.bus.ExtractionCompleted.Publish(ctx, bus.ExtractionCompleted{
		Directory:      scratch,
		ExtractedItems: items,
		EventID:        eventID,
	})
}

// fail drops one upload with a log line. No signal is published, so the
// event simply never progresses past this stage.
func (e *Extractor) fail(ctx context.Context, archive, eventID string, start time.Time, err error) {
	telemetry.RecordError(ctx, err)
	if e.metrics != nil {
		e.metrics.RecordExtraction(outcomeError, 0, time.Since(start))
	}
	logger.Error("extraction failed, dropping upload",
		logger.Archive(archive),
		logger.EventID(eventID),
		logger.Err(err))
}

// newScratchDir creates /extracts/extract_<UTC-timestamp>. Two
// extractions in the same second get suffixed names so their trees stay
// disjoint.
func (e *Extractor) newScratchDir(ctx context.Context, fs *vfs.FS) (string, error) {
	if err := fs.MkdirAll(ctx, scratchRoot, scratchDirPerm); err != nil {
		return "", fmt.Errorf("create %s: %w", scratchRoot, err)
	}

	base := path.Join(scratchRoot, "extract_"+time.Now().UTC().Format(scratchTimeLayout))
	name := base
	for i := 2; ; i++ {
		err := fs.Mkdir(ctx, name, scratchDirPerm)
		if err == nil {
			return name, nil
		}
		if code, ok := vfs.CodeOf(err); !ok || code != vfs.ErrAlreadyExists {
			return "", fmt.Errorf("create scratch directory: %w", err)
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

// unpack streams the gzip tar into dir. Directory members are created
// with mkdir -p semantics, regular files keep their relative paths, and
// every other member type is skipped. Returns the extracted file paths
// in archive order.
func unpack(ctx context.Context, fs *vfs.FS, archivePath, dir string) ([]string, error) {
	data, err := fs.ReadFile(ctx, archivePath)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var items []string
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar member: %w", err)
		}

		target, err := memberPath(dir, header.Name)
		if err != nil {
			return nil, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(ctx, target, scratchDirPerm); err != nil {
				return nil, fmt.Errorf("create member directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read member %s: %w", header.Name, err)
			}
			// Archives are not required to carry directory members, so
			// parents are created on demand.
			if err := fs.MkdirAll(ctx, path.Dir(target), scratchDirPerm); err != nil {
				return nil, fmt.Errorf("create parent of %s: %w", header.Name, err)
			}
			if err := fs.WriteFile(ctx, target, content); err != nil {
				return nil, fmt.Errorf("write member %s: %w", header.Name, err)
			}
			items = append(items, target)
		default:
			logger.Debug("skipping archive member",
				logger.Filename(header.Name),
				"type", int(header.Typeflag))
		}
	}
}

// memberPath resolves a member name under dir and rejects names that
// escape it.
func memberPath(dir, name string) (string, error) {
	target := path.Join(dir, name)
	if target != dir && !strings.HasPrefix(target, dir+"/") {
		return "", fmt.Errorf("archive member escapes extraction directory: %s", name)
	}
	return target, nil
}
