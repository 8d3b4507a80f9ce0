// Package parser slices extracted device logs down to the window around
// a fault.
//
// Every ExtractionCompleted signal names a scratch directory of log files
// and the event they belong to. The parser keeps only the timestamped
// lines that fall within the configured window around the event's fault
// timestamp, attaches them to the event record keyed by source file, and
// announces completion with LogProcessingCompleted. The scratch directory
// is removed once processing is done, whatever the outcome.
package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
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
	// lineTimeLayout matches the bracketed timestamp device firmware
	// writes at the head of each log line, MM/DD/YYYY HH:MM:SS.ffffff.
	lineTimeLayout = "01/02/2006 15:04:05.000000"

	// DefaultWindowSeconds is the window half-width applied when the
	// configuration does not set one.
	DefaultWindowSeconds = 2.0

	maxLineBytes = 1 << 20
)

// Parser filters one extraction per ExtractionCompleted signal.
type Parser struct {
	store   *events.Store
	fs      *vfs.FS
	bus     *bus.Bus
	pool    *work.Pool
	metrics metrics.PipelineMetrics
	window  time.Duration
}

// New creates a parser keeping lines within windowSeconds of the fault
// timestamp, on either side. pool may be nil to run inline on the
// publisher's goroutine, as tests do. pm may be nil when metrics are
// disabled.
func New(store *events.Store, fs *vfs.FS, b *bus.Bus, pool *work.Pool, pm metrics.PipelineMetrics, windowSeconds float64) *Parser {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}
	return &Parser{
		store:   store,
		fs:      fs,
		bus:     b,
		pool:    pool,
		metrics: pm,
		window:  time.Duration(windowSeconds * float64(time.Second)),
	}
}

// HandleExtractionCompleted is the bus handler for finished extractions.
// Parsing is handed to the pool so the extract stage is never blocked on
// it.
func (p *Parser) HandleExtractionCompleted(ctx context.Context, payload bus.ExtractionCompleted) {
	if p.pool == nil {
		p.process(ctx, payload)
		return
	}
	p.pool.Submit("parse", func(ctx context.Context) {
		p.process(ctx, payload)
	})
}

// process runs one parse end to end. LogProcessingCompleted is published
// even when nothing could be attached, so downstream stages always see
// the event settle, and the scratch directory is removed last.
func (p *Parser) process(ctx context.Context, payload bus.ExtractionCompleted) {
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanParseWindow, payload.EventID,
		telemetry.ExtractDir(payload.Directory),
		telemetry.Window(p.window.Seconds()))
	defer span.End()

	start := time.Now()

	record, err := p.store.Get(ctx, payload.EventID)
	if err != nil {
		// An upload whose name matches no known event. There is no fault
		// timestamp to build a window from, so the files are discarded.
		telemetry.RecordError(ctx, err)
		logger.Warn("parse for unknown event, discarding extraction",
			logger.EventID(payload.EventID),
			logger.Directory(payload.Directory),
			logger.Err(err))
		p.finish(ctx, payload, 0, 0, start)
		return
	}

	results := make(map[string][]string)
	files, lines := 0, 0
	for _, item := range payload.ExtractedItems {
		attr, err := p.fs.Stat(ctx, item)
		if err != nil {
			logger.Warn("extracted file vanished before parse",
				logger.Path(item),
				logger.Err(err))
			continue
		}
		if attr.Size == 0 {
			logger.Debug("skipping empty log file", logger.Path(item))
			continue
		}

		kept, err := p.sliceFile(ctx, item, record.Datetime)
		if err != nil {
			logger.Warn("cannot parse extracted file",
				logger.Path(item),
				logger.Err(err))
			continue
		}
		files++
		if len(kept) == 0 {
			continue
		}
		cat := categoryFor(item)
		results[cat] = append(results[cat], kept...)
		lines += len(kept)
	}

	if len(results) > 0 {
		if err := p.store.AttachCategorised(ctx, payload.EventID, results); err != nil {
			telemetry.RecordError(ctx, err)
			logger.Warn("cannot attach window logs",
				logger.EventID(payload.EventID),
				logger.Err(err))
		}
	}

	telemetry.SetAttributes(ctx,
		telemetry.Lines(lines),
		telemetry.Members(files))

	logger.Info("window parse completed",
		logger.EventID(payload.EventID),
		logger.Directory(payload.Directory),
		logger.Categories(len(results)),
		logger.Lines(lines),
		logger.Window(p.window.Seconds()),
		logger.DurationMs(logger.Duration(start)))

	p.finish(ctx, payload, files, lines, start)
}

// finish records the parse, publishes LogProcessingCompleted, and removes
// the scratch directory.
func (p *Parser) finish(ctx context.Context, payload bus.ExtractionCompleted, files, lines int, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordParse(files, lines, time.Since(start))
	}

	p.bus.LogProcessingCompleted.Publish(ctx, bus.LogProcessingCompleted{
		EventID: payload.EventID,
	})

	if err := p.fs.RemoveTree(ctx, payload.Directory); err != nil {
		logger.Warn("scratch cleanup failed",
			logger.Directory(payload.Directory),
			logger.Err(err))
	}
}

// sliceFile returns the timestamped lines of one file that fall within
// the window around base, inclusive on both ends. Lines are expected in
// chronological order, so scanning stops at the first line past the
// window. Lines without a parsable bracketed timestamp are skipped.
func (p *Parser) sliceFile(ctx context.Context, item string, base time.Time) ([]string, error) {
	data, err := p.fs.ReadFile(ctx, item)
	if err != nil {
		return nil, err
	}

	lo := base.Add(-p.window)
	hi := base.Add(p.window)

	var kept []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(nil, maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "[") {
			continue
		}
		ts, err := lineTimestamp(line)
		if err != nil {
			logger.Warn("skipping line with unparsable timestamp",
				logger.Filename(path.Base(item)),
				logger.Err(err))
			continue
		}
		if ts.Before(lo) {
			continue
		}
		if ts.After(hi) {
			break
		}
		kept = append(kept, strings.TrimSpace(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path.Base(item), err)
	}
	return kept, nil
}

// lineTimestamp parses the bracketed timestamp opening a log line. Some
// firmware revisions mark lines with asterisks inside the brackets, so
// those are stripped before parsing.
func lineTimestamp(line string) (time.Time, error) {
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, fmt.Errorf("no closing bracket")
	}
	raw := strings.TrimSpace(strings.ReplaceAll(line[1:end], "*", ""))
	ts, err := time.Parse(lineTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts, nil
}

// categoryFor derives the attachment category from a log file path, the
// basename without its extension.
func categoryFor(item string) string {
	base := path.Base(item)
	return strings.TrimSuffix(base, path.Ext(base))
}
