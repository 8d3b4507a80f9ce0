// Package syslog forwards categorised event logs to the downstream
// collector as RFC 3164 messages.
//
// Every LogProcessingCompleted signal names a settled event. The sender
// looks the event up, renders one message per attached log line and
// writes them over a persistent socket, one datagram per line on UDP or
// a concatenated stream on TCP. A write failure drops the current
// category and closes the socket; the next emission dials anew.
package syslog

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/internal/telemetry"
	"github.com/iwplog/iwplogd/internal/work"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/metrics"
)

const (
	// priority encodes facility local0, severity informational.
	priority = 134

	// tag identifies this pipeline in the collector's records.
	tag = "IWPLOGPARSER"

	// headerTimeLayout renders the RFC 3164 header timestamp.
	headerTimeLayout = "Jan 02 15:04:05"

	dialTimeout = 5 * time.Second
)

// Emission outcome labels, matching the pipeline metrics.
const (
	outcomeOK      = "ok"
	outcomeNoEvent = "no_event"
	outcomeNoLogs  = "no_logs"
	outcomeError   = "error"
)

// Options configures the collector endpoint.
type Options struct {
	// IP is the collector address.
	IP string

	// Port is the collector port.
	Port int

	// Transport is "udp" or "tcp".
	Transport string
}

// Sender emits one message batch per LogProcessingCompleted signal.
type Sender struct {
	opts    Options
	store   *events.Store
	pool    *work.Pool
	metrics metrics.PipelineMetrics
	now     func() time.Time
	dial    func(network, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

// Option configures a Sender.
type Option func(*Sender)

// WithClock overrides the header timestamp clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

// New creates a sender. The socket is dialed lazily on first emission.
// pool may be nil to emit inline on the publisher's goroutine, as tests
// do. pm may be nil when metrics are disabled.
func New(opts Options, store *events.Store, pool *work.Pool, pm metrics.PipelineMetrics, sopts ...Option) *Sender {
	s := &Sender{
		opts:    opts,
		store:   store,
		pool:    pool,
		metrics: pm,
		now:     time.Now,
		dial: func(network, addr string) (net.Conn, error) {
			return net.DialTimeout(network, addr, dialTimeout)
		},
	}
	for _, opt := range sopts {
		opt(s)
	}
	return s
}

// HandleLogProcessingCompleted is the bus handler for settled events.
// Emission is handed to the pool so the parse stage is never blocked on
// collector I/O.
func (s *Sender) HandleLogProcessingCompleted(ctx context.Context, payload bus.LogProcessingCompleted) {
	if s.pool == nil {
		s.emit(ctx, payload.EventID)
		return
	}
	s.pool.Submit("syslog", func(ctx context.Context) {
		s.emit(ctx, payload.EventID)
	})
}

// emit forwards every categorised line of one event.
func (s *Sender) emit(ctx context.Context, eventID string) {
	ctx, span := telemetry.StartStageSpan(ctx, telemetry.SpanSyslogEmit, eventID,
		telemetry.Collector(s.addr()),
		telemetry.SyslogTransport(s.opts.Transport))
	defer span.End()

	record, err := s.store.Get(ctx, eventID)
	if err != nil {
		telemetry.RecordError(ctx, err)
		s.recordLines(outcomeNoEvent, 0)
		logger.Error("no event for syslog emission",
			logger.EventID(eventID),
			logger.Err(err))
		return
	}
	if len(record.CategorisedLogs) == 0 {
		s.recordLines(outcomeNoLogs, 0)
		logger.Error("no categorised logs for syslog emission",
			logger.EventID(eventID))
		return
	}

	// The collector correlates lines by source address, taken from the
	// event ID rather than the trigger so renamed uploads stay traceable.
	sourceIP, _, _ := strings.Cut(eventID, "_")

	categories := make([]string, 0, len(record.CategorisedLogs))
	for cat := range record.CategorisedLogs {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	total, failed := 0, 0
	for _, cat := range categories {
		sent, err := s.emitCategory(sourceIP, cat, record.CategorisedLogs[cat])
		total += sent
		if err != nil {
			failed++
			telemetry.RecordError(ctx, err)
			s.recordLines(outcomeError, sent)
			logger.Error("syslog emission failed",
				logger.EventID(eventID),
				logger.Category(cat),
				logger.Collector(s.addr()),
				logger.Err(err))
			continue
		}
		s.recordLines(outcomeOK, sent)
		logger.Debug("category forwarded to collector",
			logger.EventID(eventID),
			logger.Category(cat),
			logger.Lines(sent))
	}

	telemetry.SetAttributes(ctx, telemetry.Lines(total))

	if failed == 0 {
		logger.Info("event forwarded to collector",
			logger.EventID(eventID),
			logger.Collector(s.addr()),
			logger.Transport(s.opts.Transport),
			logger.Categories(len(categories)),
			logger.Lines(total))
	}
}

// emitCategory writes one message per line, all under one header
// timestamp. Returns the number of lines written. On error the socket is
// dropped so the next use redials.
func (s *Sender) emitCategory(sourceIP, category string, lines []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.dialLocked(); err != nil {
		return 0, err
	}

	stamp := s.now().Format(headerTimeLayout)
	for i, line := range lines {
		msg := fmt.Sprintf("<%d>%s %s %s %s: %s\n", priority, stamp, sourceIP, tag, category, line)
		if _, err := s.conn.Write([]byte(msg)); err != nil {
			s.dropLocked()
			return i, fmt.Errorf("write to collector: %w", err)
		}
	}
	return len(lines), nil
}

// dialLocked opens the collector socket if none is held. UDP uses a
// connected socket, so each Write is one datagram.
func (s *Sender) dialLocked() error {
	if s.conn != nil {
		return nil
	}
	conn, err := s.dial(s.opts.Transport, s.addr())
	if err != nil {
		return fmt.Errorf("dial collector: %w", err)
	}
	s.conn = conn
	logger.Debug("collector socket opened",
		logger.Collector(s.addr()),
		logger.Transport(s.opts.Transport))
	return nil
}

// dropLocked closes and forgets the socket.
func (s *Sender) dropLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close releases the collector socket. Safe to call with no socket held.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}

func (s *Sender) addr() string {
	return net.JoinHostPort(s.opts.IP, strconv.Itoa(s.opts.Port))
}

func (s *Sender) recordLines(outcome string, lines int) {
	if s.metrics != nil {
		s.metrics.RecordSyslogLines(s.opts.Transport, outcome, lines)
	}
}
