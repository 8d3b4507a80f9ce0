package device

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/internal/telemetry"
	"github.com/iwplog/iwplogd/internal/work"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/metrics"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

// Session outcome labels, matching the device session metrics.
const (
	outcomeOK            = "ok"
	outcomeNoCredentials = "no_credentials"
	outcomeDialError     = "dial_error"
	outcomeCommandError  = "command_error"
)

// transcriptTimeLayout names transcript files by wall-clock second.
const transcriptTimeLayout = "20060102150405"

// CredsFetcher is the credentials dependency of the manager.
// *CredsClient is the production implementation.
type CredsFetcher interface {
	Fetch(ctx context.Context, deviceIP string) (Credentials, error)
}

// Options configures the manager from the top-level configuration.
type Options struct {
	// IngressIP is the upload target embedded in the device command.
	IngressIP string

	// CommandTemplate renders the upload command. It receives the ingress
	// address and the event ID, in that order.
	CommandTemplate string

	// Profile names the targeted device type, for transcripts and logs.
	Profile string

	// LogDir is the VirtualFS directory session transcripts are written
	// into. Empty disables transcripts.
	LogDir string
}

// Manager drives the outbound device leg. For every created event it
// fetches credentials, opens an SSH session to the faulting device and
// issues the upload command. Every failure is logged and dropped; the
// pipeline never retries a device session.
type Manager struct {
	opts    Options
	creds   CredsFetcher
	runner  Runner
	store   *events.Store
	fs      *vfs.FS
	pool    *work.Pool
	metrics metrics.PipelineMetrics
}

// NewManager creates a device manager. pool may be nil to run sessions
// inline on the publisher's goroutine, as tests do. pm may be nil when
// metrics are disabled.
func NewManager(opts Options, creds CredsFetcher, runner Runner, store *events.Store, fs *vfs.FS, pool *work.Pool, pm metrics.PipelineMetrics) *Manager {
	return &Manager{
		opts:    opts,
		creds:   creds,
		runner:  runner,
		store:   store,
		fs:      fs,
		pool:    pool,
		metrics: pm,
	}
}

// HandleEventCreated is the bus handler for new events. The session work
// is handed to the pool so the publisher is never blocked on device I/O.
func (m *Manager) HandleEventCreated(ctx context.Context, payload bus.CIPEventCreated) {
	if m.pool == nil {
		m.collect(ctx, payload.EventID)
		return
	}
	m.pool.Submit("device", func(ctx context.Context) {
		m.collect(ctx, payload.EventID)
	})
}

// collect runs one device session end to end.
func (m *Manager) collect(ctx context.Context, eventID string) {
	record, err := m.store.Get(ctx, eventID)
	if err != nil {
		logger.Error("device session for unknown event",
			logger.EventID(eventID),
			logger.Err(err))
		return
	}

	ctx, span := telemetry.StartDeviceSpan(ctx, record.IP, eventID,
		telemetry.DeviceProfile(m.opts.Profile))
	defer span.End()

	sessionID := uuid.NewString()
	start := time.Now()

	creds, err := m.fetchCreds(ctx, record.IP)
	if err != nil {
		telemetry.RecordError(ctx, err)
		if m.metrics != nil {
			m.metrics.RecordDeviceSession(outcomeNoCredentials, time.Since(start))
		}
		logger.Error("dropping event, no device credentials",
			logger.EventID(eventID),
			logger.DeviceIP(record.IP),
			logger.SessionID(sessionID),
			logger.Err(err))
		m.note(ctx, eventID, fmt.Sprintf("device session %s aborted: %v", sessionID, err))
		return
	}

	command := fmt.Sprintf(m.opts.CommandTemplate, m.opts.IngressIP, eventID)
	telemetry.SetAttributes(ctx, telemetry.DeviceCommand(command))

	transcript, runErr := m.runner.Run(ctx, record.IP, creds, command)

	outcome := outcomeOK
	if runErr != nil {
		outcome = outcomeCommandError
		if errors.Is(runErr, ErrDialFailed) {
			outcome = outcomeDialError
		}
	}
	if m.metrics != nil {
		m.metrics.RecordDeviceSession(outcome, time.Since(start))
	}

	// Dial failures produce no transcript worth keeping.
	if outcome != outcomeDialError {
		m.writeTranscript(ctx, record, sessionID, creds, transcript, runErr)
	}

	if runErr != nil {
		telemetry.RecordError(ctx, runErr)
		logger.Error("device session failed",
			logger.EventID(eventID),
			logger.DeviceIP(record.IP),
			logger.SessionID(sessionID),
			logger.Outcome(outcome),
			logger.Err(runErr))
		m.note(ctx, eventID, fmt.Sprintf("device session %s failed: %v", sessionID, runErr))
		return
	}

	logger.Info("device upload command issued",
		logger.EventID(eventID),
		logger.DeviceIP(record.IP),
		logger.SessionID(sessionID),
		logger.Command(command),
		logger.DurationMs(logger.Duration(start)))
	m.note(ctx, eventID, fmt.Sprintf("device session %s: upload command issued", sessionID))
}

// fetchCreds queries the credentials service and records the outcome.
func (m *Manager) fetchCreds(ctx context.Context, deviceIP string) (Credentials, error) {
	fetchStart := time.Now()
	creds, err := m.creds.Fetch(ctx, deviceIP)

	status := FetchOK
	if err != nil {
		status = FetchNetworkError
		var credsErr *CredsError
		if errors.As(err, &credsErr) {
			status = credsErr.Kind
		}
	}
	if m.metrics != nil {
		m.metrics.RecordCredsFetch(status, time.Since(fetchStart))
	}
	return creds, err
}

// writeTranscript stores the session transcript on the virtual
// filesystem. Transcript failures are logged and otherwise ignored; the
// transcript is an operator convenience, not pipeline state.
func (m *Manager) writeTranscript(ctx context.Context, record *events.EventRecord, sessionID string, creds Credentials, transcript Transcript, runErr error) {
	if m.fs == nil || m.opts.LogDir == "" {
		return
	}

	name := fmt.Sprintf("device_%s_%s.log", record.IP, time.Now().UTC().Format(transcriptTimeLayout))
	p := path.Join(m.opts.LogDir, name)

	var b strings.Builder
	fmt.Fprintf(&b, "session:  %s\n", sessionID)
	fmt.Fprintf(&b, "event:    %s\n", record.ID)
	fmt.Fprintf(&b, "device:   %s\n", record.IP)
	if m.opts.Profile != "" {
		fmt.Fprintf(&b, "profile:  %s\n", m.opts.Profile)
	}
	fmt.Fprintf(&b, "user:     %s\n", creds.Username)
	fmt.Fprintf(&b, "command:  %s\n", transcript.Command)
	fmt.Fprintf(&b, "duration: %s\n", transcript.Duration.Round(time.Millisecond))
	if runErr != nil {
		fmt.Fprintf(&b, "error:    %v\n", runErr)
		fmt.Fprintf(&b, "exit:     %d\n", transcript.ExitCode)
	}
	if transcript.Stdout != "" {
		fmt.Fprintf(&b, "--- stdout ---\n%s", ensureNewline(transcript.Stdout))
	}
	if transcript.Stderr != "" {
		fmt.Fprintf(&b, "--- stderr ---\n%s", ensureNewline(transcript.Stderr))
	}

	if err := m.fs.MkdirAll(ctx, m.opts.LogDir, 0o755); err != nil {
		logger.Warn("transcript directory unavailable", logger.Path(m.opts.LogDir), logger.Err(err))
		return
	}
	if err := m.fs.WriteFile(ctx, p, []byte(b.String())); err != nil {
		logger.Warn("transcript write failed", logger.Path(p), logger.Err(err))
		return
	}

	logger.Debug("session transcript written",
		logger.SessionID(sessionID),
		logger.Path(p))
}

// note appends a free-form line to the event record. The record may have
// been evicted, so failures are ignored.
func (m *Manager) note(ctx context.Context, eventID, line string) {
	_ = m.store.AppendGeneral(ctx, eventID, line)
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
