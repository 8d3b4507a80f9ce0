package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so aggregated logs
// from every pipeline stage can be queried with the same vocabulary.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Pipeline
	// ========================================================================
	KeyStage      = "stage"      // Pipeline stage: listener, events, device, sftp, extract, parser, syslog
	KeySignal     = "signal"     // Bus signal name
	KeyEventID    = "event_id"   // Event correlation key "{ip}_{timestamp}"
	KeyDeviceIP   = "device_ip"  // Faulting device address
	KeyErrorCode  = "plc_error"  // Raw PLC error code from the trigger
	KeyErrorClass = "error_class" // Configured classification of the PLC error code
	KeyCategory   = "category"   // Log category (source file basename)
	KeyCategories = "categories" // Number of log categories
	KeyLines      = "lines"      // Number of log lines

	// ========================================================================
	// Network
	// ========================================================================
	KeyTransport  = "transport"   // udp or tcp
	KeyListenAddr = "listen_addr" // Bound listener address
	KeyClientIP   = "client_ip"   // Remote peer address (without port)
	KeyCollector  = "collector"   // Syslog collector address
	KeyPayloadLen = "payload_len" // Raw payload length in bytes

	// ========================================================================
	// Device Session
	// ========================================================================
	KeySessionID = "session_id" // Outbound or inbound SSH session identifier
	KeyUsername  = "username"   // Username used for the session
	KeyCommand   = "command"    // Command issued to the device
	KeyAuthMode  = "auth_mode"  // Inbound authentication mode (open, kerberos)

	// ========================================================================
	// Filesystem & SFTP
	// ========================================================================
	KeySFTPOp   = "sftp_op"  // SFTP request method
	KeyPath     = "path"     // Full path inside the virtual filesystem
	KeyFilename = "filename" // File basename
	KeyOldPath  = "old_path" // Source path for rename
	KeyNewPath  = "new_path" // Destination path for rename
	KeySize     = "size"     // File size in bytes
	KeyStatus   = "status"   // SFTP status name returned to the client

	// ========================================================================
	// Extraction & Parsing
	// ========================================================================
	KeyArchive   = "archive"   // Uploaded archive path
	KeyDirectory = "directory" // Extraction scratch directory
	KeyMembers   = "members"   // Number of archive members extracted
	KeyWindow    = "window_s"  // Parse window half-width in seconds

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyOutcome    = "outcome"     // Operation outcome label, matching the metrics labels
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyConfigFile = "config_file" // Configuration file path
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Pipeline
// ----------------------------------------------------------------------------

// Stage returns a slog.Attr naming the pipeline stage
func Stage(name string) slog.Attr {
	return slog.String(KeyStage, name)
}

// Signal returns a slog.Attr for a bus signal name
func Signal(name string) slog.Attr {
	return slog.String(KeySignal, name)
}

// EventID returns a slog.Attr for the event correlation key
func EventID(id string) slog.Attr {
	return slog.String(KeyEventID, id)
}

// DeviceIP returns a slog.Attr for the faulting device address
func DeviceIP(addr string) slog.Attr {
	return slog.String(KeyDeviceIP, addr)
}

// ErrorCode returns a slog.Attr for the raw PLC error code
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// ErrorClass returns a slog.Attr for the classified PLC error code
func ErrorClass(class string) slog.Attr {
	return slog.String(KeyErrorClass, class)
}

// Category returns a slog.Attr for a log category
func Category(name string) slog.Attr {
	return slog.String(KeyCategory, name)
}

// Categories returns a slog.Attr for a category count
func Categories(n int) slog.Attr {
	return slog.Int(KeyCategories, n)
}

// Lines returns a slog.Attr for a log line count
func Lines(n int) slog.Attr {
	return slog.Int(KeyLines, n)
}

// ----------------------------------------------------------------------------
// Network
// ----------------------------------------------------------------------------

// Transport returns a slog.Attr for the transport name (udp, tcp)
func Transport(name string) slog.Attr {
	return slog.String(KeyTransport, name)
}

// ListenAddr returns a slog.Attr for a bound listener address
func ListenAddr(addr string) slog.Attr {
	return slog.String(KeyListenAddr, addr)
}

// ClientIP returns a slog.Attr for the remote peer address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Collector returns a slog.Attr for the syslog collector address
func Collector(addr string) slog.Attr {
	return slog.String(KeyCollector, addr)
}

// PayloadLen returns a slog.Attr for a raw payload length
func PayloadLen(n int) slog.Attr {
	return slog.Int(KeyPayloadLen, n)
}

// ----------------------------------------------------------------------------
// Device Session
// ----------------------------------------------------------------------------

// SessionID returns a slog.Attr for an SSH session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Username returns a slog.Attr for a session username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Command returns a slog.Attr for a device command line
func Command(cmd string) slog.Attr {
	return slog.String(KeyCommand, cmd)
}

// AuthMode returns a slog.Attr for the inbound authentication mode
func AuthMode(name string) slog.Attr {
	return slog.String(KeyAuthMode, name)
}

// ----------------------------------------------------------------------------
// Filesystem & SFTP
// ----------------------------------------------------------------------------

// SFTPOp returns a slog.Attr for an SFTP request method
func SFTPOp(method string) slog.Attr {
	return slog.String(KeySFTPOp, method)
}

// Path returns a slog.Attr for a virtual filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Filename returns a slog.Attr for a file basename
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// OldPath returns a slog.Attr for the source path of a rename
func OldPath(p string) slog.Attr {
	return slog.String(KeyOldPath, p)
}

// NewPath returns a slog.Attr for the destination path of a rename
func NewPath(p string) slog.Attr {
	return slog.String(KeyNewPath, p)
}

// Size returns a slog.Attr for a file size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// Status returns a slog.Attr for an SFTP status name
func Status(name string) slog.Attr {
	return slog.String(KeyStatus, name)
}

// ----------------------------------------------------------------------------
// Extraction & Parsing
// ----------------------------------------------------------------------------

// Archive returns a slog.Attr for an uploaded archive path
func Archive(p string) slog.Attr {
	return slog.String(KeyArchive, p)
}

// Directory returns a slog.Attr for an extraction scratch directory
func Directory(p string) slog.Attr {
	return slog.String(KeyDirectory, p)
}

// Members returns a slog.Attr for an extracted member count
func Members(n int) slog.Attr {
	return slog.Int(KeyMembers, n)
}

// Window returns a slog.Attr for the parse window half-width in seconds
func Window(seconds float64) slog.Attr {
	return slog.Float64(KeyWindow, seconds)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// Outcome returns a slog.Attr for an operation outcome label
func Outcome(name string) slog.Attr {
	return slog.String(KeyOutcome, name)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ConfigFile returns a slog.Attr for a configuration file path
func ConfigFile(p string) slog.Attr {
	return slog.String(KeyConfigFile, p)
}
