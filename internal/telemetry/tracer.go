package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for pipeline operations.
// These follow OpenTelemetry semantic conventions where applicable.
// Pipeline-wide keys use "event." and "device." prefixes; stage-specific
// keys use their own prefix.
const (
	// ========================================================================
	// Client attributes (stage-agnostic)
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// Event attributes (stage-agnostic)
	// ========================================================================
	AttrEventID    = "event.id"
	AttrDeviceIP   = "device.ip"
	AttrErrorCode  = "event.error_code"
	AttrErrorClass = "event.error_class"
	AttrStage      = "pipeline.stage"

	// ========================================================================
	// Trigger listener attributes
	// ========================================================================
	AttrTriggerTransport = "trigger.transport"
	AttrTriggerBytes     = "trigger.payload_bytes"

	// ========================================================================
	// Device session attributes
	// ========================================================================
	AttrDeviceProfile = "device.profile"
	AttrDevicePort    = "device.port"
	AttrDeviceCommand = "device.command"
	AttrCredsStatus   = "creds.http_status"

	// ========================================================================
	// SFTP ingress attributes
	// ========================================================================
	AttrSFTPOp    = "sftp.operation"
	AttrSessionID = "session.id"
	AttrPath      = "fs.path"
	AttrFilename  = "fs.filename"
	AttrSize      = "fs.size"
	AttrUsername  = "user.name"
	AttrAuth      = "auth.method"

	// ========================================================================
	// Extraction attributes
	// ========================================================================
	AttrArchive    = "extract.archive"
	AttrExtractDir = "extract.directory"
	AttrMembers    = "extract.members"

	// ========================================================================
	// Window parser attributes
	// ========================================================================
	AttrCategory = "parse.category"
	AttrLines    = "parse.lines"
	AttrWindow   = "parse.window_s"

	// ========================================================================
	// Syslog emission attributes
	// ========================================================================
	AttrCollector       = "syslog.collector"
	AttrSyslogTransport = "syslog.transport"
)

// Span names for operations.
// Format: <stage>.<operation>
const (
	// Trigger listener
	SpanTriggerReceive  = "trigger.receive"
	SpanTriggerValidate = "trigger.validate"

	// Event store
	SpanEventCreate = "event.create"
	SpanEventAttach = "event.attach"

	// Device manager
	SpanCredsFetch    = "creds.fetch"
	SpanDeviceSession = "device.session"
	SpanDeviceCommand = "device.command"

	// SFTP ingress
	SpanSFTPSession = "sftp.session"
	SpanSFTPUpload  = "sftp.upload"

	// Extraction
	SpanExtractArchive = "extract.archive"

	// Window parser
	SpanParseWindow = "parse.window"

	// Syslog emission
	SpanSyslogEmit = "syslog.emit"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// EventID returns an attribute for the pipeline event ID
func EventID(id string) attribute.KeyValue {
	return attribute.String(AttrEventID, id)
}

// DeviceIP returns an attribute for the originating device address
func DeviceIP(ip string) attribute.KeyValue {
	return attribute.String(AttrDeviceIP, ip)
}

// ErrorCode returns an attribute for the raw PLC error code
func ErrorCode(code string) attribute.KeyValue {
	return attribute.String(AttrErrorCode, code)
}

// ErrorClass returns an attribute for the classified error code
func ErrorClass(class string) attribute.KeyValue {
	return attribute.String(AttrErrorClass, class)
}

// Stage returns an attribute for the pipeline stage name
func Stage(name string) attribute.KeyValue {
	return attribute.String(AttrStage, name)
}

// TriggerTransport returns an attribute for the trigger wire transport
func TriggerTransport(transport string) attribute.KeyValue {
	return attribute.String(AttrTriggerTransport, transport)
}

// TriggerBytes returns an attribute for the trigger payload length
func TriggerBytes(n int) attribute.KeyValue {
	return attribute.Int(AttrTriggerBytes, n)
}

// DeviceProfile returns an attribute for the device profile name
func DeviceProfile(profile string) attribute.KeyValue {
	return attribute.String(AttrDeviceProfile, profile)
}

// DevicePort returns an attribute for the device SSH port
func DevicePort(port int) attribute.KeyValue {
	return attribute.Int(AttrDevicePort, port)
}

// DeviceCommand returns an attribute for the issued device command
func DeviceCommand(cmd string) attribute.KeyValue {
	return attribute.String(AttrDeviceCommand, cmd)
}

// CredsStatus returns an attribute for the credentials fetch HTTP status
func CredsStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrCredsStatus, status)
}

// SFTPOp returns an attribute for the SFTP request type
func SFTPOp(op string) attribute.KeyValue {
	return attribute.String(AttrSFTPOp, op)
}

// SessionID returns an attribute for the inbound session ID
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// Path returns an attribute for a VirtualFS path
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// Filename returns an attribute for a file basename
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// Size returns an attribute for a file size
func Size(size uint64) attribute.KeyValue {
	return attribute.Int64(AttrSize, int64(size))
}

// Username returns an attribute for username
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// AuthMethod returns an attribute for authentication method
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// Archive returns an attribute for the uploaded archive name
func Archive(name string) attribute.KeyValue {
	return attribute.String(AttrArchive, name)
}

// ExtractDir returns an attribute for the extraction scratch directory
func ExtractDir(dir string) attribute.KeyValue {
	return attribute.String(AttrExtractDir, dir)
}

// Members returns an attribute for the number of extracted members
func Members(n int) attribute.KeyValue {
	return attribute.Int(AttrMembers, n)
}

// Category returns an attribute for a log category
func Category(category string) attribute.KeyValue {
	return attribute.String(AttrCategory, category)
}

// Lines returns an attribute for a line count
func Lines(n int) attribute.KeyValue {
	return attribute.Int(AttrLines, n)
}

// Window returns an attribute for the parse window half-width in seconds
func Window(seconds float64) attribute.KeyValue {
	return attribute.Float64(AttrWindow, seconds)
}

// Collector returns an attribute for the syslog collector address
func Collector(addr string) attribute.KeyValue {
	return attribute.String(AttrCollector, addr)
}

// SyslogTransport returns an attribute for the syslog transport
func SyslogTransport(transport string) attribute.KeyValue {
	return attribute.String(AttrSyslogTransport, transport)
}

// ============================================================================
// Span context helpers
// ============================================================================

// StartSpan opens a span named name on the process tracer. The caller
// owns span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext returns the span recording on ctx, or a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent marks a point-in-time occurrence on the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError records err on the current span and marks it failed. A
// nil err is ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetStatus sets the status of the current span.
func SetStatus(ctx context.Context, code codes.Code, description string) {
	trace.SpanFromContext(ctx).SetStatus(code, description)
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// TraceID returns the active trace ID, or "" outside a sampled trace.
// Logged alongside the event ID so a record can be matched to its
// trace.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanID returns the active span ID, or "" outside a span.
func SpanID(ctx context.Context) string {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// StartStageSpan starts a span for a pipeline stage handling one event.
// This is a convenience function that sets common attributes.
func StartStageSpan(ctx context.Context, name, eventID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		EventID(eventID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartSFTPSpan starts a span for an SFTP request.
func StartSFTPSpan(ctx context.Context, op, path string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		SFTPOp(op),
		Path(path),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "sftp."+op, trace.WithAttributes(allAttrs...))
}

// StartDeviceSpan starts a span for an outbound device session.
func StartDeviceSpan(ctx context.Context, ip, eventID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		DeviceIP(ip),
		EventID(eventID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanDeviceSession, trace.WithAttributes(allAttrs...))
}
