package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "iwplogd", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Should be able to call shutdown without error
	err = shutdown(ctx)
	assert.NoError(t, err)

	// Should not be enabled
	assert.False(t, IsEnabled())
}

func TestSamplerSelection(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.0).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(2.0).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0.0).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(-0.5).Description())
	assert.Equal(t,
		sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description(),
		sampler(0.25).Description())
}

func TestTracerReturnsNoOp(t *testing.T) {
	// Reset state
	tracer = nil
	enabled = false

	// Without initialization, should return no-op tracer
	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// Even without initialization, StartSpan should work (no-op)
	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	// Should be able to end the span
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()

	// Should return a span even without active span
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()

	// Should not panic with no active span
	require.NotPanics(t, func() {
		AddEvent(ctx, "test.event")
	})
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()

	// Should not panic with nil error
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})

	// Should not panic with error
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("test error"))
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "success")
	})

	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
}

func TestSetAttributes(t *testing.T) {
	ctx := context.Background()

	// Should not panic
	require.NotPanics(t, func() {
		SetAttributes(ctx, ClientIP("192.168.1.1"))
	})
}

func TestTraceID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	traceID := TraceID(ctx)
	assert.Equal(t, "", traceID)
}

func TestSpanID(t *testing.T) {
	ctx := context.Background()

	// Without active span, should return empty string
	spanID := SpanID(ctx)
	assert.Equal(t, "", spanID)
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("ClientIP", func(t *testing.T) {
		attr := ClientIP("192.168.1.100")
		assert.Equal(t, AttrClientIP, string(attr.Key))
		assert.Equal(t, "192.168.1.100", attr.Value.AsString())
	})

	t.Run("ClientAddr", func(t *testing.T) {
		attr := ClientAddr("192.168.1.100:12345")
		assert.Equal(t, AttrClientAddr, string(attr.Key))
		assert.Equal(t, "192.168.1.100:12345", attr.Value.AsString())
	})

	t.Run("EventID", func(t *testing.T) {
		attr := EventID("192.0.2.5_2024-04-02T00:45:01")
		assert.Equal(t, AttrEventID, string(attr.Key))
		assert.Equal(t, "192.0.2.5_2024-04-02T00:45:01", attr.Value.AsString())
	})

	t.Run("DeviceIP", func(t *testing.T) {
		attr := DeviceIP("192.0.2.5")
		assert.Equal(t, AttrDeviceIP, string(attr.Key))
		assert.Equal(t, "192.0.2.5", attr.Value.AsString())
	})

	t.Run("ErrorCode", func(t *testing.T) {
		attr := ErrorCode("SV0401")
		assert.Equal(t, AttrErrorCode, string(attr.Key))
		assert.Equal(t, "SV0401", attr.Value.AsString())
	})

	t.Run("ErrorClass", func(t *testing.T) {
		attr := ErrorClass("servo")
		assert.Equal(t, AttrErrorClass, string(attr.Key))
		assert.Equal(t, "servo", attr.Value.AsString())
	})

	t.Run("TriggerTransport", func(t *testing.T) {
		attr := TriggerTransport("udp")
		assert.Equal(t, AttrTriggerTransport, string(attr.Key))
		assert.Equal(t, "udp", attr.Value.AsString())
	})

	t.Run("TriggerBytes", func(t *testing.T) {
		attr := TriggerBytes(24)
		assert.Equal(t, AttrTriggerBytes, string(attr.Key))
		assert.Equal(t, int64(24), attr.Value.AsInt64())
	})

	t.Run("DeviceCommand", func(t *testing.T) {
		attr := DeviceCommand("copy event-logging upload tftp://10.0.0.1/e.tar.gz")
		assert.Equal(t, AttrDeviceCommand, string(attr.Key))
		assert.Equal(t, "copy event-logging upload tftp://10.0.0.1/e.tar.gz", attr.Value.AsString())
	})

	t.Run("SFTPOp", func(t *testing.T) {
		attr := SFTPOp("Put")
		assert.Equal(t, AttrSFTPOp, string(attr.Key))
		assert.Equal(t, "Put", attr.Value.AsString())
	})

	t.Run("Path", func(t *testing.T) {
		attr := Path("/device_logs/session.log")
		assert.Equal(t, AttrPath, string(attr.Key))
		assert.Equal(t, "/device_logs/session.log", attr.Value.AsString())
	})

	t.Run("Size", func(t *testing.T) {
		attr := Size(1048576)
		assert.Equal(t, AttrSize, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("Archive", func(t *testing.T) {
		attr := Archive("192.0.2.5_2024-04-02T00:45:01.tar.gz")
		assert.Equal(t, AttrArchive, string(attr.Key))
		assert.Equal(t, "192.0.2.5_2024-04-02T00:45:01.tar.gz", attr.Value.AsString())
	})

	t.Run("Members", func(t *testing.T) {
		attr := Members(12)
		assert.Equal(t, AttrMembers, string(attr.Key))
		assert.Equal(t, int64(12), attr.Value.AsInt64())
	})

	t.Run("Category", func(t *testing.T) {
		attr := Category("dmesg")
		assert.Equal(t, AttrCategory, string(attr.Key))
		assert.Equal(t, "dmesg", attr.Value.AsString())
	})

	t.Run("Lines", func(t *testing.T) {
		attr := Lines(42)
		assert.Equal(t, AttrLines, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("Window", func(t *testing.T) {
		attr := Window(2.5)
		assert.Equal(t, AttrWindow, string(attr.Key))
		assert.Equal(t, 2.5, attr.Value.AsFloat64())
	})

	t.Run("Collector", func(t *testing.T) {
		attr := Collector("10.0.0.20:514")
		assert.Equal(t, AttrCollector, string(attr.Key))
		assert.Equal(t, "10.0.0.20:514", attr.Value.AsString())
	})

	t.Run("CredsStatus", func(t *testing.T) {
		attr := CredsStatus(200)
		assert.Equal(t, AttrCredsStatus, string(attr.Key))
		assert.Equal(t, int64(200), attr.Value.AsInt64())
	})
}

func TestStartStageSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartStageSpan(ctx, SpanEventCreate, "192.0.2.5_2024-04-02T00:45:01")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartStageSpan(ctx, SpanParseWindow, "192.0.2.5_2024-04-02T00:45:01",
		Window(2), Lines(120))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartSFTPSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSFTPSpan(ctx, "Put", "/uploads/e.tar.gz")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// With additional attributes
	newCtx2, span2 := StartSFTPSpan(ctx, "Close", "/uploads/e.tar.gz", Size(2048))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartDeviceSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartDeviceSpan(ctx, "192.0.2.5", "192.0.2.5_2024-04-02T00:45:01",
		DevicePort(22))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
