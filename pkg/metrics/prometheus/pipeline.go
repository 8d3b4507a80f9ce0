// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces. Constructors return nil when the registry was
// never initialized, so disabled deployments pay nothing.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iwplog/iwplogd/pkg/metrics"
)

// pipelineMetrics is the Prometheus implementation of metrics.PipelineMetrics.
type pipelineMetrics struct {
	triggers           *prometheus.CounterVec
	eventsCreated      *prometheus.CounterVec
	eventsDuplicate    prometheus.Counter
	credsFetches       *prometheus.CounterVec
	credsDuration      prometheus.Histogram
	deviceSessions     *prometheus.CounterVec
	deviceDuration     prometheus.Histogram
	uploadsReceived    prometheus.Counter
	uploadBytes        prometheus.Histogram
	extractions        *prometheus.CounterVec
	extractionMembers  prometheus.Histogram
	extractionDuration prometheus.Histogram
	parseFiles         prometheus.Counter
	parseLines         prometheus.Histogram
	parseDuration      prometheus.Histogram
	syslogLines        *prometheus.CounterVec
}

// NewPipelineMetrics creates a new Prometheus-backed PipelineMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPipelineMetrics() metrics.PipelineMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &pipelineMetrics{
		triggers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_triggers_total",
				Help: "Total number of PLC triggers received by transport and outcome",
			},
			[]string{"transport", "outcome"}, // outcome: "accepted", "rejected"
		),
		eventsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_events_created_total",
				Help: "Total number of events admitted to the store by error class",
			},
			[]string{"error_class"},
		),
		eventsDuplicate: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iwplog_events_duplicate_total",
				Help: "Total number of triggers dropped as duplicate event IDs",
			},
		),
		credsFetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_creds_fetch_total",
				Help: "Total number of credentials service fetches by status",
			},
			[]string{"status"}, // "ok", "http_error", "network_error", "decode_error"
		),
		credsDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "iwplog_creds_fetch_duration_milliseconds",
				Help: "Duration of credentials service fetches in milliseconds",
				Buckets: []float64{
					1,     // 1ms - local service
					5,     // 5ms
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s
					10000, // 10s - timeout territory
				},
			},
		),
		deviceSessions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_device_sessions_total",
				Help: "Total number of outbound device SSH sessions by outcome",
			},
			[]string{"outcome"}, // "ok", "no_credentials", "dial_error", "command_error"
		),
		deviceDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "iwplog_device_session_duration_milliseconds",
				Help: "Duration of outbound device SSH sessions in milliseconds",
				Buckets: []float64{
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s
					15000, // 15s - dial timeout territory
					60000, // 1m
				},
			},
		),
		uploadsReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iwplog_uploads_received_total",
				Help: "Total number of completed archive uploads",
			},
		),
		uploadBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "iwplog_upload_bytes",
				Help: "Distribution of uploaded archive sizes in bytes",
				Buckets: []float64{
					4096,      // 4KB
					32768,     // 32KB
					131072,    // 128KB
					1048576,   // 1MB
					10485760,  // 10MB
					104857600, // 100MB
				},
			},
		),
		extractions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_extractions_total",
				Help: "Total number of archive extractions by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
		extractionMembers: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "iwplog_extraction_members",
				Help:    "Distribution of extracted member counts per archive",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
		),
		extractionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "iwplog_extraction_duration_milliseconds",
				Help: "Duration of archive extractions in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
					5000, // 5s
				},
			},
		),
		parseFiles: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iwplog_parse_files_total",
				Help: "Total number of extracted files scanned by the window parser",
			},
		),
		parseLines: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "iwplog_parse_lines_kept",
				Help:    "Distribution of lines kept inside the window per extraction",
				Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000},
			},
		),
		parseDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "iwplog_parse_duration_milliseconds",
				Help: "Duration of window-parse passes in milliseconds",
				Buckets: []float64{
					1,    // 1ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms
					500,  // 500ms
					1000, // 1s
				},
			},
		),
		syslogLines: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_syslog_lines_total",
				Help: "Total number of syslog lines emitted by transport and outcome",
			},
			[]string{"transport", "outcome"}, // outcome: "ok", "error"
		),
	}
}

func (m *pipelineMetrics) RecordTrigger(transport string, outcome string) {
	if m == nil {
		return
	}
	m.triggers.WithLabelValues(transport, outcome).Inc()
}

func (m *pipelineMetrics) RecordEventCreated(errorClass string) {
	if m == nil {
		return
	}
	m.eventsCreated.WithLabelValues(errorClass).Inc()
}

func (m *pipelineMetrics) RecordEventDuplicate() {
	if m == nil {
		return
	}
	m.eventsDuplicate.Inc()
}

func (m *pipelineMetrics) RecordCredsFetch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.credsFetches.WithLabelValues(status).Inc()
	m.credsDuration.Observe(duration.Seconds() * 1000)
}

func (m *pipelineMetrics) RecordDeviceSession(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deviceSessions.WithLabelValues(outcome).Inc()
	m.deviceDuration.Observe(duration.Seconds() * 1000)
}

func (m *pipelineMetrics) RecordUploadReceived(bytes uint64) {
	if m == nil {
		return
	}
	m.uploadsReceived.Inc()
	m.uploadBytes.Observe(float64(bytes))
}

func (m *pipelineMetrics) RecordExtraction(outcome string, members int, duration time.Duration) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.extractionMembers.Observe(float64(members))
	}
	m.extractionDuration.Observe(duration.Seconds() * 1000)
}

func (m *pipelineMetrics) RecordParse(files int, lines int, duration time.Duration) {
	if m == nil {
		return
	}
	m.parseFiles.Add(float64(files))
	m.parseLines.Observe(float64(lines))
	m.parseDuration.Observe(duration.Seconds() * 1000)
}

func (m *pipelineMetrics) RecordSyslogLines(transport string, outcome string, lines int) {
	if m == nil {
		return
	}
	m.syslogLines.WithLabelValues(transport, outcome).Add(float64(lines))
}
