package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iwplog/iwplogd/pkg/metrics"
)

// sftpMetrics is the Prometheus implementation of metrics.SFTPMetrics.
type sftpMetrics struct {
	activeSessions   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionsClosed   prometheus.Counter
	authFailures     *prometheus.CounterVec
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesWritten     prometheus.Counter
	writeSize        prometheus.Histogram
}

// NewSFTPMetrics creates a new Prometheus-backed SFTPMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewSFTPMetrics() metrics.SFTPMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &sftpMetrics{
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "iwplog_sftp_active_sessions",
				Help: "Current number of active inbound SFTP sessions",
			},
		),
		sessionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iwplog_sftp_sessions_accepted_total",
				Help: "Total number of accepted inbound SFTP sessions",
			},
		),
		sessionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iwplog_sftp_sessions_closed_total",
				Help: "Total number of closed inbound SFTP sessions",
			},
		),
		authFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_sftp_auth_failures_total",
				Help: "Total number of rejected authentication attempts by method",
			},
			[]string{"method"},
		),
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "iwplog_sftp_requests_total",
				Help: "Total number of SFTP requests by operation and status",
			},
			[]string{"op", "status"}, // status: "ok" or SFTP status name
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "iwplog_sftp_request_duration_milliseconds",
				Help: "Duration of SFTP requests in milliseconds",
				Buckets: []float64{
					0.1, // 100us - in-memory fs
					0.5, // 500us
					1,   // 1ms
					5,   // 5ms
					10,  // 10ms
					50,  // 50ms
					100, // 100ms
				},
			},
			[]string{"op"},
		),
		bytesWritten: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "iwplog_sftp_bytes_written_total",
				Help: "Total bytes written into the VirtualFS by inbound sessions",
			},
		),
		writeSize: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "iwplog_sftp_write_bytes",
				Help: "Distribution of SFTP write sizes in bytes",
				Buckets: []float64{
					4096,    // 4KB
					32768,   // 32KB - typical sftp chunk
					131072,  // 128KB
					524288,  // 512KB
					1048576, // 1MB
				},
			},
		),
	}
}

func (m *sftpMetrics) RecordSessionAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
	m.activeSessions.Inc()
}

func (m *sftpMetrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
	m.activeSessions.Dec()
}

func (m *sftpMetrics) RecordAuthFailure(method string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(method).Inc()
}

func (m *sftpMetrics) RecordRequest(op string, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}

	status := errorCode
	if status == "" {
		status = "ok"
	}
	m.requests.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds() * 1000)
}

func (m *sftpMetrics) RecordBytesWritten(bytes uint64) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(bytes))
	m.writeSize.Observe(float64(bytes))
}
