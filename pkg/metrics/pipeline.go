package metrics

import (
	"time"
)

// PipelineMetrics provides observability for the event pipeline stages.
//
// Implementations collect metrics about trigger receipts, event
// creation, credentials fetches, device sessions, extraction, window
// parsing, and syslog emission. This interface is optional - pass nil
// to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	pm := prometheus.NewPipelineMetrics()
//
//	// Without metrics (pass nil for zero overhead)
//	var pm metrics.PipelineMetrics
type PipelineMetrics interface {
	// RecordTrigger records one received trigger datagram or frame.
	//
	// Parameters:
	//   - transport: "udp" or "tcp"
	//   - outcome: "accepted" or "rejected"
	RecordTrigger(transport string, outcome string)

	// RecordEventCreated records a new event admitted to the store.
	//
	// Parameters:
	//   - errorClass: classified PLC error code (e.g. "servo")
	RecordEventCreated(errorClass string)

	// RecordEventDuplicate records a trigger dropped as a duplicate ID.
	RecordEventDuplicate()

	// RecordCredsFetch records one credentials service round trip.
	//
	// Parameters:
	//   - status: "ok", "http_error", "network_error" or "decode_error"
	//   - duration: time taken for the fetch
	RecordCredsFetch(status string, duration time.Duration)

	// RecordDeviceSession records one outbound SSH session.
	//
	// Parameters:
	//   - outcome: "ok", "no_credentials", "dial_error" or "command_error"
	//   - duration: session duration including the dial
	RecordDeviceSession(outcome string, duration time.Duration)

	// RecordUploadReceived records a completed archive upload.
	//
	// Parameters:
	//   - bytes: final size of the uploaded file
	RecordUploadReceived(bytes uint64)

	// RecordExtraction records one archive extraction.
	//
	// Parameters:
	//   - outcome: "ok" or "error"
	//   - members: number of extracted members
	//   - duration: extraction duration
	RecordExtraction(outcome string, members int, duration time.Duration)

	// RecordParse records one window-parse pass over an extraction.
	//
	// Parameters:
	//   - files: number of files scanned
	//   - lines: number of lines kept inside the window
	//   - duration: parse duration
	RecordParse(files int, lines int, duration time.Duration)

	// RecordSyslogLines records syslog emission for one event.
	//
	// Parameters:
	//   - transport: "udp" or "tcp"
	//   - outcome: "ok" or "error"
	//   - lines: number of lines emitted
	RecordSyslogLines(transport string, outcome string, lines int)
}
