// Package events holds the in-memory event store that correlates every
// pipeline stage.
//
// An EventRecord is created when a validated trigger arrives and is looked
// up again by the stages that follow: the device manager embeds its ID in
// the upload command, the extractor recovers the ID from the uploaded
// archive name, and the parser and syslog sender attach and emit its logs.
package events

import (
	"path"
	"strings"
	"time"
)

// IDTimeLayout renders the fault timestamp inside an event ID. The same
// string appears in the uploaded archive name, so it must stay stable.
const IDTimeLayout = "2006-01-02T15:04:05"

// FormatID derives the event ID for a device address and fault timestamp.
func FormatID(ip string, ts time.Time) string {
	return ip + "_" + ts.UTC().Format(IDTimeLayout)
}

// IDFromArchiveName recovers the event ID from an uploaded archive name,
// the inverse of TarballName. Event IDs contain dots (the device IP), so
// only the ".tar.gz" upload suffix is stripped, not everything after the
// first dot. A name outside the upload contract yields a best-effort ID
// that fails the later store lookup.
func IDFromArchiveName(name string) string {
	if id := strings.TrimSuffix(name, ".tar.gz"); id != name {
		return id
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

// EventRecord is one fault event. IP, Datetime, Text, ErrorCode, ErrorClass
// and ID never change after creation; the log collections only grow.
type EventRecord struct {
	// ID is "{ip}_{timestamp}" and doubles as the correlation key for the
	// uploaded archive "{ID}.tar.gz".
	ID string

	// IP is the textual IPv4 address of the faulting device.
	IP string

	// Datetime is the fault timestamp from the trigger.
	Datetime time.Time

	// Text is the free-form trigger description.
	Text string

	// ErrorCode is the PLC error code from the trigger.
	ErrorCode string

	// ErrorClass is the configured classification of ErrorCode, or
	// "unclassified" when no pattern matched.
	ErrorClass string

	// CreatedAt is when the record entered the store.
	CreatedAt time.Time

	// GeneralLogs holds free-form notes appended by pipeline stages.
	GeneralLogs []string

	// CategorisedLogs maps a log category to the lines attached under it.
	CategorisedLogs map[string][]string
}

// TarballName is the archive filename the device is told to upload.
func (r *EventRecord) TarballName() string {
	return r.ID + ".tar.gz"
}

// clone returns a deep copy so callers can read a record without holding
// the store lock.
func (r *EventRecord) clone() *EventRecord {
	out := *r
	out.GeneralLogs = append([]string(nil), r.GeneralLogs...)
	out.CategorisedLogs = make(map[string][]string, len(r.CategorisedLogs))
	for cat, lines := range r.CategorisedLogs {
		out.CategorisedLogs[cat] = append([]string(nil), lines...)
	}
	return &out
}
