package bus

import (
	"time"

	"github.com/iwplog/iwplogd/pkg/vfs"
)

// Signal names, used as logging and metrics labels.
const (
	SignalNetworkDataReceived    = "NetworkDataReceived"
	SignalCIPEventCreated        = "CIPEventCreated"
	SignalFileReceived           = "FileReceived"
	SignalExtractionCompleted    = "ExtractionCompleted"
	SignalLogProcessingCompleted = "LogProcessingCompleted"
	SignalEventUpdated           = "EventUpdated"
)

// NetworkDataReceived is published by the network listener for every
// validated trigger.
type NetworkDataReceived struct {
	// IP is the textual IPv4 address of the faulting device.
	IP string

	// Datetime is the fault timestamp carried by the trigger.
	Datetime time.Time

	// Text is the free-form description of the trigger.
	Text string

	// ErrorCode is the PLC error code, up to 48 alphanumeric characters.
	ErrorCode string
}

// CIPEventCreated is published by the event store once a trigger has been
// recorded. EventID is the correlation key for every later stage.
type CIPEventCreated struct {
	EventID string
}

// FileReceived is published by the SFTP server when a handle is closed after
// a write. Path is the canonical location of the uploaded file inside FS.
type FileReceived struct {
	Path string
	FS   *vfs.FS
}

// ExtractionCompleted is published by the extractor after an archive has been
// unpacked into Directory.
type ExtractionCompleted struct {
	Directory      string
	ExtractedItems []string
	EventID        string
}

// LogProcessingCompleted is published by the window parser once every
// extracted file of an event has been sliced and attached.
type LogProcessingCompleted struct {
	EventID string
}

// EventUpdated is an advisory signal published by the event store after
// categorised logs are attached to a record.
type EventUpdated struct {
	EventID string
}

// Bus groups the pipeline's topics. The runtime constructs one Bus and hands
// it to every component; no component calls another directly.
type Bus struct {
	NetworkDataReceived    *Topic[NetworkDataReceived]
	CIPEventCreated        *Topic[CIPEventCreated]
	FileReceived           *Topic[FileReceived]
	ExtractionCompleted    *Topic[ExtractionCompleted]
	LogProcessingCompleted *Topic[LogProcessingCompleted]
	EventUpdated           *Topic[EventUpdated]
}

// New creates a bus with all pipeline topics registered and no subscribers.
func New() *Bus {
	return &Bus{
		NetworkDataReceived:    NewTopic[NetworkDataReceived](SignalNetworkDataReceived),
		CIPEventCreated:        NewTopic[CIPEventCreated](SignalCIPEventCreated),
		FileReceived:           NewTopic[FileReceived](SignalFileReceived),
		ExtractionCompleted:    NewTopic[ExtractionCompleted](SignalExtractionCompleted),
		LogProcessingCompleted: NewTopic[LogProcessingCompleted](SignalLogProcessingCompleted),
		EventUpdated:           NewTopic[EventUpdated](SignalEventUpdated),
	}
}
