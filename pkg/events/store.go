package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/pkg/bus"
	"github.com/iwplog/iwplogd/pkg/metrics"
)

// Store errors. Callers that drop duplicates branch on ErrDuplicateEvent.
var (
	ErrDuplicateEvent = fmt.Errorf("duplicate event")
	ErrEventNotFound  = fmt.Errorf("event not found")
)

// Classifier maps a raw PLC error code to a configured class name.
type Classifier interface {
	Classify(code string) string
}

// Store is the process-wide event index. A single mutex covers both the
// primary ID index and the secondary address index.
type Store struct {
	mu   sync.Mutex
	byID map[string]*EventRecord

	// byIP groups records by device address, then by the rendered fault
	// timestamp, mirroring how operators query events.
	byIP map[string]map[string][]*EventRecord

	bus        *bus.Bus
	classifier Classifier
	metrics    metrics.PipelineMetrics
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClassifier attaches an error-code classifier applied on Add.
func WithClassifier(c Classifier) Option {
	return func(s *Store) { s.classifier = c }
}

// WithMetrics attaches pipeline metrics recorded on Add.
func WithMetrics(pm metrics.PipelineMetrics) Option {
	return func(s *Store) { s.metrics = pm }
}

// WithClock overrides the creation-time clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store. b may be nil when no signals should be
// emitted, as in most tests.
func NewStore(b *bus.Bus, opts ...Option) *Store {
	s := &Store{
		byID: make(map[string]*EventRecord),
		byIP: make(map[string]map[string][]*EventRecord),
		bus:  b,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates and indexes a new event. A second event with the same address
// and fault timestamp is dropped and reported with ErrDuplicateEvent.
// Successful inserts emit CIPEventCreated.
func (s *Store) Add(ctx context.Context, ip string, dt time.Time, text, errCode string) (*EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	class := "unclassified"
	if s.classifier != nil {
		class = s.classifier.Classify(errCode)
	}

	record := &EventRecord{
		ID:              FormatID(ip, dt),
		IP:              ip,
		Datetime:        dt,
		Text:            text,
		ErrorCode:       errCode,
		ErrorClass:      class,
		CreatedAt:       s.now(),
		CategorisedLogs: make(map[string][]string),
	}

	s.mu.Lock()
	if _, exists := s.byID[record.ID]; exists {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordEventDuplicate()
		}
		logger.Debug("dropping duplicate event",
			logger.EventID(record.ID),
			logger.DeviceIP(ip))
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEvent, record.ID)
	}
	s.byID[record.ID] = record
	dts := dt.UTC().Format(IDTimeLayout)
	if s.byIP[ip] == nil {
		s.byIP[ip] = make(map[string][]*EventRecord)
	}
	s.byIP[ip][dts] = append(s.byIP[ip][dts], record)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordEventCreated(class)
	}

	logger.Info("event created",
		logger.EventID(record.ID),
		logger.DeviceIP(ip),
		logger.ErrorCode(errCode),
		logger.ErrorClass(class))

	if s.bus != nil {
		s.bus.CIPEventCreated.Publish(ctx, bus.CIPEventCreated{EventID: record.ID})
	}
	return record.clone(), nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(ctx context.Context, id string) (*EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return record.clone(), nil
}

// AttachCategorised appends lines to the record's categories, creating
// categories as needed, and emits EventUpdated. Unknown ids are reported
// with a warning so an out-of-band upload is visible in the logs.
func (s *Store) AttachCategorised(ctx context.Context, id string, logs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	record, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		logger.Warn("categorised logs for unknown event", logger.EventID(id))
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	total := 0
	for cat, lines := range logs {
		record.CategorisedLogs[cat] = append(record.CategorisedLogs[cat], lines...)
		total += len(lines)
	}
	s.mu.Unlock()

	logger.Debug("categorised logs attached",
		logger.EventID(id),
		logger.Categories(len(logs)),
		logger.Lines(total))

	if s.bus != nil {
		s.bus.EventUpdated.Publish(ctx, bus.EventUpdated{EventID: id})
	}
	return nil
}

// AppendGeneral appends free-form note lines to the record.
func (s *Store) AppendGeneral(ctx context.Context, id string, lines ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	record.GeneralLogs = append(record.GeneralLogs, lines...)
	return nil
}

// HandleNetworkData is the bus handler for validated triggers. Add logs
// duplicates itself, so the error is dropped here.
func (s *Store) HandleNetworkData(ctx context.Context, payload bus.NetworkDataReceived) {
	_, _ = s.Add(ctx, payload.IP, payload.Datetime, payload.Text, payload.ErrorCode)
}

// ====================================================================
// Introspection
// ====================================================================

// Stats summarises the store for the status surfaces.
type Stats struct {
	Events     int `json:"events"`
	Devices    int `json:"devices"`
	Categories int `json:"categories"`
	LogLines   int `json:"log_lines"`
}

// Stats counts records, distinct devices, and attached log volume.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Events: len(s.byID), Devices: len(s.byIP)}
	for _, record := range s.byID {
		st.Categories += len(record.CategorisedLogs)
		for _, lines := range record.CategorisedLogs {
			st.LogLines += len(lines)
		}
	}
	return st
}

// Summary is one row of the status listing.
type Summary struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	Datetime   time.Time `json:"datetime"`
	ErrorCode  string    `json:"error_code"`
	ErrorClass string    `json:"error_class"`
	Categories int       `json:"categories"`
	LogLines   int       `json:"log_lines"`
}

// List returns a summary per record, newest first.
func (s *Store) List() []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.byID))
	for _, record := range s.byID {
		lines := 0
		for _, ls := range record.CategorisedLogs {
			lines += len(ls)
		}
		out = append(out, Summary{
			ID:         record.ID,
			IP:         record.IP,
			Datetime:   record.Datetime,
			ErrorCode:  record.ErrorCode,
			ErrorClass: record.ErrorClass,
			Categories: len(record.CategorisedLogs),
			LogLines:   lines,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Datetime.After(out[j].Datetime) })
	return out
}

// ByDevice returns copies of all records for one device address, ordered by
// fault timestamp.
func (s *Store) ByDevice(ip string) []*EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTime, ok := s.byIP[ip]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(byTime))
	for dts := range byTime {
		keys = append(keys, dts)
	}
	sort.Strings(keys)

	var out []*EventRecord
	for _, dts := range keys {
		for _, record := range byTime[dts] {
			out = append(out, record.clone())
		}
	}
	return out
}
