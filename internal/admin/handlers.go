package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iwplog/iwplogd/internal/logger"
	"github.com/iwplog/iwplogd/pkg/events"
	"github.com/iwplog/iwplogd/pkg/vfs"
)

// statusHandler serves the diagnostics endpoints from the live store and
// filesystem.
type statusHandler struct {
	store     *events.Store
	fs        *vfs.FS
	startTime time.Time
}

func newStatusHandler(store *events.Store, fs *vfs.FS) *statusHandler {
	return &statusHandler{store: store, fs: fs, startTime: time.Now()}
}

// livenessResponse is the GET /healthz body.
type livenessResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Liveness handles GET /healthz. It succeeds whenever the process is
// serving requests.
func (h *statusHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	writeJSON(w, http.StatusOK, livenessResponse{
		Status:    "ok",
		Service:   "iwplogd",
		StartedAt: h.startTime.UTC().Format(time.RFC3339),
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	})
}

// statusResponse is the GET /api/status body.
type statusResponse struct {
	Events     events.Stats `json:"events"`
	Filesystem vfs.Stats    `json:"filesystem"`
	Uptime     string       `json:"uptime"`
}

// Status handles GET /api/status with store and filesystem counters.
func (h *statusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Events:     h.store.Stats(),
		Filesystem: h.fs.Stats(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	})
}

// eventsResponse is the GET /api/events body.
type eventsResponse struct {
	Count  int              `json:"count"`
	Events []events.Summary `json:"events"`
}

// Events handles GET /api/events, newest first.
func (h *statusHandler) Events(w http.ResponseWriter, r *http.Request) {
	list := h.store.List()
	writeJSON(w, http.StatusOK, eventsResponse{Count: len(list), Events: list})
}

// eventResponse is the GET /api/events/{id} body.
type eventResponse struct {
	ID              string              `json:"id"`
	IP              string              `json:"ip"`
	Datetime        time.Time           `json:"datetime"`
	Text            string              `json:"text"`
	ErrorCode       string              `json:"error_code"`
	ErrorClass      string              `json:"error_class"`
	CreatedAt       time.Time           `json:"created_at"`
	GeneralLogs     []string            `json:"general_logs"`
	CategorisedLogs map[string][]string `json:"categorised_logs"`
}

// Event handles GET /api/events/{id} with the full record.
func (h *statusHandler) Event(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, eventResponse{
		ID:              record.ID,
		IP:              record.IP,
		Datetime:        record.Datetime,
		Text:            record.Text,
		ErrorCode:       record.ErrorCode,
		ErrorClass:      record.ErrorClass,
		CreatedAt:       record.CreatedAt,
		GeneralLogs:     record.GeneralLogs,
		CategorisedLogs: record.CategorisedLogs,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("admin response write failed", logger.Err(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
