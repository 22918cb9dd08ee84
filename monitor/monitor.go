// Package monitor exposes the read-only operational endpoints of the
// admission layer: live traffic statistics, detection history, and active
// sessions. All handlers are pure reads over the ledgers and carry no side
// effects; the paths are exempt from rate limiting and bot filtering.
package monitor

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/riskregister/gatekit/apierror"
	"github.com/riskregister/gatekit/ledger"
	"github.com/riskregister/gatekit/session"
	"github.com/riskregister/gatekit/traffic"
)

const recentEvents = 50

// Handler serves the monitoring endpoints.
type Handler struct {
	tracker    *session.Tracker
	detections *ledger.Ring
	history    *ledger.Ring
	stats      *traffic.Aggregator
}

// New creates a Handler over the given stores.
func New(tracker *session.Tracker, detections, history *ledger.Ring, stats *traffic.Aggregator) *Handler {
	return &Handler{
		tracker:    tracker,
		detections: detections,
		history:    history,
		stats:      stats,
	}
}

// Routes returns the monitor router, meant to be mounted at /monitor.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/traffic", h.traffic)
	r.Get("/detections", h.detectionHistory)
	r.Get("/sessions", h.sessions)
	return r
}

func (h *Handler) traffic(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, h.stats.Stats())
}

type detectionsResponse struct {
	Recent         []ledger.Event           `json:"recent"`
	Summary        map[ledger.EventType]int `json:"summary"`
	TopOffenders   []ledger.Offender        `json:"top_offenders"`
	History        []ledger.Event           `json:"session_history"`
	HistorySummary map[ledger.EventType]int `json:"session_summary"`
}

func (h *Handler) detectionHistory(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, detectionsResponse{
		Recent:         h.detections.Recent(recentEvents),
		Summary:        h.detections.Summary(),
		TopOffenders:   h.detections.TopOffenders(10),
		History:        h.history.Recent(recentEvents),
		HistorySummary: h.history.Summary(),
	})
}

type sessionsResponse struct {
	ActiveIdentities int                        `json:"active_identities"`
	Identities       []session.IdentitySessions `json:"identities"`
}

func (h *Handler) sessions(w http.ResponseWriter, _ *http.Request) {
	apierror.WriteJSON(w, http.StatusOK, sessionsResponse{
		ActiveIdentities: h.tracker.ActiveIdentities(),
		Identities:       h.tracker.Snapshot(),
	})
}
