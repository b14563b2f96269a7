// Package ops exposes the operational HTTP surface: event ingestion for
// testing and tooling, dead letter inspection and replay, delivery
// controls, stats, health and prometheus metrics.
package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidehook/tidehook/internal/engine"
	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/storage"
)

// Server wires the engine into an HTTP API.
type Server struct {
	eng    *engine.Engine
	subs   storage.SubscriptionStore
	health http.HandlerFunc
	reg    *prometheus.Registry
	log    *logging.Logger
}

// NewServer creates the ops server. health may be nil to disable the
// backend checks on /healthz.
func NewServer(eng *engine.Engine, subs storage.SubscriptionStore, health http.HandlerFunc, reg *prometheus.Registry, log *logging.Logger) *Server {
	if log == nil {
		log = logging.New("tidehook-ops")
	}
	return &Server{eng: eng, subs: subs, health: health, reg: reg, log: log}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	if s.health != nil {
		r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	}
	if s.reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/v1/events", s.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/v1/events/batch", s.handlePublishBatch).Methods(http.MethodPost)
	r.HandleFunc("/v1/deliveries/{id}/retry", s.handleRetry).Methods(http.MethodPost)
	r.HandleFunc("/v1/deliveries/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/v1/dlq", s.handleListDLQ).Methods(http.MethodGet)
	r.HandleFunc("/v1/dlq/{id}/replay", s.handleReplayDLQ).Methods(http.MethodPost)
	r.HandleFunc("/v1/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/breakers", s.handleBreakers).Methods(http.MethodGet)
	r.HandleFunc("/v1/subscriptions/{id}/verify", s.handleVerify).Methods(http.MethodPost)
	return r
}

type eventRequest struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

func (r eventRequest) toEvent() (hook.Event, error) {
	if r.Type == "" {
		return hook.Event{}, errors.New("type is required")
	}
	ev := hook.Event{ID: r.ID, Type: r.Type, Data: r.Data, Timestamp: time.Now()}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if r.Timestamp != nil {
		ev.Timestamp = *r.Timestamp
	}
	return ev, nil
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.eng.ProcessEvent(r.Context(), ev)
	if err != nil {
		s.log.WithEvent(r.Context(), ev.ID).WithError(err).Error("event processing failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_id":   ev.ID,
		"deliveries": results,
	})
}

func (s *Server) handlePublishBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []eventRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	events := make([]hook.Event, 0, len(reqs))
	for _, req := range reqs {
		ev, err := req.toEvent()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		events = append(events, ev)
	}
	results, err := s.eng.ProcessBatch(r.Context(), events)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("batch processing failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"events":     len(events),
		"deliveries": results,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.eng.RetryDelivery(r.Context(), id)
	if errors.Is(err, hook.ErrNotFound) {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.eng.CancelDelivery(r.Context(), id)
	if errors.Is(err, hook.ErrNotFound) {
		writeError(w, http.StatusNotFound, "delivery not found or already terminal")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"delivery_id": id, "status": "cancelled"})
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.eng.ListDeadLetter(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := s.eng.ReplayDeadLetter(r.Context(), id)
	if errors.Is(err, hook.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": id, "delivered": ok})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var start, end time.Time
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be RFC3339")
			return
		}
		start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be RFC3339")
			return
		}
		end = t
	}
	m, err := s.eng.GetMetrics(r.Context(), q.Get("subscription_id"), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.BreakerStats())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, err := s.subs.Get(r.Context(), id)
	if errors.Is(err, hook.ErrNotFound) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok, err := s.eng.VerifyEndpoint(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscription_id": id, "verified": ok})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
