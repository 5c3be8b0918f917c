// Package admin exposes the operational surface: DLQ inspection and
// reprocessing, registry stats, and manual circuit control.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/pkg/breaker"
	"github.com/ragline/delivery-service/internal/service"
)

type AdminHandler struct {
	logger   *slog.Logger
	dlq      *service.DLQManager
	delivery service.Deliverer
	breakers *breaker.Manager
}

func NewAdminHandler(logger *slog.Logger, dlq *service.DLQManager, delivery service.Deliverer, breakers *breaker.Manager) *AdminHandler {
	return &AdminHandler{
		logger:   logger.With("component", "admin"),
		dlq:      dlq,
		delivery: delivery,
		breakers: breakers,
	}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/dlq/alerts", h.alerts)
		r.Get("/dlq/{topic}", h.listDLQ)
		r.Post("/dlq/{topic}/reprocess", h.reprocess)
		r.Get("/registry", h.registryStats)
		r.Get("/circuits", h.circuits)
		r.Post("/circuits/{name}/open", h.openCircuit)
		r.Post("/circuits/{name}/close", h.closeCircuit)
	})
}

func (h *AdminHandler) listDLQ(w http.ResponseWriter, r *http.Request) {
	topic := event.Topic(chi.URLParam(r, "topic"))

	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	entries, err := h.dlq.List(r.Context(), topic, count)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"topic": topic, "entries": entries})
}

type reprocessRequest struct {
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	All       bool   `json:"all,omitempty"`
}

func (h *AdminHandler) reprocess(w http.ResponseWriter, r *http.Request) {
	topic := event.Topic(chi.URLParam(r, "topic"))

	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	switch {
	case req.ID != "":
		if err := h.dlq.Reprocess(r.Context(), topic, req.ID); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Info("ADMIN_DLQ_REPROCESS", "topic", topic, "id", req.ID)
		writeJSON(w, map[string]any{"reprocessed": 1})

	case req.EventType != "" || req.All:
		var match func(streambus.DLQEntry) bool
		if req.EventType != "" {
			match = func(e streambus.DLQEntry) bool {
				return e.Envelope != nil && e.Envelope.EventType == req.EventType
			}
		}
		moved, err := h.dlq.ReprocessMatching(r.Context(), topic, match)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Info("ADMIN_DLQ_REPROCESS_BATCH", "topic", topic, "moved", moved)
		writeJSON(w, map[string]any{"reprocessed": moved})

	default:
		http.Error(w, "one of id, event_type or all is required", http.StatusBadRequest)
	}
}

func (h *AdminHandler) alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"alerts": h.dlq.Alerts()})
}

func (h *AdminHandler) registryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.delivery.Stats())
}

func (h *AdminHandler) circuits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.breakers.States())
}

func (h *AdminHandler) openCircuit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	b := h.breakers.GetOrCreate(name)
	b.ForceOpen()
	writeJSON(w, map[string]string{"name": name, "state": b.State()})
}

func (h *AdminHandler) closeCircuit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	b, err := h.breakers.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	b.Reset()
	writeJSON(w, map[string]string{"name": name, "state": b.State()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
