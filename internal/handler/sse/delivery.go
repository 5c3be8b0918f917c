package sse

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ragline/delivery-service/infra/auth"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
	ssemarshaller "github.com/ragline/delivery-service/internal/handler/marshaller/sse"
	"github.com/ragline/delivery-service/internal/service"
)

// channel groups an endpoint with its topics and heartbeat cadence.
type channel struct {
	name      string
	topics    []event.Topic
	heartbeat time.Duration
}

// SSEHandler serves the one-way event stream endpoints. The client sends
// nothing after the request; recovery works through the id line and the
// Last-Event-ID header on reconnect.
type SSEHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	channels  map[string]channel
}

func NewSSEHandler(logger *slog.Logger, deliverer service.Deliverer, heartbeat func(string) time.Duration) *SSEHandler {
	return &SSEHandler{
		logger:    logger.With("component", "sse"),
		deliverer: deliverer,
		channels: map[string]channel{
			"general":       {name: "general", topics: event.Topics(), heartbeat: heartbeat("general")},
			"orders":        {name: "orders", topics: []event.Topic{event.TopicOrders}, heartbeat: heartbeat("orders")},
			"notifications": {name: "notifications", topics: []event.Topic{event.TopicNotifications}, heartbeat: heartbeat("notifications")},
		},
	}
}

func (h *SSEHandler) Register(r chi.Router) {
	r.Get("/stream", h.serve("general"))
	r.Get("/stream/orders", h.serve("orders"))
	r.Get("/stream/notifications", h.serve("notifications"))
}

func (h *SSEHandler) serve(channelName string) http.HandlerFunc {
	ch := h.channels[channelName]

	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		req := service.SubscribeRequest{
			Credential:  auth.CredentialFromRequest(r),
			Protocol:    registry.ProtocolStream,
			Filters:     parseFilters(r),
			Topics:      ch.topics,
			LastEventID: replayCursors(r, ch.topics),
		}

		conn, claims, err := h.deliverer.Subscribe(r.Context(), req)
		if err != nil {
			h.logger.Warn("SSE_HANDSHAKE_REJECTED", "channel", ch.name, "err", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		defer h.deliverer.Unsubscribe(conn.GetTenantID(), conn.GetID(), registry.CloseReason{
			Code: registry.CloseNormal, Reason: "stream closed",
		})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		h.logger.Info("SSE_OPENED",
			"channel", ch.name,
			"tenant_id", conn.GetTenantID(),
			"conn_id", conn.GetID(),
		)

		heartbeat := time.NewTicker(ch.heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return

			case <-conn.Done():
				// Overflow or eviction already recorded the reason; the
				// stream simply ends and the client reconnects with its
				// Last-Event-ID cursor.
				h.logger.Info("SSE_CLOSED_BY_SERVER",
					"conn_id", conn.GetID(),
					"code", conn.CloseInfo().Code,
					"reason", conn.CloseInfo().Reason,
				)
				return

			case <-heartbeat.C:
				if claims.Expired(time.Now()) {
					h.logger.Info("SSE_CREDENTIAL_EXPIRED", "conn_id", conn.GetID())
					return
				}
				if _, err := w.Write(ssemarshaller.Heartbeat(time.Now().UTC().Format(time.RFC3339))); err != nil {
					return
				}
				flusher.Flush()

			case d := <-conn.Recv():
				data, err := ssemarshaller.MarshallDelivery(d)
				if err != nil {
					h.logger.Error("SSE_MARSHAL_FAILED", "err", err, "event_id", d.Envelope.EventID)
					continue
				}
				if _, err := w.Write(data); err != nil {
					h.logger.Warn("SSE_WRITE_FAILED", "conn_id", conn.GetID(), "err", err)
					return
				}
				conn.MarkDelivered(d.Topic, d.StreamID)
				flusher.Flush()
			}
		}
	}
}

func parseFilters(r *http.Request) []string {
	raw := r.URL.Query().Get("filters")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	filters := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			filters = append(filters, p)
		}
	}
	return filters
}

// replayCursors honors the standard Last-Event-ID reconnect header (or the
// query fallback) for every topic of the channel.
func replayCursors(r *http.Request, topics []event.Topic) map[event.Topic]string {
	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = r.URL.Query().Get("last_event_id")
	}
	if cursor == "" {
		return nil
	}

	cursors := make(map[event.Topic]string, len(topics))
	for _, t := range topics {
		cursors[t] = cursor
	}
	return cursors
}
