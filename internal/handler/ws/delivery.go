package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ragline/delivery-service/infra/auth"
	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
	wsmarshaller "github.com/ragline/delivery-service/internal/handler/marshaller/ws"
	"github.com/ragline/delivery-service/internal/service"
)

const writeTimeout = 5 * time.Second

// WSHandler serves the bidirectional socket endpoints. All writes happen on
// one goroutine; the read pump forwards control traffic through a channel.
type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
	heartbeat func(string) time.Duration
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, heartbeat func(string) time.Duration) *WSHandler {
	return &WSHandler{
		logger:    logger.With("component", "ws"),
		deliverer: deliverer,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) Register(r chi.Router) {
	r.Get("/ws", h.serve("general", event.Topics()))
	r.Get("/ws/orders", h.serve("orders", []event.Topic{event.TopicOrders}))
}

// control is what the read pump hands to the writer goroutine.
type control struct {
	frame  *wsmarshaller.ClientFrame
	closed bool
}

func (h *WSHandler) serve(channelName string, topics []event.Topic) http.HandlerFunc {
	interval := h.heartbeat(channelName)

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("WS_UPGRADE_FAILED", "err", err)
			return
		}
		defer ws.Close()

		conn, claims, err := h.deliverer.Subscribe(r.Context(), service.SubscribeRequest{
			Credential: auth.CredentialFromRequest(r),
			Protocol:   registry.ProtocolSocket,
			Topics:     topics,
		})
		if err != nil {
			h.closeWith(ws, registry.ClosePolicy, "credential rejected")
			return
		}
		defer h.deliverer.Unsubscribe(conn.GetTenantID(), conn.GetID(), registry.CloseReason{
			Code: registry.CloseNormal, Reason: "socket closed",
		})

		l := h.logger.With(
			"tenant_id", conn.GetTenantID(),
			"conn_id", conn.GetID(),
		)
		l.Info("WS_OPENED", "channel", channelName)

		// lastPong is shared between the pong handler (read pump goroutine)
		// and the liveness check (writer goroutine).
		var lastPong atomic.Int64
		lastPong.Store(time.Now().UnixNano())
		ws.SetPongHandler(func(string) error {
			lastPong.Store(time.Now().UnixNano())
			conn.Touch()
			return nil
		})

		controls := make(chan control, 8)
		go h.readPump(ws, conn, controls, l)

		heartbeat := time.NewTicker(interval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return

			case <-conn.Done():
				info := conn.CloseInfo()
				l.Info("WS_CLOSED_BY_SERVER", "code", info.Code, "reason", info.Reason)
				h.closeWith(ws, info.Code, info.Reason)
				return

			case c := <-controls:
				if c.closed {
					return
				}
				if !h.handleControl(r, ws, conn, c.frame, topics, l) {
					return
				}

			case <-heartbeat.C:
				if claims.Expired(time.Now()) {
					// Credential expiry disconnects at the heartbeat
					// boundary; the client re-authenticates on reconnect.
					l.Info("WS_CREDENTIAL_EXPIRED")
					h.closeWith(ws, registry.ClosePolicy, "credential expired")
					return
				}
				if time.Since(time.Unix(0, lastPong.Load())) > service.HeartbeatDeadline(interval) {
					l.Warn("WS_LIVENESS_TIMEOUT")
					h.closeWith(ws, registry.CloseLiveness, "missed pong")
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}

			case d := <-conn.Recv():
				data, err := wsmarshaller.MarshallDelivery(d)
				if err != nil {
					l.Error("WS_MARSHAL_FAILED", "err", err, "event_id", d.Envelope.EventID)
					continue
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					l.Warn("WS_SEND_FAILED", "err", err)
					return
				}
				conn.MarkDelivered(d.Topic, d.StreamID)
			}
		}
	}
}

// readPump parses client control frames until the peer disappears.
func (h *WSHandler) readPump(ws *websocket.Conn, conn registry.Connector, controls chan<- control, l *slog.Logger) {
	defer func() {
		select {
		case controls <- control{closed: true}:
		default:
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Warn("WS_READ_FAILED", "err", err)
			}
			return
		}
		conn.Touch()

		frame, err := wsmarshaller.ParseClientFrame(data)
		if err != nil {
			l.Warn("WS_BAD_FRAME", "err", err)
			frame = &wsmarshaller.ClientFrame{Type: "invalid"}
		}
		controls <- control{frame: frame}
	}
}

// handleControl executes one client frame on the writer goroutine. Returns
// false when the connection must end.
func (h *WSHandler) handleControl(
	r *http.Request,
	ws *websocket.Conn,
	conn registry.Connector,
	frame *wsmarshaller.ClientFrame,
	topics []event.Topic,
	l *slog.Logger,
) bool {
	var (
		reply []byte
		err   error
	)

	switch frame.Type {
	case wsmarshaller.ClientSubscribe:
		conn.Subscribe(frame.Filters...)
		if frame.LastEventID != "" {
			for _, t := range topics {
				if rerr := h.deliverer.Replay(r.Context(), conn, t, frame.LastEventID); rerr != nil {
					l.Error("WS_REPLAY_FAILED", "topic", t, "err", rerr)
					if errors.Is(rerr, event.ErrQueueOverflow) {
						return false
					}
				}
			}
		}
		return true

	case wsmarshaller.ClientUnsubscribe:
		conn.Unsubscribe(frame.Filters...)
		return true

	case wsmarshaller.ClientPing:
		reply, err = wsmarshaller.MarshallPong()

	case wsmarshaller.ClientStats:
		reply, err = wsmarshaller.MarshallStats(map[string]any{
			"conn_id":     conn.GetID(),
			"queue_depth": conn.QueueLen(),
			"dropped":     conn.Dropped(),
		})

	default:
		reply, err = wsmarshaller.MarshallError("unknown control frame")
	}

	if err != nil {
		l.Error("WS_MARSHAL_FAILED", "err", err)
		return true
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, reply); err != nil {
		return false
	}
	return true
}

func (h *WSHandler) closeWith(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = ws.WriteMessage(websocket.CloseMessage, msg)
}
