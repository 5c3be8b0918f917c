// Package wsmarshaller defines the JSON frames of the bidirectional socket.
package wsmarshaller

import (
	"encoding/json"
	"fmt"

	"github.com/ragline/delivery-service/internal/domain/event"
	"github.com/ragline/delivery-service/internal/domain/registry"
)

// Client control frame types.
const (
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
	ClientPing        = "ping"
	ClientStats       = "stats"
)

// Server frame types.
const (
	ServerEvent = "event"
	ServerPong  = "pong"
	ServerStats = "stats"
	ServerError = "error"
)

// ClientFrame is anything the client may send after the handshake.
type ClientFrame struct {
	Type    string   `json:"type"`
	Filters []string `json:"filters,omitempty"`
	// LastEventID asks for replay of retained entries after this bus id on
	// every topic the subscription covers.
	LastEventID string `json:"last_event_id,omitempty"`
}

// ServerFrame is the single envelope for all server-to-client messages.
type ServerFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event *event.Envelope `json:"event,omitempty"`
	Stats any             `json:"stats,omitempty"`
	Error string          `json:"error,omitempty"`
}

func ParseClientFrame(data []byte) (*ClientFrame, error) {
	f := new(ClientFrame)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("ws frame: %w", err)
	}
	switch f.Type {
	case ClientSubscribe, ClientUnsubscribe, ClientPing, ClientStats:
		return f, nil
	default:
		return nil, fmt.Errorf("ws frame: unknown type %q", f.Type)
	}
}

func MarshallDelivery(d registry.Delivery) ([]byte, error) {
	return json.Marshal(&ServerFrame{
		Type:  ServerEvent,
		ID:    d.StreamID,
		Event: d.Envelope,
	})
}

func MarshallPong() ([]byte, error) {
	return json.Marshal(&ServerFrame{Type: ServerPong})
}

func MarshallStats(stats any) ([]byte, error) {
	return json.Marshal(&ServerFrame{Type: ServerStats, Stats: stats})
}

func MarshallError(msg string) ([]byte, error) {
	return json.Marshal(&ServerFrame{Type: ServerError, Error: msg})
}
