// Package ssemarshaller frames envelopes for the one-way event stream:
// an id line carrying the resumable bus cursor, the event name, and the
// envelope as a single data line.
package ssemarshaller

import (
	"bytes"
	"fmt"

	"github.com/ragline/delivery-service/internal/domain/registry"
)

// MarshallDelivery renders one delivery as a wire frame:
//
//	id: <stream id>
//	event: <event type>
//	data: <envelope json>
//
// followed by the blank separator line.
func MarshallDelivery(d registry.Delivery) ([]byte, error) {
	payload, err := d.Envelope.Marshal()
	if err != nil {
		return nil, fmt.Errorf("sse marshal: %w", err)
	}

	var buf bytes.Buffer
	if d.StreamID != "" {
		fmt.Fprintf(&buf, "id: %s\n", d.StreamID)
	}
	fmt.Fprintf(&buf, "event: %s\n", d.Envelope.EventType)
	fmt.Fprintf(&buf, "data: %s\n\n", payload)
	return buf.Bytes(), nil
}

// Heartbeat renders the periodic keep-alive comment line.
func Heartbeat(ts string) []byte {
	return []byte(fmt.Sprintf(": heartbeat %s\n\n", ts))
}
