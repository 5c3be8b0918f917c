// Package streambustest provides a no-op Bus for composing test doubles:
// embed NopBus and override only the calls a test cares about.
package streambustest

import (
	"context"
	"time"

	"github.com/ragline/delivery-service/internal/adapter/streambus"
	"github.com/ragline/delivery-service/internal/domain/event"
)

// Interface guard
var _ streambus.Bus = (*NopBus)(nil)

type NopBus struct{}

func (NopBus) Append(context.Context, event.Topic, *event.Envelope) (string, error) {
	return "", nil
}

func (NopBus) Read(context.Context, string, string, []event.Topic, int, time.Duration) ([]streambus.Entry, error) {
	return nil, nil
}

func (NopBus) Ack(context.Context, string, event.Topic, string) error { return nil }

func (NopBus) Pending(context.Context, string, event.Topic) ([]streambus.PendingInfo, error) {
	return nil, nil
}

func (NopBus) ClaimStale(context.Context, string, string, event.Topic, time.Duration, int) ([]streambus.Entry, error) {
	return nil, nil
}

func (NopBus) Replay(context.Context, event.Topic, string, int) ([]streambus.Entry, error) {
	return nil, nil
}

func (NopBus) DeadLetter(context.Context, event.Topic, *event.Envelope, string, int, string) (string, error) {
	return "", nil
}

func (NopBus) DLQList(context.Context, event.Topic, int) ([]streambus.DLQEntry, error) {
	return nil, nil
}

func (NopBus) DLQDepth(context.Context, event.Topic) (int64, error) { return 0, nil }

func (NopBus) DLQRemove(context.Context, event.Topic, string) error { return nil }

func (NopBus) Trim(context.Context, event.Topic, time.Duration) error { return nil }
