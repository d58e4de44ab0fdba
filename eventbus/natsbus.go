package eventbus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nohuiam/synapse-relay/errors"
	"github.com/nohuiam/synapse-relay/natsclient"
)

// NATSBus is a Bus backed by a shared NATS connection, for deployments
// running several relay nodes that want engine events visible node-wide.
// It is additive: the engine is constructed with whichever Bus it's given
// and does not know which implementation backs it.
type NATSBus struct {
	client *natsclient.Client
}

// NewNATSBus wraps an already-connected natsclient.Client.
func NewNATSBus(client *natsclient.Client) *NATSBus {
	return &NATSBus{client: client}
}

// canonicalSubject maps a colon-delimited topic pattern onto a NATS
// subject: "relay:sent" -> "relay.sent", "relay:*" -> "relay.*", the
// global wildcard "*" -> NATS's own multi-level wildcard ">".
func canonicalSubject(topic string) string {
	if topic == "*" {
		return ">"
	}
	return strings.ReplaceAll(topic, ":", ".")
}

// Publish JSON-encodes event and publishes it to topic's canonical subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "eventbus", "Publish", "marshal event")
	}
	if err := b.client.Publish(ctx, canonicalSubject(topic), data); err != nil {
		return errors.WrapTransient(err, "eventbus", "Publish", "nats publish")
	}
	return nil
}

// Subscribe registers handler on pattern's canonical subject. The returned
// unsubscribe function is a no-op: the underlying natsclient.Client does
// not expose per-subscription teardown, only a bulk Close; callers that
// need to stop receiving should tear down the whole bus on shutdown.
func (b *NATSBus) Subscribe(ctx context.Context, pattern string, handler func(Event)) (func(), error) {
	subject := canonicalSubject(pattern)
	err := b.client.Subscribe(ctx, subject, func(_ context.Context, data []byte) {
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "eventbus", "Subscribe", "nats subscribe")
	}
	return func() {}, nil
}

// Close closes the underlying NATS connection.
func (b *NATSBus) Close() error {
	return b.client.Close(context.Background())
}
