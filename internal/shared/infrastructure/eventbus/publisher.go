// Package eventbus carries domain events between the API process and the
// lifecycle worker over a RabbitMQ topic exchange. An in-process bus stands
// in for the broker in local mode and in tests.
package eventbus

import "context"

// Publisher defines the interface for publishing events to a message broker.
type Publisher interface {
	// Publish sends a message to the event bus.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}
