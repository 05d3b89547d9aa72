package ingestion

import (
	"context"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// RouterInterface defines the interface for the event router
type RouterInterface interface {
	// Register registers a handler for an event type
	Register(eventType model.EventType, handler EventHandler)

	// RegisterDefault registers a default handler for unknown event types
	RegisterDefault(handler EventHandler)

	// EventTypeFor resolves the event type bound to a subject
	EventTypeFor(subject string) (model.EventType, bool)

	// Route routes an event to the appropriate handler
	Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error
}

// ConsumerInterface defines the interface for a broker consumer
type ConsumerInterface interface {
	// Setup registers the consumer's topology and subscription with the connection
	Setup() error

	// Start begins connecting and consuming in the background
	Start() error

	// Stop drains subscriptions and closes the connection
	Stop()

	// Status reports the consumer state
	Status() ConsumerStatus
}

var (
	_ RouterInterface   = (*Router)(nil)
	_ ConsumerInterface = (*QueueConsumer)(nil)
)
