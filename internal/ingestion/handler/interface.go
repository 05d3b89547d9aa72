package handler

import (
	"context"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// EventHandlerInterface defines the common interface for event handlers
type EventHandlerInterface interface {
	// HandleEvent processes an event
	HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error
}

// QueueService applies decoded machine-queue events.
type QueueService interface {
	HandleQueueEvent(ctx context.Context, evt model.QueueEvent) (*model.TransitionResult, error)
}

var _ EventHandlerInterface = (*QueueHandler)(nil)
