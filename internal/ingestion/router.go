package ingestion

import (
	"context"
	"sync"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
	"go.uber.org/zap"
)

// EventHandler defines a function that processes events
type EventHandler func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error

// Router routes broker messages to the handler bound to their event type
type Router struct {
	mu sync.RWMutex
	// Map of broker subject to event type
	subjects map[string]model.EventType
	// Map of event type to handler
	handlers map[model.EventType]EventHandler
	// Default handler for subjects without a binding
	defaultHandler EventHandler
}

// NewRouter creates a new event router
func NewRouter() *Router {
	return &Router{
		subjects: make(map[string]model.EventType),
		handlers: make(map[model.EventType]EventHandler),
	}
}

// Bind maps a broker subject onto an event type.
func (r *Router) Bind(subject string, eventType model.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects[subject] = eventType
}

// Register registers a handler for an event type
func (r *Router) Register(eventType model.EventType, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

// RegisterDefault registers a default handler for unknown event types
func (r *Router) RegisterDefault(handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = handler
}

// EventTypeFor resolves the event type bound to a subject.
func (r *Router) EventTypeFor(subject string) (model.EventType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eventType, ok := r.subjects[subject]
	return eventType, ok
}

// Route routes an event to the appropriate handler. A panicking handler is
// reported as an error.
func (r *Router) Route(ctx context.Context, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx).With(
		zap.String("subject", metadata.MessageSubject),
		zap.String("event_id", metadata.MessageID),
		zap.String("company_id", metadata.CompanyID),
	)
	ctx = logger.WithLogger(ctx, log)

	if metadata.CompanyID != "" {
		ctx = tenant.WithCompanyID(ctx, metadata.CompanyID)
	}

	eventType, found := r.EventTypeFor(metadata.MessageSubject)
	if !found {
		log.Warn("Could not map subject to a known event type")
	}

	log.Debug("Event received",
		zap.String("event_type", string(eventType)),
		zap.Int("payload_bytes", len(rawEvent)),
	)

	r.mu.RLock()
	handler, ok := r.handlers[eventType]
	defaultHandler := r.defaultHandler
	r.mu.RUnlock()

	if !ok && defaultHandler != nil {
		log.Warn("No specific handler for event type, using default")
		return defaultHandler(ctx, eventType, metadata, rawEvent)
	} else if !ok {
		log.Error("No handler registered for event type")
		return nil
	}

	return utils.WrapWithContextRecovery(func(ctx context.Context) error {
		return handler(ctx, eventType, metadata, rawEvent)
	})(ctx)
}
