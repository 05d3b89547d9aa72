package handler

import (
	"context"
	"fmt"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"go.uber.org/zap"
)

// QueueHandler decodes machine-queue messages and hands them to the feedback service.
type QueueHandler struct {
	service QueueService
}

// NewQueueHandler creates a new machine-queue event handler
func NewQueueHandler(service QueueService) *QueueHandler {
	return &QueueHandler{service: service}
}

// HandleEvent processes a machine-queue event
func (h *QueueHandler) HandleEvent(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
	log := logger.FromContext(ctx)

	if eventType != model.MachineQueueUpdate {
		log.Error("Unsupported queue event type", zap.String("eventType", string(eventType)))
		return apperrors.NewFatal(fmt.Errorf("unsupported queue event type: %s", eventType), "unsupported queue event type")
	}

	evt, err := model.DecodeQueueMessage(rawEvent)
	if err != nil {
		log.Warn("Rejected machine queue payload", zap.Error(err))
		return err
	}

	log = log.With(
		zap.String("queue_id", evt.QueueID),
		zap.String("batch_id", evt.BatchID),
		zap.String("queue_status", evt.Status),
	)
	ctx = logger.WithLogger(ctx, log)

	res, err := h.service.HandleQueueEvent(ctx, evt)
	if err != nil {
		return err
	}

	if !res.Applied {
		log.Info("Queue event not applied", zap.String("reason", res.Message))
		return nil
	}
	fields := []zap.Field{zap.Bool("changed", res.Delta.Changed)}
	if res.Record != nil {
		fields = append(fields, zap.String("feedback_id", res.Record.FeedbackID), zap.String("status", string(res.Record.Status)))
	}
	log.Info("Queue event applied", fields...)
	return nil
}
