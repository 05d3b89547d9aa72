package handler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion/handler"
	handlermock "gitlab.com/timkado/api/production-feedback-service/internal/ingestion/handler/mock"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

func queueMetadata() *model.MessageMetadata {
	return &model.MessageMetadata{
		MessageID:      "msg-1",
		MessageSubject: "machine_queue_updates",
		CompanyID:      "tenant-1",
		StreamSequence: 1,
	}
}

func TestQueueHandler_AppliesDecodedEvent(t *testing.T) {
	service := new(handlermock.QueueServiceMock)
	h := handler.NewQueueHandler(service)
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	raw := []byte(`{"queueId":"Q-1","batchId":"B-1","status":"in_progress","completedQuantity":40}`)
	service.On("HandleQueueEvent", mock.Anything, mock.MatchedBy(func(evt model.QueueEvent) bool {
		return evt.QueueID == "Q-1" && evt.BatchID == "B-1" && evt.Status == "in_progress" &&
			evt.CompletedQuantity != nil && *evt.CompletedQuantity == 40
	})).Return(&model.TransitionResult{
		Record:  &model.FeedbackRecord{FeedbackID: "FB-1", Status: model.StatusInProduction},
		Delta:   model.TransitionDelta{Changed: true},
		Applied: true,
	}, nil).Once()

	require.NoError(t, h.HandleEvent(ctx, model.MachineQueueUpdate, queueMetadata(), raw))
	service.AssertExpectations(t)
}

func TestQueueHandler_RejectsMalformedPayload(t *testing.T) {
	service := new(handlermock.QueueServiceMock)
	h := handler.NewQueueHandler(service)
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{"queueId":`},
		{name: "missing queue id", raw: `{"batchId":"B-1","status":"completed"}`},
		{name: "negative quantity", raw: `{"queueId":"Q-1","batchId":"B-1","status":"completed","quantity":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.HandleEvent(ctx, model.MachineQueueUpdate, queueMetadata(), []byte(tt.raw))
			assert.ErrorIs(t, err, apperrors.ErrInvalidEvent)
		})
	}
	service.AssertNotCalled(t, "HandleQueueEvent", mock.Anything, mock.Anything)
}

func TestQueueHandler_UnsupportedEventType(t *testing.T) {
	h := handler.NewQueueHandler(new(handlermock.QueueServiceMock))
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	err := h.HandleEvent(ctx, model.EventType("other"), queueMetadata(), []byte(`{}`))
	assert.True(t, apperrors.IsFatal(err))
}

func TestQueueHandler_PropagatesServiceError(t *testing.T) {
	service := new(handlermock.QueueServiceMock)
	h := handler.NewQueueHandler(service)
	ctx := logger.WithLogger(context.Background(), zaptest.NewLogger(t))

	dbErr := apperrors.NewRetryable(errors.New("connection reset"), "apply queue event")
	service.On("HandleQueueEvent", mock.Anything, mock.Anything).Return(nil, dbErr).Once()

	err := h.HandleEvent(ctx, model.MachineQueueUpdate, queueMetadata(),
		[]byte(`{"queueId":"Q-1","batchId":"B-1","status":"completed"}`))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestQueueHandler_LogsIgnoredEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	service := new(handlermock.QueueServiceMock)
	h := handler.NewQueueHandler(service)
	ctx := logger.WithLogger(context.Background(), zap.New(core))

	service.On("HandleQueueEvent", mock.Anything, mock.Anything).Return(&model.TransitionResult{
		Applied: false,
		Message: "unmapped queue status",
	}, nil).Once()

	require.NoError(t, h.HandleEvent(ctx, model.MachineQueueUpdate, queueMetadata(),
		[]byte(`{"queueId":"Q-1","batchId":"B-1","status":"paused"}`)))

	entries := logs.FilterMessage("Queue event not applied").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unmapped queue status", entries[0].ContextMap()["reason"])
	assert.Equal(t, "B-1", entries[0].ContextMap()["batch_id"])
}
