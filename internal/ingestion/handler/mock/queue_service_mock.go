package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion/handler"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// QueueServiceMock is a mock implementation of handler.QueueService
type QueueServiceMock struct {
	mock.Mock
}

var _ handler.QueueService = (*QueueServiceMock)(nil)

// HandleQueueEvent mocks the HandleQueueEvent method
func (m *QueueServiceMock) HandleQueueEvent(ctx context.Context, evt model.QueueEvent) (*model.TransitionResult, error) {
	args := m.Called(ctx, evt)
	res, _ := args.Get(0).(*model.TransitionResult)
	return res, args.Error(1)
}
