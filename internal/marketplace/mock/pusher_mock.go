package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/production-feedback-service/internal/marketplace"
)

// PusherMock mocks the marketplace.Pusher interface
type PusherMock struct {
	mock.Mock
}

var _ marketplace.Pusher = (*PusherMock)(nil)

func (m *PusherMock) PushUpdate(ctx context.Context, payload marketplace.UpdatePayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *PusherMock) Configured() bool {
	args := m.Called()
	return args.Bool(0)
}
