package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/production-feedback-service/internal/notifier"
)

// SenderMock mocks the notifier.Sender interface
type SenderMock struct {
	mock.Mock
}

var _ notifier.Sender = (*SenderMock)(nil)

func (m *SenderMock) Send(ctx context.Context, title, body string) error {
	args := m.Called(ctx, title, body)
	return args.Error(0)
}

func (m *SenderMock) Enabled() bool {
	args := m.Called()
	return args.Bool(0)
}
