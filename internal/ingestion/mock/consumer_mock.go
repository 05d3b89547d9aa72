package mock

import (
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion"
)

// ConsumerMock is a mock implementation of the ingestion.ConsumerInterface
type ConsumerMock struct {
	mock.Mock
}

// Ensure ConsumerMock implements ConsumerInterface
var _ ingestion.ConsumerInterface = (*ConsumerMock)(nil)

// Setup mocks the Setup method
func (m *ConsumerMock) Setup() error {
	args := m.Called()
	return args.Error(0)
}

// Start mocks the Start method
func (m *ConsumerMock) Start() error {
	args := m.Called()
	return args.Error(0)
}

// Stop mocks the Stop method
func (m *ConsumerMock) Stop() {
	m.Called()
}

// Status mocks the Status method
func (m *ConsumerMock) Status() ingestion.ConsumerStatus {
	args := m.Called()
	return args.Get(0).(ingestion.ConsumerStatus)
}
