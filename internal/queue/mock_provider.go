package queue

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/vitals-monitor/internal/monitor"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// Enqueue is the mock implementation of the Enqueue method.
func (m *MockProvider) Enqueue(ctx context.Context, job monitor.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// Close is the mock implementation of the Close method.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}
