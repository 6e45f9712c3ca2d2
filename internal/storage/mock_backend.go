package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"drive-relay/internal/model"
)

// MockBackend is a testify mock of Backend for dispatcher and handler tests.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Authenticate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) Authenticated() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockBackend) List(ctx context.Context, folderPath string) (model.Listing, error) {
	args := m.Called(ctx, folderPath)
	return args.Get(0).(model.Listing), args.Error(1)
}

func (m *MockBackend) Delete(ctx context.Context, path string) (model.OperationResult, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(model.OperationResult), args.Error(1)
}

func (m *MockBackend) Move(ctx context.Context, sourcePath string, destinationFolder string) (model.OperationResult, error) {
	args := m.Called(ctx, sourcePath, destinationFolder)
	return args.Get(0).(model.OperationResult), args.Error(1)
}

func (m *MockBackend) GetContent(ctx context.Context, path string) (model.FileContent, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(model.FileContent), args.Error(1)
}

var _ Backend = (*MockBackend)(nil)
var _ Backend = (*Drive)(nil)
