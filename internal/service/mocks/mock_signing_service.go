package mocks

import (
	"context"
	"io"

	"docsign/internal/model"
	"docsign/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockSigningService struct {
	mock.Mock
}

func (m *MockSigningService) CreateAndDispatch(ctx context.Context, r io.Reader, size int64, recipientEmail string) (*model.DocumentRecord, error) {
	args := m.Called(ctx, r, size, recipientEmail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockSigningService) Finalize(ctx context.Context, id string, values map[string]string, signatureDataURL string) (*model.DocumentRecord, error) {
	args := m.Called(ctx, id, values, signatureDataURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockSigningService) Get(ctx context.Context, id string) (*model.DocumentRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DocumentRecord), args.Error(1)
}

func (m *MockSigningService) Retrieve(ctx context.Context, id string) (io.ReadCloser, *model.DocumentRecord, error) {
	args := m.Called(ctx, id)
	var rc io.ReadCloser
	if args.Get(0) != nil {
		rc = args.Get(0).(io.ReadCloser)
	}
	var rec *model.DocumentRecord
	if args.Get(1) != nil {
		rec = args.Get(1).(*model.DocumentRecord)
	}
	return rc, rec, args.Error(2)
}

func (m *MockSigningService) List(ctx context.Context, limit, offset int) (*service.RecordListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RecordListResult), args.Error(1)
}
