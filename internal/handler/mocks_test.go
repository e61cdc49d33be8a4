package handler

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"edchat/internal/app/db"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, p db.CreateUserParams) (db.UserRow, error) {
	args := m.Called(ctx, p)
	var row db.UserRow
	if val := args.Get(0); val != nil {
		row = val.(db.UserRow)
	}
	return row, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByUsername(ctx context.Context, username string) (db.UserRow, error) {
	args := m.Called(ctx, username)
	var row db.UserRow
	if val := args.Get(0); val != nil {
		row = val.(db.UserRow)
	}
	return row, args.Error(1)
}

func (m *UserRepositoryMock) GetUserByID(ctx context.Context, id string) (db.UserRow, error) {
	args := m.Called(ctx, id)
	var row db.UserRow
	if val := args.Get(0); val != nil {
		row = val.(db.UserRow)
	}
	return row, args.Error(1)
}

func (m *UserRepositoryMock) ListUsersExcept(ctx context.Context, excludeID string) ([]db.UserRow, error) {
	args := m.Called(ctx, excludeID)
	var rows []db.UserRow
	if val := args.Get(0); val != nil {
		rows = val.([]db.UserRow)
	}
	return rows, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, p db.CreateMessageParams) (db.MessageRow, error) {
	args := m.Called(ctx, p)
	var row db.MessageRow
	if val := args.Get(0); val != nil {
		row = val.(db.MessageRow)
	}
	return row, args.Error(1)
}

func (m *MessageRepositoryMock) ListConversation(ctx context.Context, a, b string) ([]db.MessageRow, error) {
	args := m.Called(ctx, a, b)
	var rows []db.MessageRow
	if val := args.Get(0); val != nil {
		rows = val.([]db.MessageRow)
	}
	return rows, args.Error(1)
}

type StorageMock struct {
	mock.Mock
}

func (m *StorageMock) Upload(ctx context.Context, key string, mimeType string, body io.Reader) error {
	data, _ := io.ReadAll(body)
	args := m.Called(ctx, key, mimeType, data)
	return args.Error(0)
}

func (m *StorageMock) PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error) {
	args := m.Called(ctx, key, duration)
	return args.String(0), args.Error(1)
}

func (m *StorageMock) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
