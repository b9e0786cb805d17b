package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/learnlink/cache"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AddStroke(ctx context.Context, sessionId string, strokeId string, score int64, strokeData []byte) error {
	args := m.Called(ctx, sessionId, strokeId, score, strokeData)
	return args.Error(0)
}

func (m *MockCache) AddStrokesBatch(ctx context.Context, sessionId string, strokes []cache.StrokeCacheItem) error {
	args := m.Called(ctx, sessionId, strokes)
	return args.Error(0)
}

func (m *MockCache) RemoveStroke(ctx context.Context, sessionId string, strokeId string) error {
	args := m.Called(ctx, sessionId, strokeId)
	return args.Error(0)
}

func (m *MockCache) GetStrokes(ctx context.Context, sessionId string) ([][]byte, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) GetBoardStrokeCount(ctx context.Context, sessionId string) (int64, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) SetBoardComplete(ctx context.Context, sessionId string) error {
	args := m.Called(ctx, sessionId)
	return args.Error(0)
}

func (m *MockCache) IsBoardComplete(ctx context.Context, sessionId string) (bool, error) {
	args := m.Called(ctx, sessionId)
	return args.Bool(0), args.Error(1)
}

func (m *MockCache) InvalidateBoards(ctx context.Context, sessionIds []string) error {
	args := m.Called(ctx, sessionIds)
	return args.Error(0)
}

func (m *MockCache) GetSessionState(ctx context.Context, sessionId string) (cache.SessionState, bool, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).(cache.SessionState), args.Bool(1), args.Error(2)
}

func (m *MockCache) SetSessionState(ctx context.Context, sessionId string, state cache.SessionState) error {
	args := m.Called(ctx, sessionId, state)
	return args.Error(0)
}

func (m *MockCache) DeleteSessionState(ctx context.Context, sessionId string) error {
	args := m.Called(ctx, sessionId)
	return args.Error(0)
}
