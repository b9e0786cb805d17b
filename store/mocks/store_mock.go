package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zlnvch/learnlink/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) DeleteUser(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockStore) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	args := m.Called(ctx, session)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockStore) GetSession(ctx context.Context, sessionId string) (models.Session, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockStore) ListTeacherSessions(ctx context.Context, teacherId string) ([]models.Session, error) {
	args := m.Called(ctx, teacherId)
	return args.Get(0).([]models.Session), args.Error(1)
}

func (m *MockStore) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]models.Session), args.Error(1)
}

func (m *MockStore) EndSession(ctx context.Context, sessionId string, teacherId string, endedAt time.Time) (models.Session, error) {
	args := m.Called(ctx, sessionId, teacherId, endedAt)
	return args.Get(0).(models.Session), args.Error(1)
}

func (m *MockStore) DeleteSession(ctx context.Context, sessionId string, teacherId string) error {
	args := m.Called(ctx, sessionId, teacherId)
	return args.Error(0)
}

func (m *MockStore) SetBoardWatermark(ctx context.Context, sessionId string, clearedBefore string) error {
	args := m.Called(ctx, sessionId, clearedBefore)
	return args.Error(0)
}

func (m *MockStore) IncrementSessionStrokeCount(ctx context.Context, sessionId string, count int) error {
	args := m.Called(ctx, sessionId, count)
	return args.Error(0)
}

func (m *MockStore) GetStrokeRecords(ctx context.Context, sessionId string) ([]models.Stroke, error) {
	args := m.Called(ctx, sessionId)
	return args.Get(0).([]models.Stroke), args.Error(1)
}

func (m *MockStore) WriteStrokeBatch(ctx context.Context, strokes []models.StrokeRecord) ([]models.StrokeRecord, error) {
	args := m.Called(ctx, strokes)
	return args.Get(0).([]models.StrokeRecord), args.Error(1)
}

func (m *MockStore) DeleteStroke(ctx context.Context, sessionId string, strokeId string, userId string) error {
	args := m.Called(ctx, sessionId, strokeId, userId)
	return args.Error(0)
}

func (m *MockStore) DeleteBoardStrokes(ctx context.Context, sessionId string, before string) error {
	args := m.Called(ctx, sessionId, before)
	return args.Error(0)
}

func (m *MockStore) DeleteUserStrokes(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockStore) GetUserBoards(ctx context.Context, userId string) ([]string, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]string), args.Error(1)
}
