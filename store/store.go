package store

import (
	"context"
	"errors"
	"time"

	"github.com/zlnvch/learnlink/models"
)

type ClassroomStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, email string) (models.User, error)
	DeleteUser(ctx context.Context, email string) error

	CreateSession(ctx context.Context, session models.Session) (models.Session, error)
	GetSession(ctx context.Context, sessionId string) (models.Session, error)
	ListTeacherSessions(ctx context.Context, teacherId string) ([]models.Session, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error)
	EndSession(ctx context.Context, sessionId string, teacherId string, endedAt time.Time) (models.Session, error)
	DeleteSession(ctx context.Context, sessionId string, teacherId string) error
	SetBoardWatermark(ctx context.Context, sessionId string, clearedBefore string) error
	IncrementSessionStrokeCount(ctx context.Context, sessionId string, count int) error

	GetStrokeRecords(ctx context.Context, sessionId string) ([]models.Stroke, error)
	WriteStrokeBatch(ctx context.Context, strokes []models.StrokeRecord) ([]models.StrokeRecord, error)
	DeleteStroke(ctx context.Context, sessionId string, strokeId string, userId string) error
	DeleteBoardStrokes(ctx context.Context, sessionId string, before string) error
	DeleteUserStrokes(ctx context.Context, userId string) error
	GetUserBoards(ctx context.Context, userId string) ([]string, error)
}

var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrItemExists      = errors.New("item already exists")
	ErrConditionFailed = errors.New("condition not met")
)
