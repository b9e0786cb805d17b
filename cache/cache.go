package cache

import "context"

const (
	DirectoryChannel   = "sessions"
	UserDeletedChannel = "user-deleted"
)

func BoardChannel(sessionId string) string {
	return "board:" + sessionId
}

type StrokeCacheItem struct {
	StrokeId string
	Score    int64
	Data     []byte
}

// SessionState is the part of a session record the whiteboard checks on
// every write.
type SessionState struct {
	Status        string
	TeacherId     string
	ClearedBefore string
}

type ClassroomCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	AddStroke(ctx context.Context, sessionId string, strokeId string, score int64, strokeData []byte) error
	AddStrokesBatch(ctx context.Context, sessionId string, strokes []StrokeCacheItem) error
	RemoveStroke(ctx context.Context, sessionId string, strokeId string) error
	GetStrokes(ctx context.Context, sessionId string) ([][]byte, error)
	GetBoardStrokeCount(ctx context.Context, sessionId string) (int64, error)

	SetBoardComplete(ctx context.Context, sessionId string) error
	IsBoardComplete(ctx context.Context, sessionId string) (bool, error)
	InvalidateBoards(ctx context.Context, sessionIds []string) error

	GetSessionState(ctx context.Context, sessionId string) (SessionState, bool, error)
	SetSessionState(ctx context.Context, sessionId string, state SessionState) error
	DeleteSessionState(ctx context.Context, sessionId string) error
}
