package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/store"
	"github.com/zlnvch/learnlink/worker"
)

// BoardMessage is what every board channel carries; Type tells the client
// how to read Data.
type BoardMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type StrokePointData struct {
	SessionId string      `json:"sessionId"`
	GestureId string      `json:"gestureId"`
	UserId    string      `json:"userId"`
	Tool      models.Tool `json:"tool"`
	Color     string      `json:"color"`
	Width     int         `json:"width"`
	Alpha     float64     `json:"alpha"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Timestamp int64       `json:"timestamp"`
}

type NewStrokeData struct {
	SessionId string        `json:"sessionId"`
	Stroke    models.Stroke `json:"stroke"`
}

type DeleteStrokeData struct {
	SessionId string `json:"sessionId"`
	StrokeId  string `json:"strokeId"`
	UserId    string `json:"userId"`
}

type BoardClearedData struct {
	SessionId     string `json:"sessionId"`
	ClearedBefore string `json:"clearedBefore"`
	UserId        string `json:"userId"`
}

func (s *Service) publishBoard(ctx context.Context, sessionId string, msgType string, data any) {
	msgBytes, err := json.Marshal(BoardMessage{Type: msgType, Data: data})
	if err != nil {
		return
	}
	if err := s.Cache.Publish(ctx, cache.BoardChannel(sessionId), msgBytes); err != nil {
		log.Printf("Failed to publish %s to board %s: %v", msgType, sessionId, err)
	}
}

func sessionStateOf(session models.Session) cache.SessionState {
	status := session.Status
	if status == "" {
		status = models.SessionActive
	}
	return cache.SessionState{
		Status:        string(status),
		TeacherId:     session.TeacherId,
		ClearedBefore: session.ClearedBefore,
	}
}

// sessionState reads the fields every board operation checks, from the cache
// when possible.
func (s *Service) sessionState(ctx context.Context, sessionId string) (cache.SessionState, error) {
	state, found, err := s.Cache.GetSessionState(ctx, sessionId)
	if err == nil && found {
		return state, nil
	}

	session, err := s.GetSession(ctx, sessionId)
	if err != nil {
		return cache.SessionState{}, err
	}

	state = sessionStateOf(session)
	if err := s.Cache.SetSessionState(ctx, sessionId, state); err != nil {
		log.Printf("Failed to cache state of session %s: %v", sessionId, err)
	}
	return state, nil
}

// writableBoard returns the state of a board that accepts drawing.
func (s *Service) writableBoard(ctx context.Context, sessionId string) (cache.SessionState, error) {
	if err := ValidateSessionId(sessionId); err != nil {
		return cache.SessionState{}, err
	}
	state, err := s.sessionState(ctx, sessionId)
	if err != nil {
		return cache.SessionState{}, err
	}
	if state.Status == string(models.SessionEnded) {
		return cache.SessionState{}, ErrSessionEnded
	}
	return state, nil
}

type RelayParams struct {
	User      models.User
	SessionId string
	GestureId string
	Tool      models.Tool
	Color     string
	Width     int
	Point     models.Point
	// Timestamp is when the server received the point.
	Timestamp time.Time
}

// RelayPoint forwards one live point of a gesture in progress. Live points
// are not persisted; the finished gesture arrives through DrawStroke.
func (s *Service) RelayPoint(ctx context.Context, gate *PointGate, params RelayParams) error {
	if params.GestureId == "" || len(params.GestureId) > maxGestureIdLen {
		return newValidationError("gestureId", "is required and at most 64 characters")
	}
	if !gate.Allow(params.GestureId, params.Timestamp) {
		return ErrPointThrottled
	}

	if _, err := s.writableBoard(ctx, params.SessionId); err != nil {
		return err
	}

	style, err := ResolveStyle(params.Tool, params.Color, params.Width)
	if err != nil {
		return err
	}

	// Published inline so points of one gesture keep their order
	s.publishBoard(ctx, params.SessionId, "stroke_point", StrokePointData{
		SessionId: params.SessionId,
		GestureId: params.GestureId,
		UserId:    params.User.Id,
		Tool:      params.Tool,
		Color:     style.Color,
		Width:     style.Width,
		Alpha:     style.Alpha,
		X:         params.Point.X,
		Y:         params.Point.Y,
		Timestamp: params.Timestamp.UnixMilli(),
	})
	return nil
}

func (s *Service) enforceBoardQuota(ctx context.Context, sessionId string) error {
	// The ZSet is only a valid count once the board is fully cached
	isComplete, _ := s.Cache.IsBoardComplete(ctx, sessionId)
	if !isComplete {
		if _, err := s.LoadBoard(ctx, sessionId); err != nil {
			log.Printf("Failed to load board %s for quota check: %v", sessionId, err)
		}
	}

	count, err := s.Cache.GetBoardStrokeCount(ctx, sessionId)
	if err != nil {
		count = 0
	}
	if count >= int64(s.MaxBoardStrokes) {
		log.Printf("Board %s exceeded stroke quota (%d)", sessionId, count)
		return ErrBoardFull
	}
	return nil
}

type DrawParams struct {
	User      models.User
	SessionId string
	Stroke    models.Stroke
	// IsRedo re-draws a stroke taken from the connection's own history; its
	// id and resolved style are kept.
	IsRedo bool
}

// DrawStroke persists a finished gesture and broadcasts it to the board.
func (s *Service) DrawStroke(ctx context.Context, params DrawParams) (models.Stroke, error) {
	if err := ValidateStroke(params.Stroke); err != nil {
		return models.Stroke{}, err
	}

	state, err := s.writableBoard(ctx, params.SessionId)
	if err != nil {
		return models.Stroke{}, err
	}

	stroke := params.Stroke
	if params.IsRedo {
		t, err := getTimeFromUUIDv7(stroke.Id)
		if err != nil {
			return models.Stroke{}, fmt.Errorf("redo stroke id: %w", err)
		}
		if t.After(time.Now()) {
			return models.Stroke{}, errors.New("redo stroke id has a time in the future")
		}
		// the board was cleared after this stroke was undone
		if state.ClearedBefore != "" && stroke.Id < state.ClearedBefore {
			return models.Stroke{}, ErrNothingToRedo
		}
	} else {
		style, err := ResolveStyle(stroke.Tool, stroke.Color, stroke.Width)
		if err != nil {
			return models.Stroke{}, err
		}
		stroke = applyStyle(stroke, style)

		strokeUUID, err := uuid.NewV7()
		if err != nil {
			return models.Stroke{}, err
		}
		stroke.Id = strokeUUID.String()
	}
	stroke.UserId = params.User.Id

	if err := s.enforceBoardQuota(ctx, params.SessionId); err != nil {
		return models.Stroke{}, err
	}

	// Not asynchronous: a later undo from the same connection must find the
	// stroke already queued, cached and announced.
	s.StrokeBatcher.WriteCh <- models.StrokeRecord{SessionId: params.SessionId, Stroke: stroke}

	if strokeBytes, err := json.Marshal(stroke); err == nil {
		t, _ := getTimeFromUUIDv7(stroke.Id)
		if err := s.Cache.AddStroke(ctx, params.SessionId, stroke.Id, t.UnixMilli(), strokeBytes); err != nil {
			log.Printf("Failed to cache stroke %s: %v", stroke.Id, err)
		}
	}

	s.publishBoard(ctx, params.SessionId, "new_stroke", NewStrokeData{
		SessionId: params.SessionId,
		Stroke:    stroke,
	})

	return stroke, nil
}

// UndoStroke removes one of the user's own strokes from a board.
func (s *Service) UndoStroke(ctx context.Context, user models.User, sessionId string, strokeId string) error {
	if _, err := s.writableBoard(ctx, sessionId); err != nil {
		return err
	}

	// Cancel the write if it is still waiting in the batcher. A stroke that
	// was not pending is either stored already or never existed.
	pending := make(chan bool, 1)
	s.StrokeBatcher.DeleteCh <- worker.DeleteStrokeRequest{
		SessionId: sessionId,
		StrokeId:  strokeId,
		UserId:    user.Id,
		Pending:   pending,
	}

	var wasPending bool
	select {
	case wasPending = <-pending:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !wasPending {
		err := s.Store.DeleteStroke(ctx, sessionId, strokeId, user.Id)
		switch {
		case err == nil:
			s.CounterBatcher.UpdateCh <- worker.CounterUpdate{SessionId: sessionId, Delta: -1}
		case errors.Is(err, store.ErrItemNotFound):
			// already purged
		case errors.Is(err, store.ErrConditionFailed):
			log.Printf("User %s tried to delete stroke %s they do not own", user.Id, strokeId)
			return ErrForbidden
		default:
			return err
		}
	}

	if err := s.Cache.RemoveStroke(ctx, sessionId, strokeId); err != nil {
		log.Printf("Failed to remove stroke %s from cache: %v", strokeId, err)
	}

	s.publishBoard(ctx, sessionId, "delete_stroke", DeleteStrokeData{
		SessionId: sessionId,
		StrokeId:  strokeId,
		UserId:    user.Id,
	})
	return nil
}

type StrokeHistory = History[models.Stroke]

func NewStrokeHistory() *StrokeHistory {
	return NewHistory(models.Stroke{}, defaultHistoryLimit)
}

// Draw draws a new stroke and records it in the connection's history.
func (s *Service) Draw(ctx context.Context, history *StrokeHistory, params DrawParams) (models.Stroke, error) {
	params.IsRedo = false
	stroke, err := s.DrawStroke(ctx, params)
	if err != nil {
		return models.Stroke{}, err
	}
	history.Push(stroke)
	return stroke, nil
}

// Undo removes the newest stroke of the history from the board.
func (s *Service) Undo(ctx context.Context, history *StrokeHistory, user models.User, sessionId string) (models.Stroke, error) {
	top, ok := history.Top()
	if !ok {
		return models.Stroke{}, ErrNothingToUndo
	}
	if err := s.UndoStroke(ctx, user, sessionId, top.Id); err != nil {
		return models.Stroke{}, err
	}
	history.Undo()
	return top, nil
}

// Redo puts the last undone stroke back with its original id.
func (s *Service) Redo(ctx context.Context, history *StrokeHistory, user models.User, sessionId string) (models.Stroke, error) {
	next, ok := history.PeekRedo()
	if !ok {
		return models.Stroke{}, ErrNothingToRedo
	}

	stroke, err := s.DrawStroke(ctx, DrawParams{User: user, SessionId: sessionId, Stroke: next, IsRedo: true})
	if err != nil {
		if errors.Is(err, ErrNothingToRedo) {
			history.DropRedo()
		}
		return models.Stroke{}, err
	}
	history.Redo()
	return stroke, nil
}

// ClearBoard empties a board. Only the teacher who owns the session may
// clear it. Clients see the board empty at once; the stored strokes are
// purged in the background and hidden behind the watermark until then.
func (s *Service) ClearBoard(ctx context.Context, user models.User, sessionId string) (string, error) {
	if user.Role != models.RoleTeacher {
		return "", ErrForbidden
	}

	session, err := s.GetSession(ctx, sessionId)
	if err != nil {
		return "", err
	}
	if session.TeacherId != user.Id {
		return "", ErrForbidden
	}
	if session.Status == models.SessionEnded {
		return "", ErrSessionEnded
	}

	watermarkUUID, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	watermark := watermarkUUID.String()

	if err := s.Store.SetBoardWatermark(ctx, sessionId, watermark); err != nil {
		return "", fmt.Errorf("set board watermark: %w", err)
	}

	session.ClearedBefore = watermark
	if err := s.Cache.SetSessionState(ctx, sessionId, sessionStateOf(session)); err != nil {
		log.Printf("Failed to cache watermark of board %s: %v", sessionId, err)
		s.Cache.DeleteSessionState(ctx, sessionId)
	}

	s.StrokeBatcher.ClearCh <- worker.ClearBoardRequest{SessionId: sessionId, Before: watermark}

	if err := s.Cache.InvalidateBoards(ctx, []string{sessionId}); err != nil {
		log.Printf("Failed to invalidate board %s: %v", sessionId, err)
	}

	s.publishBoard(ctx, sessionId, "board_cleared", BoardClearedData{
		SessionId:     sessionId,
		ClearedBefore: watermark,
		UserId:        user.Id,
	})

	go s.queuePurge(worker.PurgeJob{Kind: worker.PurgeBoard, SessionId: sessionId, Before: watermark})

	return watermark, nil
}

func getTimeFromUUIDv7(strokeId string) (time.Time, error) {
	id, err := uuid.FromString(strokeId)
	if err != nil {
		return time.Time{}, err
	}
	if id.Version() != uuid.V7 {
		return time.Time{}, errors.New("not a version 7 uuid")
	}
	ts, err := uuid.TimestampFromV7(id)
	if err != nil {
		return time.Time{}, err
	}
	return ts.Time()
}
