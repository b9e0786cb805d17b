package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/store"
	"github.com/zlnvch/learnlink/worker"
)

type CreateSessionParams struct {
	Title     string    `json:"title" validate:"required,max=200"`
	StartTime time.Time `json:"startTime" validate:"required"`
}

type SessionLists struct {
	Active []models.Session `json:"active"`
	Ended  []models.Session `json:"ended"`
}

// DirectoryMessage is pushed on the directory channel and on the board
// channel of the affected session.
type DirectoryMessage struct {
	Type string         `json:"type"`
	Data models.Session `json:"data"`
}

func roomNameFor(teacherId string, createdAt time.Time) string {
	return fmt.Sprintf("classroom-%s-%d", teacherId, createdAt.UnixMilli())
}

func (s *Service) CreateSession(ctx context.Context, teacher models.User, params CreateSessionParams) (models.Session, error) {
	if teacher.Role != models.RoleTeacher {
		return models.Session{}, ErrForbidden
	}

	params.Title = strings.TrimSpace(params.Title)
	if err := validateStruct(params); err != nil {
		return models.Session{}, err
	}

	now := time.Now().UTC()
	roomName := roomNameFor(teacher.Id, now)

	session, err := s.Store.CreateSession(ctx, models.Session{
		Title:       params.Title,
		TeacherId:   teacher.Id,
		TeacherName: teacher.Name,
		StartTime:   params.StartTime.UTC(),
		Status:      models.SessionActive,
		RoomName:    roomName,
		MeetingLink: s.Meeting.BaseURL + "/" + roomName,
		CreatedAt:   now,
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("create session failed: %w", err)
	}

	go s.publishDirectory("session_created", session, false)

	return session, nil
}

// ListSessions returns what the caller's dashboard shows: a teacher sees
// their own sessions, a student sees every session.
func (s *Service) ListSessions(ctx context.Context, user models.User) (SessionLists, error) {
	if user.Role == models.RoleTeacher {
		sessions, err := s.Store.ListTeacherSessions(ctx, user.Id)
		if err != nil {
			return SessionLists{}, err
		}
		return partitionSessions(sessions), nil
	}

	active, err := s.Store.ListSessionsByStatus(ctx, models.SessionActive)
	if err != nil {
		return SessionLists{}, err
	}
	ended, err := s.Store.ListSessionsByStatus(ctx, models.SessionEnded)
	if err != nil {
		return SessionLists{}, err
	}
	return partitionSessions(append(active, ended...)), nil
}

// partitionSessions splits by status; upcoming first for active sessions,
// most recent first for the history.
func partitionSessions(sessions []models.Session) SessionLists {
	lists := SessionLists{Active: []models.Session{}, Ended: []models.Session{}}
	for _, session := range sessions {
		if session.Status == models.SessionEnded {
			lists.Ended = append(lists.Ended, session)
		} else {
			lists.Active = append(lists.Active, session)
		}
	}

	sort.SliceStable(lists.Active, func(i, j int) bool {
		return lists.Active[i].StartTime.Before(lists.Active[j].StartTime)
	})
	sort.SliceStable(lists.Ended, func(i, j int) bool {
		return lists.Ended[i].StartTime.After(lists.Ended[j].StartTime)
	})
	return lists
}

func (s *Service) GetSession(ctx context.Context, sessionId string) (models.Session, error) {
	if err := ValidateSessionId(sessionId); err != nil {
		return models.Session{}, err
	}

	session, err := s.Store.GetSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return session, nil
}

// EndSession moves a session to the history. The transition is one-way.
func (s *Service) EndSession(ctx context.Context, teacher models.User, sessionId string) (models.Session, error) {
	if teacher.Role != models.RoleTeacher {
		return models.Session{}, ErrForbidden
	}
	if err := ValidateSessionId(sessionId); err != nil {
		return models.Session{}, err
	}

	session, err := s.Store.EndSession(ctx, sessionId, teacher.Id, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return models.Session{}, s.explainRefusal(ctx, teacher, sessionId, ErrSessionEnded)
		}
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, err
	}

	if err := s.Cache.SetSessionState(ctx, sessionId, sessionStateOf(session)); err != nil {
		// stale state would keep the board writable; drop it instead
		log.Printf("Failed to cache ended state for session %s: %v", sessionId, err)
		s.Cache.DeleteSessionState(ctx, sessionId)
	}

	go s.publishDirectory("session_ended", session, true)

	return session, nil
}

// DeleteSession removes a session from the history. Active sessions must be
// ended first.
func (s *Service) DeleteSession(ctx context.Context, teacher models.User, sessionId string) error {
	if teacher.Role != models.RoleTeacher {
		return ErrForbidden
	}
	if err := ValidateSessionId(sessionId); err != nil {
		return err
	}

	err := s.Store.DeleteSession(ctx, sessionId, teacher.Id)
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return s.explainRefusal(ctx, teacher, sessionId, ErrSessionNotEnded)
		}
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	// Async side-effects - return to caller as soon as the store operation is done
	go func() {
		ctx := context.Background()
		if err := s.Cache.DeleteSessionState(ctx, sessionId); err != nil {
			log.Printf("Failed to drop state of session %s: %v", sessionId, err)
		}
		if err := s.Cache.InvalidateBoards(ctx, []string{sessionId}); err != nil {
			log.Printf("Failed to invalidate board %s: %v", sessionId, err)
		}
		s.StrokeBatcher.ClearCh <- worker.ClearBoardRequest{SessionId: sessionId}
		s.publishDirectory("session_deleted", models.Session{Id: sessionId}, true)
		s.queuePurge(worker.PurgeJob{Kind: worker.PurgeBoard, SessionId: sessionId})
	}()

	return nil
}

// explainRefusal tells apart the reasons a conditional write on a session
// was refused: someone else's session, or the wrong lifecycle state.
func (s *Service) explainRefusal(ctx context.Context, teacher models.User, sessionId string, stateErr error) error {
	session, err := s.Store.GetSession(ctx, sessionId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if session.TeacherId != teacher.Id {
		return ErrForbidden
	}
	return stateErr
}

func (s *Service) publishDirectory(eventType string, session models.Session, toBoard bool) {
	msgBytes, err := json.Marshal(DirectoryMessage{Type: eventType, Data: session})
	if err != nil {
		return
	}

	ctx := context.Background()
	if err := s.Cache.Publish(ctx, cache.DirectoryChannel, msgBytes); err != nil {
		log.Printf("Failed to publish %s: %v", eventType, err)
	}
	if toBoard {
		if err := s.Cache.Publish(ctx, cache.BoardChannel(session.Id), msgBytes); err != nil {
			log.Printf("Failed to publish %s to board %s: %v", eventType, session.Id, err)
		}
	}
}
