package dynamo

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zlnvch/learnlink/models"
)

const (
	userPrefix    = "USER#"
	sessionPrefix = "SESSION#"
	strokePrefix  = "STROKE#"

	profileSK = "PROFILE"
	sessionSK = "META"

	teacherSessionsIndex = "GSI_TeacherSessions"
	sessionStatusIndex   = "GSI_SessionStatus"
	userStrokesIndex     = "GSI_UserStrokes"
)

type dynamoUser struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	Id           string `dynamodbav:"Id"`
	Email        string `dynamodbav:"Email"`
	Name         string `dynamodbav:"Name"`
	Role         string `dynamodbav:"Role"`
	PasswordHash string `dynamodbav:"PasswordHash"`
	Provider     string `dynamodbav:"Provider"`
	Created      int64  `dynamodbav:"Created"`
}

func userKey(email string) string {
	return userPrefix + strings.ToLower(email)
}

func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:           userKey(u.Email),
		SK:           profileSK,
		Id:           u.Id,
		Email:        strings.ToLower(u.Email),
		Name:         u.Name,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		Provider:     u.Provider,
		Created:      u.Created,
	}
}

func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:           du.Id,
		Email:        du.Email,
		Name:         du.Name,
		Role:         models.Role(du.Role),
		PasswordHash: du.PasswordHash,
		Provider:     du.Provider,
		Created:      du.Created,
	}
}

// Times are stored as unix milliseconds so the GSIs sort numerically.
type dynamoSession struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	Id            string `dynamodbav:"Id"`
	Title         string `dynamodbav:"Title"`
	TeacherId     string `dynamodbav:"TeacherId"`
	TeacherName   string `dynamodbav:"TeacherName"`
	StartTime     int64  `dynamodbav:"StartTime"`
	Status        string `dynamodbav:"Status"`
	RoomName      string `dynamodbav:"RoomName"`
	MeetingLink   string `dynamodbav:"MeetingLink"`
	CreatedAt     int64  `dynamodbav:"CreatedAt"`
	EndedAt       int64  `dynamodbav:"EndedAt,omitempty"`
	StrokeCount   int    `dynamodbav:"StrokeCount"`
	ClearedBefore string `dynamodbav:"ClearedBefore,omitempty"`
}

func sessionKey(sessionId string) string {
	return sessionPrefix + sessionId
}

func sessionToDynamo(s models.Session) dynamoSession {
	ds := dynamoSession{
		PK:            sessionKey(s.Id),
		SK:            sessionSK,
		Id:            s.Id,
		Title:         s.Title,
		TeacherId:     s.TeacherId,
		TeacherName:   s.TeacherName,
		StartTime:     s.StartTime.UnixMilli(),
		Status:        string(s.Status),
		RoomName:      s.RoomName,
		MeetingLink:   s.MeetingLink,
		CreatedAt:     s.CreatedAt.UnixMilli(),
		StrokeCount:   s.StrokeCount,
		ClearedBefore: s.ClearedBefore,
	}
	if s.EndedAt != nil {
		ds.EndedAt = s.EndedAt.UnixMilli()
	}
	return ds
}

func sessionFromDynamo(ds dynamoSession) models.Session {
	s := models.Session{
		Id:            ds.Id,
		Title:         ds.Title,
		TeacherId:     ds.TeacherId,
		TeacherName:   ds.TeacherName,
		StartTime:     time.UnixMilli(ds.StartTime).UTC(),
		Status:        models.SessionStatus(ds.Status),
		RoomName:      ds.RoomName,
		MeetingLink:   ds.MeetingLink,
		CreatedAt:     time.UnixMilli(ds.CreatedAt).UTC(),
		StrokeCount:   ds.StrokeCount,
		ClearedBefore: ds.ClearedBefore,
	}
	// Records written before status existed count as active
	if s.Status == "" {
		s.Status = models.SessionActive
	}
	if ds.EndedAt != 0 {
		endedAt := time.UnixMilli(ds.EndedAt).UTC()
		s.EndedAt = &endedAt
	}
	return s
}

// strokeContent is the serialized gesture body. Ids and ownership live in
// their own attributes so conditional deletes and the user GSI can use them.
type strokeContent struct {
	GestureId string         `json:"gestureId"`
	Tool      models.Tool    `json:"tool"`
	Color     string         `json:"color"`
	Width     int            `json:"width"`
	Alpha     float64        `json:"alpha"`
	Points    []models.Point `json:"points"`
}

type dynamoStroke struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	UserId        string `dynamodbav:"UserId"`
	StrokeContent []byte `dynamodbav:"StrokeContent"`
}

func strokeKey(sessionId string) string {
	return strokePrefix + sessionId
}

func strokeRecordToDynamo(sr models.StrokeRecord) (dynamoStroke, error) {
	content, err := json.Marshal(strokeContent{
		GestureId: sr.Stroke.GestureId,
		Tool:      sr.Stroke.Tool,
		Color:     sr.Stroke.Color,
		Width:     sr.Stroke.Width,
		Alpha:     sr.Stroke.Alpha,
		Points:    sr.Stroke.Points,
	})
	if err != nil {
		return dynamoStroke{}, err
	}

	return dynamoStroke{
		PK:            strokeKey(sr.SessionId),
		SK:            sr.Stroke.Id,
		UserId:        sr.Stroke.UserId,
		StrokeContent: content,
	}, nil
}

func strokeRecordFromDynamo(ds dynamoStroke) models.StrokeRecord {
	return models.StrokeRecord{
		SessionId: strings.TrimPrefix(ds.PK, strokePrefix),
		Stroke:    strokeFromDynamo(ds),
	}
}

// Undecodable content still yields the id so the stroke can be deleted.
func strokeFromDynamo(ds dynamoStroke) models.Stroke {
	stroke := models.Stroke{Id: ds.SK, UserId: ds.UserId}

	var content strokeContent
	if err := json.Unmarshal(ds.StrokeContent, &content); err == nil {
		stroke.GestureId = content.GestureId
		stroke.Tool = content.Tool
		stroke.Color = content.Color
		stroke.Width = content.Width
		stroke.Alpha = content.Alpha
		stroke.Points = content.Points
	}
	return stroke
}
