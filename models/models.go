package models

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

type User struct {
	Id           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	PasswordHash string `json:"-"`
	// empty for email/password accounts, else the oauth provider that created it
	Provider string `json:"provider,omitempty"`
	Created  int64  `json:"created"`
}

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

type Session struct {
	Id          string        `json:"id"`
	Title       string        `json:"title"`
	TeacherId   string        `json:"teacherId"`
	TeacherName string        `json:"teacherName"`
	StartTime   time.Time     `json:"startTime"`
	Status      SessionStatus `json:"status"`
	RoomName    string        `json:"roomName"`
	MeetingLink string        `json:"meetingLink"`
	CreatedAt   time.Time     `json:"createdAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
	StrokeCount int           `json:"strokeCount"`

	// Id of the first stroke that survived the last board clear.
	// Strokes with a smaller (older) UUIDv7 are never served.
	ClearedBefore string `json:"-"`
}

type Tool string

const (
	ToolPen         Tool = "pen"
	ToolHighlighter Tool = "highlighter"
	ToolEraser      Tool = "eraser"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one pointer-down to pointer-up gesture.
type Stroke struct {
	Id        string  `json:"id"`
	GestureId string  `json:"gestureId"`
	UserId    string  `json:"userId"`
	Tool      Tool    `json:"tool"`
	Color     string  `json:"color"`
	Width     int     `json:"width"`
	Alpha     float64 `json:"alpha"`
	Points    []Point `json:"points"`
}

type StrokeRecord struct {
	SessionId string
	Stroke    Stroke
}
