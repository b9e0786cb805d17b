package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/zlnvch/learnlink/models"
)

const (
	defaultMeetingBaseURL  = "https://meet.jit.si"
	defaultMeetingTokenTTL = 2 * time.Hour
)

type MeetingOptions struct {
	// BaseURL prefixes the room name to build a session's meeting link.
	BaseURL   string
	Host      string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

func (o MeetingOptions) withDefaults() MeetingOptions {
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
	if o.BaseURL == "" {
		o.BaseURL = defaultMeetingBaseURL
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = defaultMeetingTokenTTL
	}
	return o
}

// MeetingJoin is everything the browser widget needs to construct the call.
type MeetingJoin struct {
	Host                string `json:"host"`
	RoomName            string `json:"roomName"`
	MeetingLink         string `json:"meetingLink"`
	DisplayName         string `json:"displayName"`
	Token               string `json:"token"`
	StartWithAudioMuted bool   `json:"startWithAudioMuted"`
	StartWithVideoMuted bool   `json:"startWithVideoMuted"`
}

// RoomNameFor derives the room from the last path segment of the meeting
// link, falling back to the stored room name and then the session id.
func RoomNameFor(session models.Session) string {
	if link := strings.TrimSpace(session.MeetingLink); link != "" {
		if !strings.Contains(link, "://") {
			link = "https://meeting.invalid/" + strings.TrimLeft(link, "/")
		}
		if u, err := url.Parse(link); err == nil {
			if segment := lastPathSegment(u.Path); segment != "" {
				return segment
			}
		}
	}
	if session.RoomName != "" {
		return session.RoomName
	}
	if session.Id != "" {
		return session.Id
	}
	return "room"
}

func lastPathSegment(path string) string {
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

func displayNameFor(user models.User) string {
	if name := strings.TrimSpace(user.Name); name != "" {
		return name
	}
	if user.Role == models.RoleTeacher {
		return "Teacher"
	}
	return "Student"
}

func (s *Service) JoinMeeting(ctx context.Context, user models.User, sessionId string) (MeetingJoin, error) {
	session, err := s.GetSession(ctx, sessionId)
	if err != nil {
		return MeetingJoin{}, err
	}
	if session.Status == models.SessionEnded {
		return MeetingJoin{}, ErrSessionEnded
	}

	roomName := RoomNameFor(session)
	displayName := displayNameFor(user)

	at := auth.NewAccessToken(s.Meeting.APIKey, s.Meeting.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin:  true,
		Room:      roomName,
		RoomAdmin: session.TeacherId == user.Id,
	}
	at.AddGrant(grant).
		SetIdentity(user.Id).
		SetName(displayName).
		SetValidFor(s.Meeting.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return MeetingJoin{}, err
	}

	return MeetingJoin{
		Host:                s.Meeting.Host,
		RoomName:            roomName,
		MeetingLink:         session.MeetingLink,
		DisplayName:         displayName,
		Token:               token,
		StartWithAudioMuted: true,
		StartWithVideoMuted: false,
	}, nil
}
