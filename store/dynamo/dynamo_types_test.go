package dynamo

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/learnlink/models"
)

func TestSessionMapping(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	session := models.Session{
		Id:          "s1",
		Title:       "Algebra Basics",
		TeacherId:   "t1",
		StartTime:   start,
		Status:      models.SessionActive,
		RoomName:    "classroom-t1-1700000000000",
		MeetingLink: "https://meet.jit.si/classroom-t1-1700000000000",
		CreatedAt:   start.Add(-time.Hour),
	}

	ds := sessionToDynamo(session)
	assert.Equal(t, "SESSION#s1", ds.PK)
	assert.Equal(t, "META", ds.SK)
	assert.Equal(t, start.UnixMilli(), ds.StartTime)
	assert.Zero(t, ds.EndedAt)

	back := sessionFromDynamo(ds)
	assert.Equal(t, session.Title, back.Title)
	assert.True(t, back.StartTime.Equal(start))
	assert.Nil(t, back.EndedAt)
}

func TestSessionFromDynamo_MissingStatusIsActive(t *testing.T) {
	s := sessionFromDynamo(dynamoSession{Id: "s1"})
	assert.Equal(t, models.SessionActive, s.Status)
}

func TestSessionFromDynamo_EndedAt(t *testing.T) {
	ended := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	s := sessionFromDynamo(dynamoSession{Id: "s1", Status: "ended", EndedAt: ended.UnixMilli()})
	require.NotNil(t, s.EndedAt)
	assert.True(t, s.EndedAt.Equal(ended))
	assert.Equal(t, models.SessionEnded, s.Status)
}

func TestUserKey_CaseInsensitive(t *testing.T) {
	du := userToDynamo(models.User{Email: "Ada@School.org", Role: models.RoleTeacher})
	assert.Equal(t, "USER#ada@school.org", du.PK)
	assert.Equal(t, "ada@school.org", du.Email)
	assert.Equal(t, "teacher", du.Role)
}

func TestStrokeRecordMapping(t *testing.T) {
	record := models.StrokeRecord{
		SessionId: "s1",
		Stroke: models.Stroke{
			Id:        "0190a6c4-0000-7000-8000-000000000001",
			GestureId: "g1",
			UserId:    "u1",
			Tool:      models.ToolHighlighter,
			Color:     "#ff0000",
			Width:     6,
			Alpha:     0.3,
			Points:    []models.Point{{X: 10, Y: 10}, {X: 50, Y: 10}},
		},
	}

	ds, err := strokeRecordToDynamo(record)
	require.NoError(t, err)
	assert.Equal(t, "STROKE#s1", ds.PK)
	assert.Equal(t, record.Stroke.Id, ds.SK)
	assert.Equal(t, "u1", ds.UserId)

	assert.Equal(t, record, strokeRecordFromDynamo(ds))
}

func TestStrokeFromDynamo_CorruptContentKeepsId(t *testing.T) {
	stroke := strokeFromDynamo(dynamoStroke{PK: "STROKE#s1", SK: "id1", UserId: "u1", StrokeContent: []byte("{")})
	assert.Equal(t, "id1", stroke.Id)
	assert.Equal(t, "u1", stroke.UserId)
	assert.Empty(t, stroke.Points)
}

func TestBoardsFromStrokeKeys(t *testing.T) {
	boards := boardsFromStrokeKeys([]string{"STROKE#a", "STROKE#b", "STROKE#a", "USER#x", "STROKE#"})
	assert.Equal(t, []string{"a", "b"}, boards)
}

func TestEqualityCondition_SortedAliases(t *testing.T) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	expr := equalityCondition(map[string]types.AttributeValue{
		"TeacherId": &types.AttributeValueMemberS{Value: "t1"},
		"Status":    &types.AttributeValueMemberS{Value: "active"},
	}, names, values)

	assert.Equal(t, "#c0 = :c0 AND #c1 = :c1", expr)
	assert.Equal(t, "Status", names["#c0"])
	assert.Equal(t, "TeacherId", names["#c1"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "active"}, values[":c0"])
}
