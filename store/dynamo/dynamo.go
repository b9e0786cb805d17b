package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/learnlink/models"
)

type DynamoClassroomStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoClassroomStore(ctx context.Context, cfg aws.Config, endpoint string, tableName string) (*DynamoClassroomStore, error) {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(tables, tableName) {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoClassroomStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoClassroomStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()
	user.Created = time.Now().Unix()

	du := userToDynamo(user)
	if err := putItemIfAbsent(dynamoStore, ctx, du); err != nil {
		return models.User{}, err
	}

	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoClassroomStore) GetUser(ctx context.Context, email string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, userKey(email), profileSK, false)
	if err != nil {
		return models.User{}, err
	}
	return userFromDynamo(du), nil
}

func (dynamoStore *DynamoClassroomStore) DeleteUser(ctx context.Context, email string) error {
	return deleteItemWithCondition(dynamoStore, ctx, userKey(email), profileSK, nil)
}

func (dynamoStore *DynamoClassroomStore) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	sessionId, err := uuid.NewV4()
	if err != nil {
		return models.Session{}, err
	}
	session.Id = sessionId.String()

	ds := sessionToDynamo(session)
	if err := putItemIfAbsent(dynamoStore, ctx, ds); err != nil {
		return models.Session{}, err
	}

	return sessionFromDynamo(ds), nil
}

func (dynamoStore *DynamoClassroomStore) GetSession(ctx context.Context, sessionId string) (models.Session, error) {
	// Consistent read: the status and clear watermark gate drawing
	ds, err := getItem[dynamoSession](dynamoStore, ctx, sessionKey(sessionId), sessionSK, true)
	if err != nil {
		return models.Session{}, err
	}
	return sessionFromDynamo(ds), nil
}

func (dynamoStore *DynamoClassroomStore) ListTeacherSessions(ctx context.Context, teacherId string) ([]models.Session, error) {
	items, err := queryAllByGSI[dynamoSession](dynamoStore, ctx, teacherSessionsIndex, "TeacherId", teacherId)
	if err != nil {
		return nil, err
	}
	return sessionsFromDynamo(items), nil
}

func (dynamoStore *DynamoClassroomStore) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	items, err := queryAllByGSI[dynamoSession](dynamoStore, ctx, sessionStatusIndex, "Status", string(status))
	if err != nil {
		return nil, err
	}
	return sessionsFromDynamo(items), nil
}

func sessionsFromDynamo(items []dynamoSession) []models.Session {
	sessions := make([]models.Session, 0, len(items))
	for _, ds := range items {
		sessions = append(sessions, sessionFromDynamo(ds))
	}
	return sessions
}

// EndSession flips active -> ended. Ended is terminal: a second call fails
// the condition and reports ErrConditionFailed.
func (dynamoStore *DynamoClassroomStore) EndSession(ctx context.Context, sessionId string, teacherId string, endedAt time.Time) (models.Session, error) {
	ds, err := updateItem[dynamoSession](dynamoStore, ctx, sessionKey(sessionId), sessionSK,
		map[string]types.AttributeValue{
			"Status":  &types.AttributeValueMemberS{Value: string(models.SessionEnded)},
			"EndedAt": &types.AttributeValueMemberN{Value: fmt.Sprint(endedAt.UnixMilli())},
		},
		map[string]types.AttributeValue{
			"TeacherId": &types.AttributeValueMemberS{Value: teacherId},
			"Status":    &types.AttributeValueMemberS{Value: string(models.SessionActive)},
		},
	)
	if err != nil {
		return models.Session{}, err
	}
	return sessionFromDynamo(ds), nil
}

func (dynamoStore *DynamoClassroomStore) DeleteSession(ctx context.Context, sessionId string, teacherId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, sessionKey(sessionId), sessionSK, map[string]string{
		"TeacherId": teacherId,
		"Status":    string(models.SessionEnded),
	})
}

func (dynamoStore *DynamoClassroomStore) SetBoardWatermark(ctx context.Context, sessionId string, clearedBefore string) error {
	_, err := updateItem[dynamoSession](dynamoStore, ctx, sessionKey(sessionId), sessionSK,
		map[string]types.AttributeValue{
			"ClearedBefore": &types.AttributeValueMemberS{Value: clearedBefore},
		},
		nil,
	)
	return err
}

func (dynamoStore *DynamoClassroomStore) IncrementSessionStrokeCount(ctx context.Context, sessionId string, count int) error {
	// Strict mode: a deleted session must not be recreated as a partial record
	return incrementCounter(dynamoStore, ctx, sessionKey(sessionId), sessionSK, "StrokeCount", count, false)
}

func (dynamoStore *DynamoClassroomStore) GetStrokeRecords(ctx context.Context, sessionId string) ([]models.Stroke, error) {
	// Newest 1100 strokes. The board quota is 1000; the extra room covers
	// strokes that raced past the quota check.
	dynamoStrokes, err := queryAllByPK[dynamoStroke](dynamoStore, ctx, strokeKey(sessionId), false, 1100)
	if err != nil {
		return []models.Stroke{}, err
	}

	// Oldest -> newest
	strokes := make([]models.Stroke, 0, len(dynamoStrokes))
	for i := len(dynamoStrokes) - 1; i >= 0; i-- {
		strokes = append(strokes, strokeFromDynamo(dynamoStrokes[i]))
	}
	return strokes, nil
}

func (dynamoStore *DynamoClassroomStore) WriteStrokeBatch(ctx context.Context, strokes []models.StrokeRecord) ([]models.StrokeRecord, error) {
	items := make([]dynamoStroke, 0, len(strokes))
	for _, stroke := range strokes {
		ds, err := strokeRecordToDynamo(stroke)
		if err != nil {
			return nil, fmt.Errorf("marshal stroke content: %w", err)
		}
		items = append(items, ds)
	}

	writeRequests, err := putRequests(items)
	if err != nil {
		return nil, err
	}

	unprocessed, err := writeBatchRequests[dynamoStroke](dynamoStore, ctx, writeRequests)

	unbatched := make([]models.StrokeRecord, 0, len(unprocessed))
	for _, u := range unprocessed {
		unbatched = append(unbatched, strokeRecordFromDynamo(u))
	}
	return unbatched, err
}

func (dynamoStore *DynamoClassroomStore) DeleteStroke(ctx context.Context, sessionId string, strokeId string, userId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, strokeKey(sessionId), strokeId, map[string]string{"UserId": userId})
}

// DeleteBoardStrokes removes every stroke of a board whose id sorts before
// the given watermark. An empty watermark removes the whole board.
func (dynamoStore *DynamoClassroomStore) DeleteBoardStrokes(ctx context.Context, sessionId string, before string) error {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: strokeKey(sessionId)},
		},
		ProjectionExpression: aws.String("PK, SK"),
	}
	if before != "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND SK < :before")
		input.ExpressionAttributeValues[":before"] = &types.AttributeValueMemberS{Value: before}
	}

	return batchDeleteThrottled(dynamoStore, ctx, input, 50*time.Millisecond)
}

func (dynamoStore *DynamoClassroomStore) DeleteUserStrokes(ctx context.Context, userId string) error {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		IndexName:              aws.String(userStrokesIndex),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": "UserId",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: userId},
		},
	}

	return batchDeleteThrottled(dynamoStore, ctx, input, 50*time.Millisecond)
}

func (dynamoStore *DynamoClassroomStore) GetUserBoards(ctx context.Context, userId string) ([]string, error) {
	pks, err := queryKeysByGSI(dynamoStore, ctx, userStrokesIndex, "UserId", userId)
	if err != nil {
		return nil, err
	}
	return boardsFromStrokeKeys(pks), nil
}

// boardsFromStrokeKeys turns STROKE#<sessionId> partition keys into unique session ids.
func boardsFromStrokeKeys(pks []string) []string {
	seen := make(map[string]struct{})
	boards := make([]string, 0)
	for _, pk := range pks {
		if len(pk) <= len(strokePrefix) || pk[:len(strokePrefix)] != strokePrefix {
			continue
		}
		sessionId := pk[len(strokePrefix):]
		if _, ok := seen[sessionId]; ok {
			continue
		}
		seen[sessionId] = struct{}{}
		boards = append(boards, sessionId)
	}
	return boards
}

func isConditionFailed(err error) bool {
	var cce *types.ConditionalCheckFailedException
	return errors.As(err, &cce)
}
