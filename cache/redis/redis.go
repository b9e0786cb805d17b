package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zlnvch/learnlink/cache"
)

type RedisClassroomCache struct {
	client redis.UniversalClient
}

func NewRedisClassroomCache(ctx context.Context, devMode bool, endpoint string) (*RedisClassroomCache, error) {
	opts := &redis.Options{Addr: endpoint}
	if !devMode {
		// ElastiCache endpoints require TLS
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisClassroomCache{client: client}, nil
}

func (redisCache *RedisClassroomCache) Close() error {
	return redisCache.client.Close()
}

func (redisCache *RedisClassroomCache) Publish(ctx context.Context, channel string, message []byte) error {
	return redisCache.client.Publish(ctx, channel, message).Err()
}

// Subscribe blocks until the subscription is confirmed, then delivers
// messages to handler on its own goroutine until ctx is cancelled.
func (redisCache *RedisClassroomCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := redisCache.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		log.Printf("Pubsub channel closed: %s", channel)
		return err
	}

	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

// Keys of one board share a hash tag so they land in the same cluster slot.
func buildBoardKey(sessionId string) string {
	return "board:{" + sessionId + "}"
}

func buildBoardDataKey(sessionId string) string {
	return "board:{" + sessionId + "}:data"
}

func buildBoardCompleteKey(sessionId string) string {
	return "board:{" + sessionId + "}:complete"
}

func buildSessionStateKey(sessionId string) string {
	return "session:{" + sessionId + "}:state"
}

const (
	cacheTTL        = 10 * time.Minute
	maxCachedBoard  = 1000
	sessionStateTTL = 5 * time.Minute
)

// A board is two structures: a ZSet of stroke ids scored by creation time
// (order + O(1) removal by id) and a Hash of stroke id -> JSON.
func (redisCache *RedisClassroomCache) AddStroke(ctx context.Context, sessionId string, strokeId string, score int64, strokeData []byte) error {
	key := buildBoardKey(sessionId)
	dataKey := buildBoardDataKey(sessionId)

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: strokeId})
	pipe.HSet(ctx, dataKey, strokeId, strokeData)
	redisCache.refreshBoardTTL(ctx, pipe, sessionId)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisClassroomCache) AddStrokesBatch(ctx context.Context, sessionId string, strokes []cache.StrokeCacheItem) error {
	if len(strokes) == 0 {
		return nil
	}

	zMembers := make([]redis.Z, len(strokes))
	hValues := make([]interface{}, 0, len(strokes)*2)
	for i, s := range strokes {
		zMembers[i] = redis.Z{Score: float64(s.Score), Member: s.StrokeId}
		hValues = append(hValues, s.StrokeId, s.Data)
	}

	pipe := redisCache.client.Pipeline()
	pipe.ZAdd(ctx, buildBoardKey(sessionId), zMembers...)
	pipe.HSet(ctx, buildBoardDataKey(sessionId), hValues...)
	pipe.Set(ctx, buildBoardCompleteKey(sessionId), "true", cacheTTL)
	redisCache.refreshBoardTTL(ctx, pipe, sessionId)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisClassroomCache) RemoveStroke(ctx context.Context, sessionId string, strokeId string) error {
	pipe := redisCache.client.Pipeline()
	pipe.ZRem(ctx, buildBoardKey(sessionId), strokeId)
	pipe.HDel(ctx, buildBoardDataKey(sessionId), strokeId)
	redisCache.refreshBoardTTL(ctx, pipe, sessionId)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisClassroomCache) refreshBoardTTL(ctx context.Context, pipe redis.Pipeliner, sessionId string) {
	pipe.Expire(ctx, buildBoardCompleteKey(sessionId), cacheTTL)
	pipe.Expire(ctx, buildBoardKey(sessionId), cacheTTL)
	pipe.Expire(ctx, buildBoardDataKey(sessionId), cacheTTL)
}

// GetBoardStrokeCount is the source of truth for the per-board quota.
func (redisCache *RedisClassroomCache) GetBoardStrokeCount(ctx context.Context, sessionId string) (int64, error) {
	return redisCache.client.ZCard(ctx, buildBoardKey(sessionId)).Result()
}

// GetStrokes returns the newest strokes of a board, oldest first.
func (redisCache *RedisClassroomCache) GetStrokes(ctx context.Context, sessionId string) ([][]byte, error) {
	ids, err := redisCache.client.ZRange(ctx, buildBoardKey(sessionId), -maxCachedBoard, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	values, err := redisCache.client.HMGet(ctx, buildBoardDataKey(sessionId), ids...).Result()
	if err != nil {
		return nil, err
	}

	strokes := make([][]byte, 0, len(ids))
	for _, item := range values {
		if s, ok := item.(string); ok {
			strokes = append(strokes, []byte(s))
		}
	}

	pipe := redisCache.client.Pipeline()
	redisCache.refreshBoardTTL(ctx, pipe, sessionId)
	_, _ = pipe.Exec(ctx)

	return strokes, nil
}

func (redisCache *RedisClassroomCache) SetBoardComplete(ctx context.Context, sessionId string) error {
	return redisCache.client.Set(ctx, buildBoardCompleteKey(sessionId), "true", cacheTTL).Err()
}

func (redisCache *RedisClassroomCache) IsBoardComplete(ctx context.Context, sessionId string) (bool, error) {
	n, err := redisCache.client.Exists(ctx, buildBoardCompleteKey(sessionId)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InvalidateBoards deletes boards one at a time; different boards hash to
// different cluster slots.
func (redisCache *RedisClassroomCache) InvalidateBoards(ctx context.Context, sessionIds []string) error {
	for _, sessionId := range sessionIds {
		err := redisCache.client.Del(ctx,
			buildBoardKey(sessionId),
			buildBoardDataKey(sessionId),
			buildBoardCompleteKey(sessionId),
		).Err()
		if err != nil {
			return err
		}
	}
	return nil
}

func (redisCache *RedisClassroomCache) GetSessionState(ctx context.Context, sessionId string) (cache.SessionState, bool, error) {
	fields, err := redisCache.client.HGetAll(ctx, buildSessionStateKey(sessionId)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cache.SessionState{}, false, nil
		}
		return cache.SessionState{}, false, err
	}
	if len(fields) == 0 {
		return cache.SessionState{}, false, nil
	}

	return cache.SessionState{
		Status:        fields["status"],
		TeacherId:     fields["teacherId"],
		ClearedBefore: fields["clearedBefore"],
	}, true, nil
}

func (redisCache *RedisClassroomCache) SetSessionState(ctx context.Context, sessionId string, state cache.SessionState) error {
	key := buildSessionStateKey(sessionId)

	pipe := redisCache.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"status", state.Status,
		"teacherId", state.TeacherId,
		"clearedBefore", state.ClearedBefore,
	)
	pipe.Expire(ctx, key, sessionStateTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (redisCache *RedisClassroomCache) DeleteSessionState(ctx context.Context, sessionId string) error {
	return redisCache.client.Del(ctx, buildSessionStateKey(sessionId)).Err()
}
