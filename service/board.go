package service

import (
	"context"
	"encoding/json"
	"log"

	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/models"
)

// Newest strokes served for a board. The quota is 1000; the extra room
// covers strokes that raced past the quota check.
const maxLoadedStrokes = 1100

// LoadBoard returns a board's strokes oldest first.
func (s *Service) LoadBoard(ctx context.Context, sessionId string) ([]models.Stroke, error) {
	if err := ValidateSessionId(sessionId); err != nil {
		return nil, err
	}

	state, err := s.sessionState(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	redisStrokesRaw, err := s.Cache.GetStrokes(ctx, sessionId)
	redisStrokes := []models.Stroke{}
	if err == nil {
		for _, b := range redisStrokesRaw {
			var stroke models.Stroke
			if err := json.Unmarshal(b, &stroke); err == nil {
				redisStrokes = append(redisStrokes, stroke)
			}
		}
	}

	isComplete, _ := s.Cache.IsBoardComplete(ctx, sessionId)
	if isComplete && err == nil {
		return afterWatermark(redisStrokes, state.ClearedBefore), nil
	}

	// Fallback to DynamoDB, merged with strokes cached since the last load
	dbStrokes, err := s.Store.GetStrokeRecords(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	dbStrokes = afterWatermark(dbStrokes, state.ClearedBefore)

	finalStrokes := afterWatermark(mergeStrokes(dbStrokes, redisStrokes), state.ClearedBefore)
	if len(finalStrokes) > maxLoadedStrokes {
		finalStrokes = finalStrokes[len(finalStrokes)-maxLoadedStrokes:]
	}

	batchItems := make([]cache.StrokeCacheItem, 0, len(dbStrokes))
	for _, stroke := range dbStrokes {
		sBytes, err := json.Marshal(stroke)
		if err != nil {
			continue
		}
		t, _ := getTimeFromUUIDv7(stroke.Id)
		batchItems = append(batchItems, cache.StrokeCacheItem{
			StrokeId: stroke.Id,
			Score:    t.UnixMilli(),
			Data:     sBytes,
		})
	}

	if len(batchItems) > 0 {
		err = s.Cache.AddStrokesBatch(ctx, sessionId, batchItems)
	} else {
		// Mark as complete even if currently empty
		err = s.Cache.SetBoardComplete(ctx, sessionId)
	}
	if err != nil {
		log.Printf("Failed to warm cache for board %s: %v", sessionId, err)
	}

	return finalStrokes, nil
}

// afterWatermark drops strokes older than the board's last clear. UUIDv7
// strings sort by creation time.
func afterWatermark(strokes []models.Stroke, clearedBefore string) []models.Stroke {
	if clearedBefore == "" {
		return strokes
	}
	kept := make([]models.Stroke, 0, len(strokes))
	for _, stroke := range strokes {
		if stroke.Id >= clearedBefore {
			kept = append(kept, stroke)
		}
	}
	return kept
}

// mergeStrokes merges two id-ordered lists, preferring the cached copy of a
// stroke present in both.
func mergeStrokes(dbStrokes []models.Stroke, redisStrokes []models.Stroke) []models.Stroke {
	finalStrokes := make([]models.Stroke, 0, len(dbStrokes)+len(redisStrokes))
	i, j := 0, 0
	for i < len(dbStrokes) && j < len(redisStrokes) {
		dbId := dbStrokes[i].Id
		redisId := redisStrokes[j].Id

		switch {
		case dbId == redisId:
			finalStrokes = append(finalStrokes, redisStrokes[j])
			i++
			j++
		case dbId < redisId:
			finalStrokes = append(finalStrokes, dbStrokes[i])
			i++
		default:
			finalStrokes = append(finalStrokes, redisStrokes[j])
			j++
		}
	}
	finalStrokes = append(finalStrokes, dbStrokes[i:]...)
	finalStrokes = append(finalStrokes, redisStrokes[j:]...)
	return finalStrokes
}
