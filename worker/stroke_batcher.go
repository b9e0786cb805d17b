package worker

import (
	"context"
	"log"
	"time"

	"github.com/zlnvch/learnlink/models"
	"github.com/zlnvch/learnlink/store"
)

// DynamoDB BatchWriteItem accepts at most 25 items.
const maxBatchSize = 25

// DeleteStrokeRequest cancels a pending write. When Pending is set the
// batcher answers whether the stroke was still waiting. The answer is only
// given between flushes, so false means any write of the stroke has landed.
type DeleteStrokeRequest struct {
	SessionId string
	StrokeId  string
	UserId    string
	Pending   chan<- bool
}

// ClearBoardRequest drops pending strokes of a board whose id sorts before
// Before. An empty Before drops every pending stroke of the board.
type ClearBoardRequest struct {
	SessionId string
	Before    string
}

type StrokeBatcher struct {
	WriteCh        chan models.StrokeRecord
	DeleteCh       chan DeleteStrokeRequest
	ClearCh        chan ClearBoardRequest
	classroomStore store.ClassroomStore
	counterBatcher *CounterBatcher
	flushInterval  time.Duration
}

// Deletes are not batched: BatchWriteItem has no ConditionExpression and an
// undo must only remove the caller's own stroke. DeleteCh and ClearCh only
// cancel writes that are still waiting in the buffer.
func NewStrokeBatcher(classroomStore store.ClassroomStore, flushInterval time.Duration, counterBatcher *CounterBatcher) *StrokeBatcher {
	return &StrokeBatcher{
		WriteCh:        make(chan models.StrokeRecord, 1024),
		DeleteCh:       make(chan DeleteStrokeRequest, 1024),
		ClearCh:        make(chan ClearBoardRequest, 64),
		classroomStore: classroomStore,
		counterBatcher: counterBatcher,
		flushInterval:  flushInterval,
	}
}

func (b *StrokeBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	batch := make([]models.StrokeRecord, 0, maxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not derived from shutdownCtx: the final flush must still reach the store
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		unprocessed, err := b.classroomStore.WriteStrokeBatch(ctx, batch)
		if err != nil {
			log.Printf("Error writing stroke batch to dynamo: %v", err)
		}

		failed := make(map[string]bool, len(unprocessed))
		for _, u := range unprocessed {
			failed[u.Stroke.Id] = true
		}

		perSession := make(map[string]int)
		for _, record := range batch {
			if !failed[record.Stroke.Id] {
				perSession[record.SessionId]++
			}
		}
		for sessionId, n := range perSession {
			b.counterBatcher.UpdateCh <- CounterUpdate{SessionId: sessionId, Delta: n}
		}

		batch = batch[:0]
	}

	add := func(record models.StrokeRecord) {
		batch = append(batch, record)
		if len(batch) == maxBatchSize {
			flush()
		}
	}

	// Writes queued before a cancel must be in the batch when it is applied,
	// otherwise select may pick the cancel first and the write slips through.
	drainWrites := func() {
		for {
			select {
			case record := <-b.WriteCh:
				add(record)
			default:
				return
			}
		}
	}

	for {
		select {
		case record := <-b.WriteCh:
			add(record)

		case req := <-b.DeleteCh:
			drainWrites()
			before := len(batch)
			batch = removePending(batch, func(r models.StrokeRecord) bool {
				return r.SessionId == req.SessionId && r.Stroke.Id == req.StrokeId && r.Stroke.UserId == req.UserId
			})
			if req.Pending != nil {
				// buffered by the sender
				req.Pending <- len(batch) < before
			}

		case req := <-b.ClearCh:
			drainWrites()
			batch = removePending(batch, func(r models.StrokeRecord) bool {
				return r.SessionId == req.SessionId && (req.Before == "" || r.Stroke.Id < req.Before)
			})

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			drainWrites()
			flush()
			return
		}
	}
}

// removePending filters the batch in place, keeping write order.
func removePending(batch []models.StrokeRecord, drop func(models.StrokeRecord) bool) []models.StrokeRecord {
	kept := batch[:0]
	for _, record := range batch {
		if !drop(record) {
			kept = append(kept, record)
		}
	}
	clear(batch[len(kept):])
	return kept
}
