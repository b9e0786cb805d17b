package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zlnvch/learnlink/cache"
	"github.com/zlnvch/learnlink/mq"
	"github.com/zlnvch/learnlink/store"
)

type PurgeKind string

const (
	PurgeBoard PurgeKind = "board"
	PurgeUser  PurgeKind = "user"
)

// PurgeJob is the body of a purge queue message.
//
// A board purge removes the strokes of SessionId older than Before (all of
// them when Before is empty). A user purge removes every stroke UserId ever
// drew, across all boards.
type PurgeJob struct {
	Kind      PurgeKind `json:"kind"`
	SessionId string    `json:"sessionId,omitempty"`
	UserId    string    `json:"userId,omitempty"`
	Before    string    `json:"before,omitempty"`
}

// ErrInvalidJob marks a job that can never succeed; it is acknowledged
// instead of redelivered.
var ErrInvalidJob = errors.New("invalid purge job")

type MQConsumer struct {
	purgeQueue     mq.MessageQueue
	classroomStore store.ClassroomStore
	classroomCache cache.ClassroomCache
}

func NewMQConsumer(purgeQueue mq.MessageQueue, classroomStore store.ClassroomStore, classroomCache cache.ClassroomCache) *MQConsumer {
	return &MQConsumer{
		purgeQueue:     purgeQueue,
		classroomStore: classroomStore,
		classroomCache: classroomCache,
	}
}

// Allow up to 5 minutes for a throttled batch deletion
const visibilityTimeout = 300

func (mqConsumer *MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.purgeQueue.Receive(shutdownCtx, visibilityTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("mqConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var job PurgeJob
		if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
			log.Printf("mqConsumer dropping malformed job: %v", err)
			mqConsumer.ack(msg)
			continue
		}

		// a little less than the visibility timeout so a slow job is not redelivered mid-run
		ctx, cancel := context.WithTimeout(context.Background(), (visibilityTimeout-1)*time.Second)
		err = mqConsumer.Handle(ctx, job)
		cancel()

		if errors.Is(err, ErrInvalidJob) {
			log.Printf("mqConsumer dropping job: %v", err)
			mqConsumer.ack(msg)
			continue
		}
		if err != nil {
			// left on the queue; SQS redelivers after the visibility timeout
			log.Printf("mqConsumer %s purge error: %v", job.Kind, err)
			continue
		}

		mqConsumer.ack(msg)
	}
}

func (mqConsumer *MQConsumer) ack(msg *mq.Message) {
	if err := mqConsumer.purgeQueue.Delete(context.Background(), msg); err != nil {
		log.Printf("mqConsumer delete error: %v", err)
	}
}

// Handle runs one purge job.
func (mqConsumer *MQConsumer) Handle(ctx context.Context, job PurgeJob) error {
	switch job.Kind {
	case PurgeBoard:
		if job.SessionId == "" {
			return fmt.Errorf("%w: board purge without session id", ErrInvalidJob)
		}
		return mqConsumer.classroomStore.DeleteBoardStrokes(ctx, job.SessionId, job.Before)

	case PurgeUser:
		if job.UserId == "" {
			return fmt.Errorf("%w: user purge without user id", ErrInvalidJob)
		}
		// Collect affected boards first; the index is empty once the strokes are gone
		boards, err := mqConsumer.classroomStore.GetUserBoards(ctx, job.UserId)
		if err != nil {
			log.Printf("Failed to get user boards: %v", err)
		}

		if err := mqConsumer.classroomStore.DeleteUserStrokes(ctx, job.UserId); err != nil {
			return err
		}

		if len(boards) > 0 {
			if err := mqConsumer.classroomCache.InvalidateBoards(ctx, boards); err != nil {
				log.Printf("Failed to invalidate boards: %v", err)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, job.Kind)
	}
}
