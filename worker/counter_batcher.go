package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zlnvch/learnlink/store"
)

type CounterUpdate struct {
	SessionId string
	Delta     int
}

// CounterBatcher folds stroke count changes per session and writes them on
// a timer, so a busy board costs one UpdateItem per interval.
type CounterBatcher struct {
	UpdateCh       chan CounterUpdate
	classroomStore store.ClassroomStore
	flushInterval  time.Duration
}

func NewCounterBatcher(classroomStore store.ClassroomStore, flushInterval time.Duration) *CounterBatcher {
	return &CounterBatcher{
		UpdateCh:       make(chan CounterUpdate, 1024),
		classroomStore: classroomStore,
		flushInterval:  flushInterval,
	}
}

func (b *CounterBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	sessionCounts := make(map[string]int)

	flush := func() {
		for sessionId, count := range sessionCounts {
			if count == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := b.classroomStore.IncrementSessionStrokeCount(ctx, sessionId, count)
			cancel()
			if err != nil {
				if errors.Is(err, store.ErrItemNotFound) {
					// session deleted in the meantime
					continue
				}
				log.Printf("Failed to update stroke count for session %s: %v", sessionId, err)
			}
		}
		clear(sessionCounts)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.SessionId != "" {
				sessionCounts[update.SessionId] += update.Delta
			}
			if len(sessionCounts) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
