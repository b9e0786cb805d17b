package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zlnvch/learnlink/models"
	storemocks "github.com/zlnvch/learnlink/store/mocks"
)

func record(sessionId, strokeId, userId string) models.StrokeRecord {
	return models.StrokeRecord{
		SessionId: sessionId,
		Stroke:    models.Stroke{Id: strokeId, UserId: userId, Tool: models.ToolPen},
	}
}

func TestRemovePending_KeepsOrder(t *testing.T) {
	batch := []models.StrokeRecord{
		record("s1", "a", "u1"),
		record("s2", "b", "u1"),
		record("s1", "c", "u2"),
	}

	kept := removePending(batch, func(r models.StrokeRecord) bool { return r.SessionId == "s1" && r.Stroke.Id == "a" })

	require.Len(t, kept, 2)
	assert.Equal(t, "b", kept[0].Stroke.Id)
	assert.Equal(t, "c", kept[1].Stroke.Id)
}

func runBatcher(t *testing.T, mockStore *storemocks.MockStore) (*StrokeBatcher, *CounterBatcher, context.CancelFunc, chan struct{}) {
	t.Helper()
	counterBatcher := NewCounterBatcher(mockStore, time.Hour)
	strokeBatcher := NewStrokeBatcher(mockStore, time.Hour, counterBatcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		strokeBatcher.Run(ctx)
		close(done)
	}()
	return strokeBatcher, counterBatcher, cancel, done
}

func TestStrokeBatcher_DeleteCancelsPendingWrite(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	strokeBatcher, counterBatcher, cancel, done := runBatcher(t, mockStore)

	var written []models.StrokeRecord
	mockStore.On("WriteStrokeBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written = append([]models.StrokeRecord(nil), args.Get(1).([]models.StrokeRecord)...)
		}).
		Return([]models.StrokeRecord{}, nil).Once()

	strokeBatcher.WriteCh <- record("s1", "a", "u1")
	strokeBatcher.WriteCh <- record("s1", "b", "u1")
	// wrong owner is ignored
	strokeBatcher.DeleteCh <- DeleteStrokeRequest{SessionId: "s1", StrokeId: "b", UserId: "u2"}
	strokeBatcher.DeleteCh <- DeleteStrokeRequest{SessionId: "s1", StrokeId: "a", UserId: "u1"}

	cancel()
	<-done

	require.Len(t, written, 1)
	assert.Equal(t, "b", written[0].Stroke.Id)

	update := <-counterBatcher.UpdateCh
	assert.Equal(t, CounterUpdate{SessionId: "s1", Delta: 1}, update)
}

func TestStrokeBatcher_ClearDropsOlderPendingStrokes(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	strokeBatcher, _, cancel, done := runBatcher(t, mockStore)

	var written []models.StrokeRecord
	mockStore.On("WriteStrokeBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			written = append([]models.StrokeRecord(nil), args.Get(1).([]models.StrokeRecord)...)
		}).
		Return([]models.StrokeRecord{}, nil).Once()

	strokeBatcher.WriteCh <- record("s1", "0001", "u1")
	strokeBatcher.WriteCh <- record("s2", "0002", "u1")
	strokeBatcher.WriteCh <- record("s1", "0009", "u1")
	strokeBatcher.ClearCh <- ClearBoardRequest{SessionId: "s1", Before: "0005"}

	cancel()
	<-done

	require.Len(t, written, 2)
	assert.Equal(t, "0002", written[0].Stroke.Id)
	assert.Equal(t, "0009", written[1].Stroke.Id)
}

func TestStrokeBatcher_FlushAtBatchSize(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	strokeBatcher, counterBatcher, cancel, done := runBatcher(t, mockStore)
	defer func() {
		cancel()
		<-done
	}()

	// one stroke comes back unprocessed and must not be counted
	mockStore.On("WriteStrokeBatch", mock.Anything, mock.MatchedBy(func(b []models.StrokeRecord) bool { return len(b) == maxBatchSize })).
		Return([]models.StrokeRecord{record("s1", "xa", "u1")}, nil).Once()

	for i := 0; i < maxBatchSize; i++ {
		strokeBatcher.WriteCh <- record("s1", "x"+string(rune('a'+i)), "u1")
	}

	select {
	case update := <-counterBatcher.UpdateCh:
		assert.Equal(t, "s1", update.SessionId)
		assert.Equal(t, maxBatchSize-1, update.Delta)
	case <-time.After(time.Second):
		t.Fatal("batch was not flushed")
	}
}

func TestStrokeBatcher_DeleteAnsweredAfterInFlightFlush(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	strokeBatcher, counterBatcher, cancel, done := runBatcher(t, mockStore)
	defer func() {
		cancel()
		<-done
	}()

	entered := make(chan struct{})
	release := make(chan struct{})
	mockStore.On("WriteStrokeBatch", mock.Anything, mock.MatchedBy(func(b []models.StrokeRecord) bool { return len(b) == maxBatchSize })).
		Run(func(args mock.Arguments) {
			close(entered)
			<-release
		}).
		Return([]models.StrokeRecord{}, nil).Once()

	for i := 0; i < maxBatchSize; i++ {
		strokeBatcher.WriteCh <- record("s1", "x"+string(rune('a'+i)), "u1")
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("batch was not flushed")
	}

	pending := make(chan bool, 1)
	strokeBatcher.DeleteCh <- DeleteStrokeRequest{SessionId: "s1", StrokeId: "xa", UserId: "u1", Pending: pending}

	select {
	case <-pending:
		t.Fatal("delete answered while the write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case wasPending := <-pending:
		// the write landed, so the caller must delete from the store
		assert.False(t, wasPending)
	case <-time.After(time.Second):
		t.Fatal("delete was not answered")
	}

	update := <-counterBatcher.UpdateCh
	assert.Equal(t, CounterUpdate{SessionId: "s1", Delta: maxBatchSize}, update)
}

func TestStrokeBatcher_DeleteReportsPendingWrite(t *testing.T) {
	mockStore := new(storemocks.MockStore)
	strokeBatcher, _, cancel, done := runBatcher(t, mockStore)
	defer func() {
		cancel()
		<-done
	}()
	mockStore.On("WriteStrokeBatch", mock.Anything, mock.Anything).Return([]models.StrokeRecord{}, nil).Maybe()

	strokeBatcher.WriteCh <- record("s1", "a", "u1")

	pending := make(chan bool, 1)
	strokeBatcher.DeleteCh <- DeleteStrokeRequest{SessionId: "s1", StrokeId: "a", UserId: "u1", Pending: pending}
	assert.True(t, <-pending)

	// someone else's stroke is never reported as pending
	strokeBatcher.WriteCh <- record("s1", "b", "u1")
	other := make(chan bool, 1)
	strokeBatcher.DeleteCh <- DeleteStrokeRequest{SessionId: "s1", StrokeId: "b", UserId: "u2", Pending: other}
	assert.False(t, <-other)
}
