package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanQueue chan []byte

func (q chanQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case b := <-q:
		return b, nil
	case <-time.After(timeout):
		return nil, ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memorySink struct {
	mu      sync.Mutex
	batches [][]cache.RoomEventRecord
	fail    bool
}

func (s *memorySink) SaveRoomEvents(_ context.Context, recs []cache.RoomEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("db down")
	}
	s.batches = append(s.batches, recs)
	return nil
}

func (s *memorySink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *memorySink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func record(t *testing.T, code, typ string) []byte {
	t.Helper()
	data, err := json.Marshal(cache.RoomEventRecord{
		EventID:   uuid.New(),
		RoomCode:  code,
		EventType: typ,
		Payload:   json.RawMessage(`{}`),
		Timestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return data
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFlushesFullBatches(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memorySink{}
	svc := New(q, sink, 2, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()

	q <- record(t, "ABCD", "player-joined")
	q <- record(t, "ABCD", "player-ready")
	require.Eventually(t, func() bool { return sink.total() == 2 }, time.Second, 5*time.Millisecond)

	q <- record(t, "ABCD", "game-ended")
	require.Eventually(t, func() bool { return len(q) == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 3, sink.total(), "shutdown flushes the partial batch")
	assert.Len(t, sink.batches, 2)
}

func TestFlushesOnDelay(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memorySink{}
	svc := New(q, sink, 100, 20*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	q <- record(t, "WXYZ", "room-closed")
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSkipsMalformedRecords(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memorySink{}
	svc := New(q, sink, 1, time.Hour, quietLogger())

	q <- []byte("not json")
	q <- []byte(`{"room_code":"","event_type":"x"}`)
	q <- record(t, "ABCD", "chat")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 1, svc.Flushed())
}

func TestFailedFlushIsLoggedNotFatal(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memorySink{fail: true}
	svc := New(q, sink, 1, time.Hour, quietLogger())

	q <- record(t, "ABCD", "chat")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Run(ctx))
	assert.Zero(t, svc.Flushed())
}

func TestFailedBatchIsRetried(t *testing.T) {
	q := make(chanQueue, 10)
	sink := &memorySink{fail: true}
	svc := New(q, sink, 1, 20*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()

	q <- record(t, "ABCD", "player-joined")
	q <- record(t, "ABCD", "chat")
	require.Eventually(t, func() bool { return len(q) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.total())

	sink.setFail(false)
	require.Eventually(t, func() bool { return sink.total() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 2, svc.Flushed())
}
