// internal/historian/historian.go
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/trivia/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrEmpty is returned by a Queue when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Queue hands out raw journal messages.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Sink stores a batch of room events.
type Sink interface {
	SaveRoomEvents(ctx context.Context, records []cache.RoomEventRecord) error
}

// RedisQueue pops from a Redis list with BLPOP.
type RedisQueue struct {
	Client *redis.Client
	Name   string
}

// Pop implements Queue.
func (q RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.Client.BLPop(ctx, timeout, q.Name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return nil, ErrEmpty
	}
	return []byte(res[1]), nil
}

// Service drains the journal queue into the database in batches.
type Service struct {
	queue      Queue
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	logger     *logrus.Logger

	batch     []cache.RoomEventRecord
	lastFlush time.Time
	retryAt   time.Time
	flushed   int
}

// maxRetained bounds the records kept in memory while the database is failing.
const maxRetained = 10000

// New returns a historian service. A batch is written once it holds batchSize
// records or flushDelay has passed since the last write.
func New(queue Queue, sink Sink, batchSize int, flushDelay time.Duration, logger *logrus.Logger) *Service {
	if batchSize < 1 {
		batchSize = 1
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	return &Service{
		queue:      queue,
		sink:       sink,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		logger:     logger,
		batch:      make([]cache.RoomEventRecord, 0, batchSize),
	}
}

// Run processes the queue until ctx is cancelled. Pending records are flushed
// before returning.
func (s *Service) Run(ctx context.Context) error {
	s.lastFlush = time.Now()
	s.logger.Info("historian started")
	defer s.logger.Info("historian stopped")

	for {
		if ctx.Err() != nil {
			s.flush(context.Background())
			return nil
		}

		data, err := s.queue.Pop(ctx, s.flushDelay)
		switch {
		case err == nil:
			s.handle(data)
		case errors.Is(err, ErrEmpty):
		case ctx.Err() != nil:
			continue
		default:
			s.logger.WithError(err).Error("queue pop failed")
			select {
			case <-ctx.Done():
			case <-time.After(s.flushDelay):
			}
		}

		due := len(s.batch) >= s.batchSize || (len(s.batch) > 0 && time.Since(s.lastFlush) >= s.flushDelay)
		if due && !time.Now().Before(s.retryAt) {
			s.flush(ctx)
		}
	}
}

// Flushed returns the number of records written so far.
func (s *Service) Flushed() int { return s.flushed }

func (s *Service) handle(data []byte) {
	var rec cache.RoomEventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.WithError(err).Warn("invalid room event record")
		return
	}
	if rec.RoomCode == "" || rec.EventType == "" {
		s.logger.Warn("room event record missing room or type")
		return
	}
	s.batch = append(s.batch, rec)
}

// flush writes the batch. On failure the records stay in the batch and are
// retried after flushDelay; the oldest are dropped past maxRetained.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.sink.SaveRoomEvents(wctx, s.batch); err != nil {
		s.retryAt = time.Now().Add(s.flushDelay)
		s.logger.WithError(fmt.Errorf("save %d room events: %w", len(s.batch), err)).Error("flush failed, will retry")
		if over := len(s.batch) - maxRetained; over > 0 {
			s.logger.WithField("dropped", over).Error("historian backlog full, dropping oldest room events")
			s.batch = append(s.batch[:0], s.batch[over:]...)
		}
		return
	}
	s.flushed += len(s.batch)
	s.logger.WithField("count", len(s.batch)).Debug("flushed room events")
	s.batch = make([]cache.RoomEventRecord, 0, s.batchSize)
	s.retryAt = time.Time{}
}
