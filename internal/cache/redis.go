// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list (queue) the historian drains.
const DefaultQueueName = "trivia_room_events"

// RoomEventRecord is one journal entry as it travels through Redis.
type RoomEventRecord struct {
	EventID   uuid.UUID       `json:"event_id"`
	RoomCode  string          `json:"room_code"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // epoch millis
}

// Connect opens a Redis client and checks it answers a PING.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Pusher is the slice of the Redis API the journal needs.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// PublishRoomEvent serializes record and pushes it onto queue.
func PublishRoomEvent(ctx context.Context, rdb Pusher, queue string, record RoomEventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal RoomEventRecord: %w", err)
	}
	if err := rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queue, err)
	}
	return nil
}

// Journal forwards room events to Redis from its own goroutine so rooms never wait
// on the network. Records that do not fit in the buffer are dropped with a warning.
type Journal struct {
	rdb     Pusher
	queue   string
	logger  *logrus.Logger
	records chan RoomEventRecord
}

// NewJournal returns a journal with room for buffer pending records. Call Run to
// start publishing.
func NewJournal(rdb Pusher, queue string, buffer int, logger *logrus.Logger) *Journal {
	if queue == "" {
		queue = DefaultQueueName
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{
		rdb:     rdb,
		queue:   queue,
		logger:  logger,
		records: make(chan RoomEventRecord, buffer),
	}
}

// Record implements room.Journal.
func (j *Journal) Record(code, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		j.logger.WithFields(logrus.Fields{"room": code, "event": eventType}).WithError(err).Warn("unable to encode room event")
		return
	}
	rec := RoomEventRecord{
		EventID:   uuid.New(),
		RoomCode:  code,
		EventType: eventType,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}
	select {
	case j.records <- rec:
	default:
		j.logger.WithFields(logrus.Fields{"room": code, "event": eventType}).Warn("journal buffer full, dropped room event")
	}
}

// Run publishes records until ctx is cancelled, then drains what is left with a
// short grace period.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-j.records:
			j.publish(ctx, rec)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for {
				select {
				case rec := <-j.records:
					j.publish(drainCtx, rec)
				default:
					return nil
				}
			}
		}
	}
}

func (j *Journal) publish(ctx context.Context, rec RoomEventRecord) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := PublishRoomEvent(pctx, j.rdb, j.queue, rec); err != nil {
		j.logger.WithField("room", rec.RoomCode).WithError(err).Warn("failed to publish room event")
	}
}
