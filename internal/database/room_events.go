package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/trivia/internal/cache"
)

// SaveRoomEvents implements historian.Sink. Redelivered events are ignored.
func (s *Store) SaveRoomEvents(ctx context.Context, records []cache.RoomEventRecord) error {
	if len(records) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			payload := []byte(rec.Payload)
			if len(payload) == 0 {
				payload = []byte("null")
			}
			batch.Queue(`
				INSERT INTO room_events (event_id, room_code, event_type, payload, occurred_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (event_id) DO NOTHING`,
				rec.EventID, rec.RoomCode, rec.EventType, payload, time.UnixMilli(rec.Timestamp))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d room events: %w", len(records), err)
	}
	return nil
}

// CountRoomEvents returns how many journal rows exist for a room.
func (s *Store) CountRoomEvents(ctx context.Context, code string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM room_events WHERE room_code = $1`, code).Scan(&n)
	return n, err
}
