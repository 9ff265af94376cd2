package duel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"codeclash/structs"

	"github.com/redis/go-redis/v9"
)

// StreamEvent is the envelope written to a duel's Redis Stream. Spectator
// and replay consumers read these; the live protocol never does.
type StreamEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// UnmarshalStreamEvent decodes one stream entry's data field.
func UnmarshalStreamEvent(data string) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// RedisPublisher mirrors broadcast messages onto per-duel Redis Streams.
type RedisPublisher struct {
	rdb *redis.Client
	ctx context.Context
}

// NewRedisPublisher builds a publisher over the shared client. Returns nil
// when Redis is not configured.
func NewRedisPublisher() *RedisPublisher {
	client := GetRedisClient()
	if client == nil {
		return nil
	}
	return &RedisPublisher{rdb: client, ctx: context.Background()}
}

func streamKey(sessionID string) string {
	return fmt.Sprintf("duel:%s:events", sessionID)
}

// Publish appends a broadcast message to the duel's stream. Best effort:
// failures are logged, never surfaced to the duel path.
func (p *RedisPublisher) Publish(sessionID string, msg structs.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("stream publish: marshal failed: %v", err)
		return
	}
	event := StreamEvent{
		Type:      msg.Type,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("stream publish: marshal failed: %v", err)
		return
	}

	// MAXLEN with approximate trimming bounds per-duel history.
	_, err = p.rdb.XAdd(p.ctx, &redis.XAddArgs{
		Stream: streamKey(sessionID),
		Values: map[string]interface{}{
			"data": string(data),
		},
		MaxLen: 10000,
		Approx: true,
	}).Result()
	if err != nil {
		log.Printf("stream publish: xadd failed for %s: %v", sessionID, err)
	}
}

// ReadEvents returns up to count stream events after the given ID ("0" for
// the beginning). Spectator endpoints page through history with this.
func (p *RedisPublisher) ReadEvents(ctx context.Context, sessionID, afterID string, count int64) ([]redis.XMessage, error) {
	start := "-"
	if afterID != "" && afterID != "0" {
		start = "(" + afterID
	}
	msgs, err := p.rdb.XRangeN(ctx, streamKey(sessionID), start, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read duel stream: %w", err)
	}
	return msgs, nil
}
