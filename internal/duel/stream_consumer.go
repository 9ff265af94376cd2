package duel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// SpectatorHub receives stream events for fan-out to spectator connections.
type SpectatorHub interface {
	BroadcastToSpectators(sessionID string, event *StreamEvent)
}

// StreamConsumer reads a duel's Redis Stream through a consumer group and
// forwards events to the spectator hub. Participants never go through this
// path; their channel is fed directly by the engine.
type StreamConsumer struct {
	rdb          *redis.Client
	ctx          context.Context
	consumerName string
	hub          SpectatorHub
}

// NewStreamConsumer creates a consumer bound to the spectator hub. Returns
// nil when Redis is not configured.
func NewStreamConsumer(hub SpectatorHub) *StreamConsumer {
	rdb := GetRedisClient()
	if rdb == nil {
		return nil
	}

	hostname, _ := os.Hostname()
	consumerName := fmt.Sprintf("consumer-%s-%d", hostname, os.Getpid())

	return &StreamConsumer{
		rdb:          rdb,
		ctx:          context.Background(),
		consumerName: consumerName,
		hub:          hub,
	}
}

// StartConsumerGroup begins consuming the duel's event stream.
func (sc *StreamConsumer) StartConsumerGroup(sessionID string) error {
	if sc == nil || sc.rdb == nil {
		return fmt.Errorf("Redis client not available")
	}

	key := streamKey(sessionID)
	groupName := fmt.Sprintf("duel:%s:group", sessionID)

	err := sc.rdb.XGroupCreateMkStream(sc.ctx, key, groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		// BUSYGROUP just means another instance created it first; anything
		// else is a real failure.
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go sc.consumeLoop(sessionID, key, groupName)
	return nil
}

func (sc *StreamConsumer) consumeLoop(sessionID, key, groupName string) {
	for {
		streams, err := sc.rdb.XReadGroup(sc.ctx, &redis.XReadGroupArgs{
			Group:    groupName,
			Consumer: sc.consumerName,
			Streams:  []string{key, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()

		if err != nil {
			if err == redis.Nil {
				continue
			}
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := sc.processMessage(sessionID, message); err != nil {
					continue
				}
				sc.rdb.XAck(sc.ctx, key, groupName, message.ID)
			}
		}

		go sc.reclaimPendingMessages(sessionID, key, groupName)
	}
}

func (sc *StreamConsumer) processMessage(sessionID string, message redis.XMessage) error {
	data, ok := message.Values["data"].(string)
	if !ok {
		return fmt.Errorf("invalid message format: missing data field")
	}

	event, err := UnmarshalStreamEvent(data)
	if err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	sc.hub.BroadcastToSpectators(sessionID, event)
	return nil
}

// reclaimPendingMessages claims messages another instance read but never
// ACKed, so spectators do not silently lose events on a crashed node.
func (sc *StreamConsumer) reclaimPendingMessages(sessionID, key, groupName string) {
	pending, err := sc.rdb.XPendingExt(sc.ctx, &redis.XPendingExtArgs{
		Stream: key,
		Group:  groupName,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return
	}

	for _, p := range pending {
		if p.Idle > 30*time.Second {
			claimed, err := sc.rdb.XClaim(sc.ctx, &redis.XClaimArgs{
				Stream:   key,
				Group:    groupName,
				Consumer: sc.consumerName,
				MinIdle:  30 * time.Second,
				Messages: []string{p.ID},
			}).Result()

			if err == nil && len(claimed) > 0 {
				for _, msg := range claimed {
					sc.processMessage(sessionID, msg)
					sc.rdb.XAck(sc.ctx, key, groupName, msg.ID)
				}
			}
		}
	}
}
