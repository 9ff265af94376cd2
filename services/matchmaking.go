package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"codeclash/metrics"
	"codeclash/models"
)

// SessionCreator is the piece of the duel engine matchmaking needs: turn
// two matched tickets into a running session.
type SessionCreator interface {
	CreateMatchedSession(first, second models.MatchmakingTicket) (string, error)
	HasActiveSession(userID string) bool
}

// MatchmakingService pairs waiting players by exact (difficulty, category).
// Each bucket is a FIFO queue: the longest-waiting compatible ticket wins.
type MatchmakingService struct {
	engine SessionCreator

	mutex   sync.Mutex
	buckets map[bucketKey][]*models.MatchmakingTicket
	byUser  map[string]bucketKey
}

type bucketKey struct {
	Difficulty string
	Category   string
}

// MatchResult reports what Enqueue did: either the ticket was queued, or a
// session already exists for the pairing.
type MatchResult struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"sessionId,omitempty"`
	Position  int    `json:"position,omitempty"`
}

// NewMatchmakingService builds the service and starts the stale-ticket
// reaper.
func NewMatchmakingService(engine SessionCreator) *MatchmakingService {
	ms := &MatchmakingService{
		engine:  engine,
		buckets: make(map[bucketKey][]*models.MatchmakingTicket),
		byUser:  make(map[string]bucketKey),
	}
	go ms.cleanupStaleTickets()
	return ms
}

// Enqueue adds the user to the queue for (difficulty, category). When a
// compatible ticket is already waiting, the pair is matched immediately and
// the new session's ID is returned; the earlier enqueuer learns about it by
// polling for their active session.
func (ms *MatchmakingService) Enqueue(userID, displayName, difficulty, category string) (*MatchResult, error) {
	if difficulty == "" || category == "" {
		return nil, fmt.Errorf("%w: difficulty and category are required", models.ErrValidation)
	}
	if ms.engine.HasActiveSession(userID) {
		return nil, fmt.Errorf("%w: user already has an active session", models.ErrConflict)
	}

	key := bucketKey{Difficulty: difficulty, Category: category}

	ms.mutex.Lock()
	if _, queued := ms.byUser[userID]; queued {
		ms.mutex.Unlock()
		return nil, fmt.Errorf("%w: user already queued", models.ErrConflict)
	}

	ticket := &models.MatchmakingTicket{
		UserID:      userID,
		DisplayName: displayName,
		Difficulty:  difficulty,
		Category:    category,
		EnqueuedAt:  time.Now(),
	}

	queue := ms.buckets[key]
	// Drop tickets whose owner has since started a duel another way (AI
	// opponent, private room); a stale head would poison every later match
	// in the bucket.
	for len(queue) > 0 && ms.engine.HasActiveSession(queue[0].UserID) {
		stale := queue[0]
		queue = queue[1:]
		delete(ms.byUser, stale.UserID)
		log.Printf("matchmaking: dropped stale ticket for %s in %s/%s", stale.UserID, difficulty, category)
	}
	ms.buckets[key] = queue

	if len(queue) > 0 {
		// FIFO: pair with the head of the bucket.
		head := queue[0]
		ms.buckets[key] = queue[1:]
		delete(ms.byUser, head.UserID)
		ms.mutex.Unlock()
		ms.recordDepth(key)

		sessionID, err := ms.engine.CreateMatchedSession(*head, *ticket)
		if err != nil {
			// The head keeps their place in line unless the failure was
			// their own seat conflict, in which case the ticket is dead.
			if !ms.engine.HasActiveSession(head.UserID) {
				ms.requeueFront(key, head)
			}
			return nil, err
		}
		log.Printf("matchmaking: paired %s with %s in %s/%s", head.UserID, userID, difficulty, category)
		return &MatchResult{Matched: true, SessionID: sessionID}, nil
	}

	ms.buckets[key] = append(queue, ticket)
	ms.byUser[userID] = key
	position := len(ms.buckets[key])
	ms.mutex.Unlock()
	ms.recordDepth(key)

	return &MatchResult{Matched: false, Position: position}, nil
}

// Dequeue removes the user's ticket. Removing an absent ticket is not an
// error; the user may have been matched a moment ago.
func (ms *MatchmakingService) Dequeue(userID string) bool {
	ms.mutex.Lock()
	key, queued := ms.byUser[userID]
	if !queued {
		ms.mutex.Unlock()
		return false
	}
	delete(ms.byUser, userID)
	queue := ms.buckets[key]
	for i, t := range queue {
		if t.UserID == userID {
			ms.buckets[key] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	ms.mutex.Unlock()
	ms.recordDepth(key)
	return true
}

// QueueDepth returns the number of tickets waiting in one bucket.
func (ms *MatchmakingService) QueueDepth(difficulty, category string) int {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	return len(ms.buckets[bucketKey{Difficulty: difficulty, Category: category}])
}

// IsQueued reports whether the user currently holds a ticket.
func (ms *MatchmakingService) IsQueued(userID string) bool {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	_, queued := ms.byUser[userID]
	return queued
}

func (ms *MatchmakingService) requeueFront(key bucketKey, ticket *models.MatchmakingTicket) {
	ms.mutex.Lock()
	ms.buckets[key] = append([]*models.MatchmakingTicket{ticket}, ms.buckets[key]...)
	ms.byUser[ticket.UserID] = key
	ms.mutex.Unlock()
	ms.recordDepth(key)
}

func (ms *MatchmakingService) recordDepth(key bucketKey) {
	ms.mutex.Lock()
	depth := len(ms.buckets[key])
	ms.mutex.Unlock()
	metrics.QueueDepth.WithLabelValues(key.Difficulty, key.Category).Set(float64(depth))
}

// cleanupStaleTickets drops tickets older than 10 minutes so abandoned tabs
// do not get matched against live players.
func (ms *MatchmakingService) cleanupStaleTickets() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		var touched []bucketKey
		ms.mutex.Lock()
		for key, queue := range ms.buckets {
			kept := queue[:0]
			for _, t := range queue {
				if t.EnqueuedAt.After(cutoff) {
					kept = append(kept, t)
				} else {
					delete(ms.byUser, t.UserID)
					log.Printf("matchmaking: expired ticket for %s in %s/%s", t.UserID, key.Difficulty, key.Category)
				}
			}
			if len(kept) != len(queue) {
				touched = append(touched, key)
			}
			ms.buckets[key] = kept
		}
		ms.mutex.Unlock()
		for _, key := range touched {
			ms.recordDepth(key)
		}
	}
}
