package duel

import (
	"fmt"
	"sync"

	"codeclash/models"
)

// Archiver receives write-through snapshots of sessions. The Mongo-backed
// implementation lives in the db package; a nil archiver is valid.
type Archiver interface {
	ArchiveSession(s *models.DuelSession)
}

type sessionEntry struct {
	mu sync.Mutex
	s  *models.DuelSession
}

// SessionStore is the single source of truth for live duels. Every mutation
// of a given session runs under that session's lock, so there is exactly one
// mutation in flight per session id. Index maps track which users and room
// codes are bound to non-terminal sessions.
type SessionStore struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionEntry
	byUser     map[string]string // userID -> active sessionID
	byRoomCode map[string]string // active room code -> sessionID
	archiver   Archiver
}

// NewSessionStore creates an empty store. archiver may be nil.
func NewSessionStore(archiver Archiver) *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*sessionEntry),
		byUser:     make(map[string]string),
		byRoomCode: make(map[string]string),
		archiver:   archiver,
	}
}

// Put registers a new session and claims its user seats and room code.
// Fails with ErrConflict when a human participant already has an active
// session, or when the room code collides with another non-terminal room.
func (st *SessionStore) Put(s *models.DuelSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[s.ID]; exists {
		return fmt.Errorf("%w: session %s already exists", models.ErrConflict, s.ID)
	}
	for _, p := range s.Participants {
		if p.IsAI {
			continue
		}
		if other, ok := st.byUser[p.UserID]; ok {
			return fmt.Errorf("%w: user %s already in active session %s", models.ErrConflict, p.UserID, other)
		}
	}
	if s.RoomCode != "" {
		if _, ok := st.byRoomCode[s.RoomCode]; ok {
			return fmt.Errorf("%w: room code %s in use", models.ErrConflict, s.RoomCode)
		}
	}

	st.sessions[s.ID] = &sessionEntry{s: s}
	for _, p := range s.Participants {
		if !p.IsAI {
			st.byUser[p.UserID] = s.ID
		}
	}
	if s.RoomCode != "" {
		st.byRoomCode[s.RoomCode] = s.ID
	}
	if st.archiver != nil {
		st.archiver.ArchiveSession(s)
	}
	return nil
}

// Mutate runs fn against the session under its lock. The returned outbound
// messages are produced by fn (normally via reduce) and handed back for
// dispatch. When fn seats a new human participant the user index is claimed;
// when the session reaches a terminal state its user and room-code claims
// are released so codes can be reused.
func (st *SessionStore) Mutate(id string, fn func(s *models.DuelSession) ([]Outbound, error)) ([]Outbound, error) {
	entry, err := st.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	wasTerminal := entry.s.Status.Terminal()
	before := humanIDs(entry.s)

	outs, err := fn(entry.s)

	// Index upkeep happens even when fn failed partway: seats taken before
	// the error are real.
	st.mu.Lock()
	for _, uid := range humanIDs(entry.s) {
		if !containsID(before, uid) && !entry.s.Status.Terminal() {
			st.byUser[uid] = id
		}
	}
	if !wasTerminal && entry.s.Status.Terminal() {
		for _, uid := range humanIDs(entry.s) {
			if st.byUser[uid] == id {
				delete(st.byUser, uid)
			}
		}
		if entry.s.RoomCode != "" && st.byRoomCode[entry.s.RoomCode] == id {
			delete(st.byRoomCode, entry.s.RoomCode)
		}
	}
	st.mu.Unlock()

	if st.archiver != nil {
		st.archiver.ArchiveSession(entry.s)
	}
	return outs, err
}

// View runs fn against the session under its lock without index upkeep.
// fn must not retain the session pointer.
func (st *SessionStore) View(id string, fn func(s *models.DuelSession) error) error {
	entry, err := st.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.s)
}

// ActiveSessionID returns the non-terminal session the user is seated in.
func (st *SessionStore) ActiveSessionID(userID string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byUser[userID]
	return id, ok
}

// SessionIDByRoomCode resolves an active room code.
func (st *SessionStore) SessionIDByRoomCode(code string) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byRoomCode[code]
	return id, ok
}

// NonTerminalIDs returns the ids of every live session, for sweepers.
func (st *SessionStore) NonTerminalIDs() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	var ids []string
	for id, entry := range st.sessions {
		// Status read without the entry lock is a sweeper hint only; the
		// sweeper re-checks under Mutate.
		if !entry.s.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (st *SessionStore) entry(id string) (*sessionEntry, error) {
	st.mu.RLock()
	entry, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}
	return entry, nil
}

func humanIDs(s *models.DuelSession) []string {
	var ids []string
	for _, p := range s.Participants {
		if !p.IsAI {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
