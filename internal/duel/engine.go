package duel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"codeclash/config"
	"codeclash/metrics"
	"codeclash/models"
	"codeclash/structs"
	"codeclash/utils"

	"github.com/google/uuid"
)

const maxCodeBytes = 128 * 1024

// Judge is the external code-execution collaborator. It is the only
// dependency expected to block for a non-trivial duration. Non-scoring runs
// use the problem's visible test cases only; scoring runs use the full
// suite.
type Judge interface {
	Run(ctx context.Context, code, language string, problem *models.Problem, scoring bool) (*models.JudgeVerdict, error)
}

// ProblemSource picks or generates the problem attached to a duel.
type ProblemSource interface {
	Generate(ctx context.Context, difficulty, category, theme string) (*models.Problem, error)
}

// Broadcaster delivers outbound messages to the connected participants of a
// session. The websocket hub implements it.
type Broadcaster interface {
	Deliver(sessionID string, out Outbound)
}

// StreamPublisher mirrors broadcast messages to the duel event stream for
// spectators and audit. Delivery is best effort.
type StreamPublisher interface {
	Publish(sessionID string, msg structs.ServerMessage)
}

// Engine drives every duel session: it consumes protocol messages, judge
// verdicts, and timer ticks, applies them through the reduce transition
// function under the store's per-session serialization, and fans the
// resulting messages out to connected participants.
type Engine struct {
	store    *SessionStore
	judge    Judge
	problems ProblemSource
	cfg      config.DuelConfig

	mu          sync.Mutex
	broadcaster Broadcaster
	publisher   StreamPublisher
	timers      map[string]*time.Timer
	simulators  map[string]context.CancelFunc
}

// NewEngine wires the engine. Broadcaster and publisher are attached later,
// once the websocket hub and Redis exist.
func NewEngine(cfg config.DuelConfig, store *SessionStore, judge Judge, problems ProblemSource) *Engine {
	e := &Engine{
		store:      store,
		judge:      judge,
		problems:   problems,
		cfg:        cfg,
		timers:     make(map[string]*time.Timer),
		simulators: make(map[string]context.CancelFunc),
	}
	go e.waitingRoomSweeper()
	return e
}

// SetBroadcaster attaches the fan-out sink for outbound messages.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcaster = b
}

// SetPublisher attaches the spectator/audit event stream.
func (e *Engine) SetPublisher(p StreamPublisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// apply runs events through reduce under the session lock, dispatching the
// produced messages before the lock is released so a terminal broadcast is
// ordered after every message accepted before it.
func (e *Engine) apply(sessionID string, evs ...Event) error {
	var before, after models.DuelStatus
	var difficulty string
	var mode models.DuelMode
	var aiID string
	var timeLimit time.Duration

	_, err := e.store.Mutate(sessionID, func(s *models.DuelSession) ([]Outbound, error) {
		before = s.Status
		now := time.Now()
		var all []Outbound
		var ferr error
		for _, ev := range evs {
			outs, err := reduce(s, ev, now)
			all = append(all, outs...)
			if err != nil {
				ferr = err
				break
			}
		}
		after = s.Status
		difficulty = s.Difficulty
		mode = s.Mode
		timeLimit = s.TimeLimit
		for _, p := range s.Participants {
			if p.IsAI {
				aiID = p.UserID
			}
		}
		e.dispatch(sessionID, all)
		return all, ferr
	})

	e.afterTransition(sessionID, before, after, mode, difficulty, timeLimit, aiID)
	return err
}

func (e *Engine) dispatch(sessionID string, outs []Outbound) {
	e.mu.Lock()
	b := e.broadcaster
	p := e.publisher
	e.mu.Unlock()

	for _, out := range outs {
		if b != nil {
			b.Deliver(sessionID, out)
		}
		if p != nil && out.Target == "" {
			p.Publish(sessionID, out.Message)
		}
	}
}

// afterTransition runs side effects that belong outside the session lock:
// scheduling the timeout clock, starting or stopping the AI simulator, and
// bumping metrics.
func (e *Engine) afterTransition(sessionID string, before, after models.DuelStatus, mode models.DuelMode, difficulty string, timeLimit time.Duration, aiID string) {
	if before == after {
		return
	}
	if after == models.StatusInProgress {
		metrics.DuelsStarted.WithLabelValues(string(mode)).Inc()
		metrics.ActiveDuels.Inc()
		e.scheduleTimeout(sessionID, timeLimit)
		if mode == models.ModeAIOpponent && aiID != "" {
			e.startSimulator(sessionID, aiID, difficulty)
		}
	}
	if after.Terminal() {
		if before == models.StatusInProgress {
			metrics.ActiveDuels.Dec()
		}
		metrics.DuelsFinished.WithLabelValues(string(after)).Inc()
		e.stopTimers(sessionID)
	}
}

func (e *Engine) scheduleTimeout(sessionID string, timeLimit time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.timers[sessionID]; exists {
		return
	}
	e.timers[sessionID] = time.AfterFunc(timeLimit, func() {
		if err := e.apply(sessionID, ClockExpired{}); err != nil {
			log.Printf("duel %s: timeout check failed: %v", sessionID, err)
		}
	})
}

func (e *Engine) stopTimers(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[sessionID]; ok {
		t.Stop()
		delete(e.timers, sessionID)
	}
	if cancel, ok := e.simulators[sessionID]; ok {
		cancel()
		delete(e.simulators, sessionID)
	}
}

// CreateMatchedSession seats two matched tickets into a brand-new session.
// The session is observable as in_progress the moment the problem is
// attached; there is no intermediate "matched but not started" state with a
// single visible seat.
func (e *Engine) CreateMatchedSession(first, second models.MatchmakingTicket) (string, error) {
	now := time.Now()
	s := &models.DuelSession{
		ID:         uuid.NewString(),
		Mode:       models.ModeRandomPlayer,
		Status:     models.StatusPending,
		Difficulty: first.Difficulty,
		Category:   first.Category,
		TimeLimit:  e.cfg.TimeLimitFor(first.Difficulty),
		MaxScoring: e.cfg.MaxScoringAttempts,
		CreatedAt:  now,
		Participants: []*models.Participant{
			newParticipant(first.UserID, first.DisplayName, now),
			newParticipant(second.UserID, second.DisplayName, now),
		},
	}
	if err := e.store.Put(s); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	problem, err := e.problems.Generate(ctx, s.Difficulty, s.Category, "")
	if err != nil {
		e.abandon(s.ID, first.UserID)
		return "", fmt.Errorf("problem generation failed: %w", err)
	}
	if err := e.apply(s.ID, ProblemAttached{Problem: problem}); err != nil {
		return "", err
	}
	log.Printf("duel %s: matched %s vs %s (%s/%s)", s.ID, first.UserID, second.UserID, s.Difficulty, s.Category)
	return s.ID, nil
}

// CreatePrivateRoom creates a session holding a fresh room code and one
// seat; it sits in waiting until the code is redeemed.
func (e *Engine) CreatePrivateRoom(ctx context.Context, userID, displayName, difficulty, category, theme, language string) (*structs.Snapshot, error) {
	if err := validateSelection(difficulty, category); err != nil {
		return nil, err
	}
	if id, ok := e.store.ActiveSessionID(userID); ok {
		return nil, fmt.Errorf("%w: already in active session %s", models.ErrConflict, id)
	}

	now := time.Now()
	var s *models.DuelSession
	// Codes are unique among active rooms only; collide-and-retry.
	for attempt := 0; attempt < 5; attempt++ {
		s = &models.DuelSession{
			ID:           uuid.NewString(),
			Mode:         models.ModePrivateRoom,
			Status:       models.StatusGeneratingProblem,
			Difficulty:   difficulty,
			Category:     category,
			Theme:        theme,
			Language:     language,
			RoomCode:     utils.GenerateRoomCode(),
			TimeLimit:    e.cfg.TimeLimitFor(difficulty),
			MaxScoring:   e.cfg.MaxScoringAttempts,
			CreatedAt:    now,
			Participants: []*models.Participant{newParticipant(userID, displayName, now)},
		}
		err := e.store.Put(s)
		if err == nil {
			break
		}
		s = nil
		if !strings.Contains(err.Error(), "room code") {
			return nil, err
		}
	}
	if s == nil {
		return nil, fmt.Errorf("%w: could not allocate room code", models.ErrConflict)
	}

	problem, err := e.problems.Generate(ctx, difficulty, category, theme)
	if err != nil {
		e.abandon(s.ID, userID)
		return nil, fmt.Errorf("problem generation failed: %w", err)
	}
	if err := e.apply(s.ID, ProblemAttached{Problem: problem}); err != nil {
		return nil, err
	}
	return e.Snapshot(s.ID, userID)
}

// CreateAIDuel creates a session against the synthetic opponent; it starts
// the instant the problem is attached.
func (e *Engine) CreateAIDuel(ctx context.Context, userID, displayName, difficulty, category, theme, language string) (*structs.Snapshot, error) {
	if err := validateSelection(difficulty, category); err != nil {
		return nil, err
	}
	if id, ok := e.store.ActiveSessionID(userID); ok {
		return nil, fmt.Errorf("%w: already in active session %s", models.ErrConflict, id)
	}

	now := time.Now()
	ai := newParticipant("ai:"+uuid.NewString(), aiDisplayName(difficulty), now)
	ai.IsAI = true
	s := &models.DuelSession{
		ID:           uuid.NewString(),
		Mode:         models.ModeAIOpponent,
		Status:       models.StatusGeneratingProblem,
		Difficulty:   difficulty,
		Category:     category,
		Theme:        theme,
		Language:     language,
		TimeLimit:    e.cfg.TimeLimitFor(difficulty),
		MaxScoring:   e.cfg.MaxScoringAttempts,
		CreatedAt:    now,
		Participants: []*models.Participant{newParticipant(userID, displayName, now), ai},
	}
	if err := e.store.Put(s); err != nil {
		return nil, err
	}

	problem, err := e.problems.Generate(ctx, difficulty, category, theme)
	if err != nil {
		e.abandon(s.ID, userID)
		return nil, fmt.Errorf("problem generation failed: %w", err)
	}
	if err := e.apply(s.ID, ProblemAttached{Problem: problem}); err != nil {
		return nil, err
	}
	return e.Snapshot(s.ID, userID)
}

// JoinRoom seats a user into a private room by code. Joining a room the
// user already occupies returns the current snapshot, which doubles as the
// reload-recovery path.
func (e *Engine) JoinRoom(code, userID, displayName string) (*structs.Snapshot, error) {
	normalized, ok := utils.NormalizeRoomCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: malformed room code", models.ErrValidation)
	}
	sessionID, ok := e.store.SessionIDByRoomCode(normalized)
	if !ok {
		return nil, fmt.Errorf("%w: unknown or expired room code", models.ErrNotFound)
	}
	if active, ok := e.store.ActiveSessionID(userID); ok && active != sessionID {
		return nil, fmt.Errorf("%w: already in active session %s", models.ErrConflict, active)
	}

	now := time.Now()
	if err := e.apply(sessionID, ParticipantSeated{Participant: newParticipant(userID, displayName, now)}); err != nil {
		return nil, err
	}
	return e.Snapshot(sessionID, userID)
}

// Cancel terminates a session that has not started yet.
func (e *Engine) Cancel(sessionID, userID string) error {
	return e.apply(sessionID, CancelRequested{UserID: userID})
}

// GetActiveOrWaiting returns the user's current non-terminal session
// snapshot, or ErrNotFound. The reconnection supervisor calls this instead
// of replaying any message history.
func (e *Engine) GetActiveOrWaiting(userID string) (*structs.Snapshot, error) {
	sessionID, ok := e.store.ActiveSessionID(userID)
	if !ok {
		return nil, fmt.Errorf("%w: no active session for user", models.ErrNotFound)
	}
	return e.Snapshot(sessionID, userID)
}

// Authorize verifies the (session, user) channel address before the duel
// channel is considered open.
func (e *Engine) Authorize(sessionID, userID string) error {
	return e.store.View(sessionID, func(s *models.DuelSession) error {
		if p := s.ParticipantByID(userID); p == nil || p.IsAI {
			return fmt.Errorf("%w: not a participant of session %s", models.ErrAuthentication, sessionID)
		}
		return nil
	})
}

// MarkConnected records a live channel opening for the seat.
func (e *Engine) MarkConnected(sessionID, userID string) {
	if err := e.apply(sessionID, ParticipantConnected{UserID: userID}); err != nil {
		log.Printf("duel %s: presence update failed: %v", sessionID, err)
	}
}

// MarkDisconnected records the channel dropping. The session keeps running.
func (e *Engine) MarkDisconnected(sessionID, userID string) {
	if err := e.apply(sessionID, ParticipantDisconnected{UserID: userID}); err != nil {
		log.Printf("duel %s: presence update failed: %v", sessionID, err)
	}
}

// HandleCodeUpdate mirrors a participant's buffer and relays it.
func (e *Engine) HandleCodeUpdate(sessionID, userID, language, code string) error {
	if language == "" {
		return fmt.Errorf("%w: missing language", models.ErrValidation)
	}
	if len(code) > maxCodeBytes {
		return fmt.Errorf("%w: code exceeds %d bytes", models.ErrValidation, maxCodeBytes)
	}
	return e.apply(sessionID, CodeUpdated{UserID: userID, Language: language, Code: code})
}

// HandleTyping relays a typing hint.
func (e *Engine) HandleTyping(sessionID, userID string, isTyping bool) error {
	return e.apply(sessionID, TypingChanged{UserID: userID, IsTyping: isTyping})
}

// RunTests sends code to the judge without scoring consequences and applies
// the verdict. Judge failures surface as retryable errors and never mutate
// the session.
func (e *Engine) RunTests(ctx context.Context, sessionID, userID, code, language string) (*models.JudgeVerdict, error) {
	if err := validateCode(code, language); err != nil {
		return nil, err
	}
	problem, err := e.preflight(sessionID, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	verdict, err := e.judge.Run(ctx, code, language, problem, false)
	metrics.JudgeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if err := e.apply(sessionID, TestVerdict{
		UserID:       userID,
		SubmissionID: uuid.NewString(),
		Code:         code,
		Language:     language,
		Verdict:      *verdict,
	}); err != nil {
		return nil, err
	}
	return verdict, nil
}

// Submit sends a scoring submission to the judge. A full pass completes the
// duel with the submitter as winner; the timeout clock wins boundary ties.
func (e *Engine) Submit(ctx context.Context, sessionID, userID, code, language string) (*models.JudgeVerdict, error) {
	if err := validateCode(code, language); err != nil {
		return nil, err
	}
	problem, err := e.preflight(sessionID, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	verdict, err := e.judge.Run(ctx, code, language, problem, true)
	metrics.JudgeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if err := e.applySubmission(sessionID, SubmissionVerdict{
		UserID:       userID,
		SubmissionID: uuid.NewString(),
		Code:         code,
		Language:     language,
		Verdict:      *verdict,
	}); err != nil {
		return nil, err
	}
	return verdict, nil
}

// applySubmission is the submit path with the timeout boundary rule: when
// the clock has expired by the time the verdict lands, the timeout
// transition is applied first and the submission is rejected.
func (e *Engine) applySubmission(sessionID string, ev SubmissionVerdict) error {
	var before, after models.DuelStatus
	var mode models.DuelMode
	var difficulty, aiID string
	var timeLimit time.Duration

	_, err := e.store.Mutate(sessionID, func(s *models.DuelSession) ([]Outbound, error) {
		before = s.Status
		now := time.Now()
		var all []Outbound
		var ferr error
		if s.Status == models.StatusInProgress && s.Elapsed(now) >= s.TimeLimit {
			outs, _ := reduce(s, ClockExpired{}, now)
			all = append(all, outs...)
			ferr = fmt.Errorf("%w: time limit reached", models.ErrConflict)
		} else {
			all, ferr = reduce(s, ev, now)
		}
		after = s.Status
		mode = s.Mode
		difficulty = s.Difficulty
		timeLimit = s.TimeLimit
		e.dispatch(sessionID, all)
		return all, ferr
	})

	e.afterTransition(sessionID, before, after, mode, difficulty, timeLimit, aiID)
	return err
}

// preflight validates a judge-bound request against current session state
// without holding the lock across the judge call. The returned problem is
// safe to read outside the lock; problems are immutable once attached.
func (e *Engine) preflight(sessionID, userID string) (*models.Problem, error) {
	var problem *models.Problem
	err := e.store.View(sessionID, func(s *models.DuelSession) error {
		if err := requireInProgress(s); err != nil {
			return err
		}
		p := s.ParticipantByID(userID)
		if p == nil {
			return fmt.Errorf("%w: participant %s", models.ErrNotFound, userID)
		}
		problem = s.Problem
		return nil
	})
	if err != nil {
		return nil, err
	}
	return problem, nil
}

// Snapshot builds the full reconnection state from the authoritative store.
// Opponent code is transmitted; withholding it is a client display policy.
func (e *Engine) Snapshot(sessionID, userID string) (*structs.Snapshot, error) {
	var snap *structs.Snapshot
	err := e.store.View(sessionID, func(s *models.DuelSession) error {
		you := s.ParticipantByID(userID)
		if you == nil || you.IsAI {
			return fmt.Errorf("%w: not a participant of session %s", models.ErrAuthentication, sessionID)
		}
		snap = &structs.Snapshot{
			SessionID:   s.ID,
			Mode:        string(s.Mode),
			Status:      string(s.Status),
			Difficulty:  s.Difficulty,
			Category:    s.Category,
			RoomCode:    s.RoomCode,
			Problem:     s.Problem,
			TimeLimitMs: s.TimeLimit.Milliseconds(),
			ElapsedMs:   s.Elapsed(time.Now()).Milliseconds(),
			You:         participantView(you),
			WinnerID:    s.WinnerID,
		}
		if opp := s.Opponent(userID); opp != nil {
			view := participantView(opp)
			snap.Opponent = &view
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// HasActiveSession reports whether the user occupies a non-terminal seat.
func (e *Engine) HasActiveSession(userID string) bool {
	_, ok := e.store.ActiveSessionID(userID)
	return ok
}

// abandon cancels a session whose setup failed partway.
func (e *Engine) abandon(sessionID, userID string) {
	if err := e.apply(sessionID, CancelRequested{UserID: userID}); err != nil {
		log.Printf("duel %s: abandon failed: %v", sessionID, err)
	}
}

// waitingRoomSweeper cancels waiting sessions whose every human seat has
// been disconnected for longer than the grace period.
func (e *Engine) waitingRoomSweeper() {
	grace := time.Duration(e.cfg.WaitingGraceSecs) * time.Second
	if grace <= 0 {
		grace = time.Minute
	}
	ticker := time.NewTicker(grace / 2)
	defer ticker.Stop()

	for range ticker.C {
		for _, id := range e.store.NonTerminalIDs() {
			expired := false
			e.store.View(id, func(s *models.DuelSession) error {
				if s.Status != models.StatusWaiting {
					return nil
				}
				cutoff := time.Now().Add(-grace)
				allGone := true
				for _, p := range s.Participants {
					if p.IsAI {
						continue
					}
					if p.ConnectionStatus != models.ConnDisconnected || p.DisconnectedAt == nil || p.DisconnectedAt.After(cutoff) {
						allGone = false
						break
					}
				}
				expired = allGone
				return nil
			})
			if expired {
				if err := e.apply(id, WaitingGraceExpired{}); err != nil {
					log.Printf("duel %s: grace sweep failed: %v", id, err)
				}
			}
		}
	}
}

func newParticipant(userID, displayName string, now time.Time) *models.Participant {
	return &models.Participant{
		UserID:           userID,
		DisplayName:      displayName,
		ConnectionStatus: models.ConnJoined,
		LatestCode:       make(map[string]string),
		JoinedAt:         now,
	}
}

func participantView(p *models.Participant) structs.ParticipantView {
	// Copy the code buffers: the snapshot outlives the session lock and is
	// marshalled while the live map keeps changing under code updates.
	code := make(map[string]string, len(p.LatestCode))
	for lang, buf := range p.LatestCode {
		code[lang] = buf
	}
	return structs.ParticipantView{
		UserID:           p.UserID,
		DisplayName:      p.DisplayName,
		IsAI:             p.IsAI,
		ConnectionStatus: string(p.ConnectionStatus),
		LatestCode:       code,
		Progress:         p.Progress,
		ScoringAttempts:  p.ScoringAttempts(),
	}
}

func validateSelection(difficulty, category string) error {
	if difficulty == "" || category == "" {
		return fmt.Errorf("%w: difficulty and category are required", models.ErrValidation)
	}
	return nil
}

func validateCode(code, language string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: empty code", models.ErrValidation)
	}
	if language == "" {
		return fmt.Errorf("%w: missing language", models.ErrValidation)
	}
	if len(code) > maxCodeBytes {
		return fmt.Errorf("%w: code exceeds %d bytes", models.ErrValidation, maxCodeBytes)
	}
	return nil
}

func aiDisplayName(difficulty string) string {
	switch difficulty {
	case "easy":
		return "Bot Rookie"
	case "hard":
		return "Bot Grandmaster"
	default:
		return "Bot Challenger"
	}
}
