package duel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeclash/config"
	"codeclash/models"
	"codeclash/structs"
)

type fakeJudge struct {
	mu       sync.Mutex
	verdicts []models.JudgeVerdict
	err      error
}

func (j *fakeJudge) Run(ctx context.Context, code, language string, problem *models.Problem, scoring bool) (*models.JudgeVerdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return nil, j.err
	}
	if len(j.verdicts) == 0 {
		v := verdict(0, len(problem.TestCases))
		return &v, nil
	}
	v := j.verdicts[0]
	if len(j.verdicts) > 1 {
		j.verdicts = j.verdicts[1:]
	}
	return &v, nil
}

type fakeProblems struct{}

func (fakeProblems) Generate(ctx context.Context, difficulty, category, theme string) (*models.Problem, error) {
	p := testProblem()
	p.Difficulty = difficulty
	p.Category = category
	return p, nil
}

type captureBroadcaster struct {
	mu   sync.Mutex
	sent []Outbound
}

func (b *captureBroadcaster) Deliver(sessionID string, out Outbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, out)
}

func (b *captureBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ts []string
	for _, o := range b.sent {
		ts = append(ts, o.Message.Type)
	}
	return ts
}

func testDuelConfig() config.DuelConfig {
	return config.DuelConfig{
		TimeLimitMinutes:   map[string]int{"easy": 20},
		AISolveSeconds:     map[string]int{"easy": 300},
		MaxScoringAttempts: 5,
		WaitingGraceSecs:   60,
		TestRunsPerMinute:  10,
	}
}

func newTestEngine(t *testing.T, judge *fakeJudge) (*Engine, *SessionStore, *captureBroadcaster) {
	t.Helper()
	store := NewSessionStore(nil)
	engine := NewEngine(testDuelConfig(), store, judge, fakeProblems{})
	bc := &captureBroadcaster{}
	engine.SetBroadcaster(bc)
	return engine, store, bc
}

func ticket(userID string) models.MatchmakingTicket {
	return models.MatchmakingTicket{
		UserID:      userID,
		DisplayName: userID,
		Difficulty:  "easy",
		Category:    "arrays",
		EnqueuedAt:  time.Now(),
	}
}

func TestCreateMatchedSessionStartsDuel(t *testing.T) {
	engine, store, bc := newTestEngine(t, &fakeJudge{})

	sessionID, err := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = store.View(sessionID, func(s *models.DuelSession) error {
		if s.Status != models.StatusInProgress {
			return fmt.Errorf("expected in_progress, got %s", s.Status)
		}
		if s.Problem == nil {
			return fmt.Errorf("problem not attached")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	started := false
	for _, typ := range bc.types() {
		if typ == structs.MsgDuelStarted {
			started = true
		}
	}
	if !started {
		t.Fatalf("duel_started never broadcast: %v", bc.types())
	}

	if _, err := engine.CreateMatchedSession(ticket("u1"), ticket("u3")); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("double-seating u1: expected ErrConflict, got %v", err)
	}
}

func TestSubmitFullPassWinsAndLocksSession(t *testing.T) {
	judge := &fakeJudge{verdicts: []models.JudgeVerdict{verdict(4, 4)}}
	engine, store, _ := newTestEngine(t, judge)

	sessionID, err := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v, err := engine.Submit(context.Background(), sessionID, "u1", "code", "python")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !v.Accepted() {
		t.Fatalf("expected full pass, got %+v", v)
	}

	store.View(sessionID, func(s *models.DuelSession) error {
		if s.Status != models.StatusCompleted || s.WinnerID != "u1" {
			t.Fatalf("expected completed with winner u1, got %s winner=%q", s.Status, s.WinnerID)
		}
		return nil
	})

	// Losing side can no longer submit.
	if _, err := engine.Submit(context.Background(), sessionID, "u2", "code", "python"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("post-terminal submit: expected ErrConflict, got %v", err)
	}

	// Terminal session frees both seats.
	if _, ok := store.ActiveSessionID("u1"); ok {
		t.Fatal("winner still indexed as active")
	}
}

func TestTimeoutWinsBoundaryTies(t *testing.T) {
	judge := &fakeJudge{verdicts: []models.JudgeVerdict{verdict(4, 4)}}
	engine, store, _ := newTestEngine(t, judge)

	sessionID, err := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Backdate the start so the clock has expired by submission time.
	store.Mutate(sessionID, func(s *models.DuelSession) ([]Outbound, error) {
		past := time.Now().Add(-s.TimeLimit - time.Second)
		s.StartedAt = &past
		return nil, nil
	})

	_, err = engine.Submit(context.Background(), sessionID, "u1", "code", "python")
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("boundary submit: expected ErrConflict, got %v", err)
	}

	store.View(sessionID, func(s *models.DuelSession) error {
		if s.Status != models.StatusTimedOut {
			t.Fatalf("expected timed_out, got %s", s.Status)
		}
		if s.WinnerID != "" {
			t.Fatalf("no scoring record, expected draw, got winner %q", s.WinnerID)
		}
		return nil
	})
}

func TestRunTestsDoesNotEndDuel(t *testing.T) {
	judge := &fakeJudge{verdicts: []models.JudgeVerdict{verdict(2, 2)}}
	engine, store, bc := newTestEngine(t, judge)

	sessionID, _ := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))

	v, err := engine.RunTests(context.Background(), sessionID, "u1", "code", "python")
	if err != nil {
		t.Fatalf("run tests: %v", err)
	}
	if !v.Accepted() {
		t.Fatalf("expected visible-suite pass, got %+v", v)
	}

	store.View(sessionID, func(s *models.DuelSession) error {
		if s.Status != models.StatusInProgress {
			t.Fatalf("test run must not end the duel, got %s", s.Status)
		}
		if s.ParticipantByID("u1").ScoringAttempts() != 0 {
			t.Fatal("test run consumed a scoring attempt")
		}
		return nil
	})

	sawTestResult := false
	for _, out := range bc.sent {
		if out.Message.Type == structs.MsgTestResult && out.Target != "u1" {
			t.Fatalf("test_result leaked beyond requester: %+v", out)
		}
		if out.Message.Type == structs.MsgTestResult {
			sawTestResult = true
		}
	}
	if !sawTestResult {
		t.Fatal("test_result never delivered")
	}
}

func TestJudgeFailureLeavesSessionUntouched(t *testing.T) {
	judge := &fakeJudge{err: fmt.Errorf("%w: connection refused", models.ErrJudgeUnavailable)}
	engine, store, _ := newTestEngine(t, judge)

	sessionID, _ := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))

	_, err := engine.Submit(context.Background(), sessionID, "u1", "code", "python")
	if !errors.Is(err, models.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}

	store.View(sessionID, func(s *models.DuelSession) error {
		if s.Status != models.StatusInProgress {
			t.Fatalf("judge failure mutated the session: %s", s.Status)
		}
		if len(s.ParticipantByID("u1").Submissions) != 0 {
			t.Fatal("failed judge call recorded a submission")
		}
		return nil
	})
}

func TestPrivateRoomLifecycle(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeJudge{})

	snap, err := engine.CreatePrivateRoom(context.Background(), "host", "Host", "easy", "arrays", "", "python")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if snap.Status != string(models.StatusWaiting) {
		t.Fatalf("expected waiting, got %s", snap.Status)
	}
	if len(snap.RoomCode) != 6 {
		t.Fatalf("bad room code %q", snap.RoomCode)
	}

	// Unknown code.
	if _, err := engine.JoinRoom("ZZZZZ9", "guest", "Guest"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown code: expected ErrNotFound, got %v", err)
	}
	// Malformed code.
	if _, err := engine.JoinRoom("bad!", "guest", "Guest"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("malformed code: expected ErrValidation, got %v", err)
	}

	// Lowercase input joins; codes are case-insensitive at the edge.
	joined, err := engine.JoinRoom(lowerASCII(snap.RoomCode), "guest", "Guest")
	if err != nil {
		t.Fatalf("join room: %v", err)
	}
	if joined.Status != string(models.StatusInProgress) {
		t.Fatalf("expected in_progress after second seat, got %s", joined.Status)
	}
	if joined.Opponent == nil || joined.Opponent.UserID != "host" {
		t.Fatalf("opponent view wrong: %+v", joined.Opponent)
	}

	// Rejoining the same room returns the snapshot instead of a conflict.
	again, err := engine.JoinRoom(snap.RoomCode, "guest", "Guest")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.SessionID != joined.SessionID {
		t.Fatalf("rejoin switched sessions: %s vs %s", again.SessionID, joined.SessionID)
	}
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func TestCancelReleasesRoomCode(t *testing.T) {
	engine, store, _ := newTestEngine(t, &fakeJudge{})

	snap, err := engine.CreatePrivateRoom(context.Background(), "host", "Host", "easy", "arrays", "", "python")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := engine.Cancel(snap.SessionID, "host"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := store.SessionIDByRoomCode(snap.RoomCode); ok {
		t.Fatal("room code still claimed after cancel")
	}
	if _, err := engine.GetActiveOrWaiting("host"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestSnapshotReflectsLiveState(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeJudge{})

	sessionID, _ := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))
	if err := engine.HandleCodeUpdate(sessionID, "u2", "python", "print('hi')"); err != nil {
		t.Fatalf("code update: %v", err)
	}

	snap, err := engine.Snapshot(sessionID, "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.You.UserID != "u1" {
		t.Fatalf("wrong perspective: %+v", snap.You)
	}
	if snap.Opponent == nil || snap.Opponent.LatestCode["python"] != "print('hi')" {
		t.Fatalf("opponent code missing from snapshot: %+v", snap.Opponent)
	}
	if snap.Problem == nil || snap.TimeLimitMs != (20*time.Minute).Milliseconds() {
		t.Fatalf("snapshot metadata wrong: %+v", snap)
	}

	// Outsiders cannot snapshot the session.
	if _, err := engine.Snapshot(sessionID, "intruder"); !errors.Is(err, models.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if err := engine.Authorize(sessionID, "intruder"); !errors.Is(err, models.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestSnapshotCodeBuffersAreDetached(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeJudge{})

	sessionID, _ := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))
	if err := engine.HandleCodeUpdate(sessionID, "u2", "python", "v1"); err != nil {
		t.Fatalf("code update: %v", err)
	}

	snap, err := engine.Snapshot(sessionID, "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Snapshots are marshalled after the session lock is released, so they
	// must not share the live code buffers with the session record.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, err := json.Marshal(snap); err != nil {
				t.Errorf("marshal snapshot: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 100; i++ {
		engine.HandleCodeUpdate(sessionID, "u2", "python", fmt.Sprintf("v%d", i+2))
	}
	<-done

	if snap.Opponent == nil || snap.Opponent.LatestCode["python"] != "v1" {
		t.Fatalf("snapshot must hold the code as of its capture, got %+v", snap.Opponent)
	}
}

func TestCreateAIDuelStartsImmediately(t *testing.T) {
	engine, store, _ := newTestEngine(t, &fakeJudge{})

	snap, err := engine.CreateAIDuel(context.Background(), "u1", "User", "easy", "arrays", "", "python")
	if err != nil {
		t.Fatalf("create ai duel: %v", err)
	}
	if snap.Status != string(models.StatusInProgress) {
		t.Fatalf("expected in_progress, got %s", snap.Status)
	}
	if snap.Opponent == nil || !snap.Opponent.IsAI {
		t.Fatalf("expected AI opponent, got %+v", snap.Opponent)
	}

	store.View(snap.SessionID, func(s *models.DuelSession) error {
		if s.RequiredSeats() != 1 {
			t.Fatalf("ai duel requires 1 human seat, got %d", s.RequiredSeats())
		}
		return nil
	})
}

func TestValidationErrors(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeJudge{})
	sessionID, _ := engine.CreateMatchedSession(ticket("u1"), ticket("u2"))

	if err := engine.HandleCodeUpdate(sessionID, "u1", "", "code"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("missing language: expected ErrValidation, got %v", err)
	}
	if _, err := engine.Submit(context.Background(), sessionID, "u1", "   ", "python"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("empty code: expected ErrValidation, got %v", err)
	}
	if _, err := engine.CreateAIDuel(context.Background(), "u9", "U", "", "arrays", "", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("missing difficulty: expected ErrValidation, got %v", err)
	}
}
