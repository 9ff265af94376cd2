package duel

import (
	"errors"
	"testing"
	"time"

	"codeclash/models"
	"codeclash/structs"
)

func testProblem() *models.Problem {
	return &models.Problem{
		ID:         "p1",
		Title:      "Two Sum",
		Difficulty: "easy",
		Category:   "arrays",
		TestCases: []models.TestCase{
			{Input: "1", Expected: "1"},
			{Input: "2", Expected: "2"},
			{Input: "3", Expected: "3", Hidden: true},
			{Input: "4", Expected: "4", Hidden: true},
		},
	}
}

func testParticipant(id string) *models.Participant {
	return &models.Participant{
		UserID:           id,
		DisplayName:      id,
		ConnectionStatus: models.ConnJoined,
		LatestCode:       make(map[string]string),
	}
}

func testSession(mode models.DuelMode, ids ...string) *models.DuelSession {
	s := &models.DuelSession{
		ID:         "s1",
		Mode:       mode,
		Status:     models.StatusPending,
		Difficulty: "easy",
		Category:   "arrays",
		TimeLimit:  20 * time.Minute,
		MaxScoring: 5,
		CreatedAt:  time.Now(),
	}
	for _, id := range ids {
		s.Participants = append(s.Participants, testParticipant(id))
	}
	return s
}

func startedSession(t *testing.T, ids ...string) *models.DuelSession {
	t.Helper()
	s := testSession(models.ModeRandomPlayer, ids...)
	outs, err := reduce(s, ProblemAttached{Problem: testProblem()}, time.Now())
	if err != nil {
		t.Fatalf("attach problem: %v", err)
	}
	if s.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress after seats filled and problem attached, got %s", s.Status)
	}
	if len(outs) == 0 || outs[len(outs)-1].Message.Type != structs.MsgDuelStarted {
		t.Fatalf("expected duel_started broadcast, got %+v", outs)
	}
	return s
}

func verdict(passed, total int) models.JudgeVerdict {
	status := "wrong_answer"
	if passed == total {
		status = "accepted"
	}
	return models.JudgeVerdict{Status: status, TestsPassed: passed, TotalTests: total}
}

func TestStartsOnlyWhenProblemAndSeatsReady(t *testing.T) {
	s := testSession(models.ModePrivateRoom, "u1")
	s.RoomCode = "ABC123"
	s.Status = models.StatusGeneratingProblem

	if _, err := reduce(s, ProblemAttached{Problem: testProblem()}, time.Now()); err != nil {
		t.Fatalf("attach problem: %v", err)
	}
	if s.Status != models.StatusWaiting {
		t.Fatalf("one seat missing, expected waiting, got %s", s.Status)
	}

	outs, err := reduce(s, ParticipantSeated{Participant: testParticipant("u2")}, time.Now())
	if err != nil {
		t.Fatalf("seat u2: %v", err)
	}
	if s.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", s.Status)
	}
	if s.StartedAt == nil {
		t.Fatal("StartedAt not set")
	}
	foundStart := false
	for _, o := range outs {
		if o.Message.Type == structs.MsgDuelStarted {
			foundStart = true
		}
	}
	if !foundStart {
		t.Fatalf("expected duel_started in %+v", outs)
	}
}

func TestThirdSeatRejected(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	_, err := reduce(s, ParticipantSeated{Participant: testParticipant("u3")}, time.Now())
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRejoinIsIdempotent(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	outs, err := reduce(s, ParticipantSeated{Participant: testParticipant("u1")}, time.Now())
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(outs) != 0 {
		t.Fatalf("rejoin should not broadcast, got %+v", outs)
	}
	if len(s.Participants) != 2 {
		t.Fatalf("rejoin duplicated a seat: %d participants", len(s.Participants))
	}
}

func TestCodeUpdateRelaysWithoutEcho(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	outs, err := reduce(s, CodeUpdated{UserID: "u1", Language: "python", Code: "print(1)"}, time.Now())
	if err != nil {
		t.Fatalf("code update: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("expected 1 relay, got %d", len(outs))
	}
	if outs[0].Exclude != "u1" {
		t.Fatalf("relay must exclude the sender, got exclude=%q", outs[0].Exclude)
	}
	if outs[0].Message.Code != "print(1)" || outs[0].Message.Language != "python" {
		t.Fatalf("relay payload wrong: %+v", outs[0].Message)
	}
	if s.ParticipantByID("u1").LatestCode["python"] != "print(1)" {
		t.Fatal("latest code not mirrored")
	}
}

func TestCodeUpdateLastWriteWinsPerLanguage(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	now := time.Now()
	reduce(s, CodeUpdated{UserID: "u1", Language: "python", Code: "v1"}, now)
	reduce(s, CodeUpdated{UserID: "u1", Language: "go", Code: "g1"}, now)
	reduce(s, CodeUpdated{UserID: "u1", Language: "python", Code: "v2"}, now)

	p := s.ParticipantByID("u1")
	if p.LatestCode["python"] != "v2" {
		t.Fatalf("expected last write to win, got %q", p.LatestCode["python"])
	}
	if p.LatestCode["go"] != "g1" {
		t.Fatalf("per-language buffers must be independent, got %q", p.LatestCode["go"])
	}
}

func TestTestVerdictTargetsRequesterOnly(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	outs, err := reduce(s, TestVerdict{UserID: "u1", SubmissionID: "t1", Verdict: verdict(2, 4)}, time.Now())
	if err != nil {
		t.Fatalf("test verdict: %v", err)
	}
	if outs[0].Target != "u1" {
		t.Fatalf("test_result must target the requester, got %q", outs[0].Target)
	}
	if outs[0].Message.Type != structs.MsgTestResult {
		t.Fatalf("expected test_result, got %s", outs[0].Message.Type)
	}
	p := s.ParticipantByID("u1")
	if p.Progress.TestsPassed != 2 || p.Progress.TotalTests != 4 {
		t.Fatalf("progress not updated: %+v", p.Progress)
	}
	if p.ScoringAttempts() != 0 {
		t.Fatal("test runs must not consume scoring attempts")
	}
}

func TestFullPassCompletesDuelWithWinner(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	outs, err := reduce(s, SubmissionVerdict{UserID: "u2", SubmissionID: "sub1", Verdict: verdict(4, 4)}, time.Now())
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if s.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status)
	}
	if s.WinnerID != "u2" {
		t.Fatalf("expected winner u2, got %q", s.WinnerID)
	}
	last := outs[len(outs)-1].Message
	if last.Type != structs.MsgDuelCompleted || last.WinnerID != "u2" {
		t.Fatalf("terminal broadcast must come last: %+v", last)
	}
}

func TestNothingAcceptedAfterTerminal(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	reduce(s, SubmissionVerdict{UserID: "u1", SubmissionID: "sub1", Verdict: verdict(4, 4)}, time.Now())

	cases := []Event{
		CodeUpdated{UserID: "u2", Language: "python", Code: "x"},
		TypingChanged{UserID: "u2", IsTyping: true},
		TestVerdict{UserID: "u2", SubmissionID: "t9", Verdict: verdict(1, 4)},
		SubmissionVerdict{UserID: "u2", SubmissionID: "s9", Verdict: verdict(4, 4)},
		CancelRequested{UserID: "u2"},
	}
	for _, ev := range cases {
		if _, err := reduce(s, ev, time.Now()); !errors.Is(err, models.ErrConflict) {
			t.Errorf("%s after terminal: expected ErrConflict, got %v", ev.eventName(), err)
		}
	}
	if s.WinnerID != "u1" {
		t.Fatalf("terminal result changed: winner %q", s.WinnerID)
	}
}

func TestScoringAttemptCap(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	s.MaxScoring = 2
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, err := reduce(s, SubmissionVerdict{UserID: "u1", SubmissionID: "a", Verdict: verdict(1, 4)}, now); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := reduce(s, SubmissionVerdict{UserID: "u1", SubmissionID: "b", Verdict: verdict(3, 4)}, now)
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected cap conflict, got %v", err)
	}
}

func TestExhaustedAttemptsEndTheDuelByTieBreak(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	s.MaxScoring = 1
	start := *s.StartedAt

	reduce(s, SubmissionVerdict{UserID: "u1", SubmissionID: "a", Verdict: verdict(2, 4)}, start.Add(1*time.Minute))
	outs, err := reduce(s, SubmissionVerdict{UserID: "u2", SubmissionID: "b", Verdict: verdict(3, 4)}, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if s.Status != models.StatusCompleted {
		t.Fatalf("expected completed after all attempts spent, got %s", s.Status)
	}
	if s.WinnerID != "u2" {
		t.Fatalf("more tests passed must win, got %q", s.WinnerID)
	}
	if outs[len(outs)-1].Message.Type != structs.MsgDuelCompleted {
		t.Fatalf("missing terminal broadcast: %+v", outs)
	}
}

func TestTimeoutTieBreakLadder(t *testing.T) {
	tests := []struct {
		name   string
		u1     models.JudgeVerdict
		u1At   time.Duration
		u2     models.JudgeVerdict
		u2At   time.Duration
		winner string
	}{
		{"more tests passed wins", verdict(3, 4), time.Minute, verdict(2, 4), time.Minute, "u1"},
		{"equal passed, faster wins", verdict(2, 4), 2 * time.Minute, verdict(2, 4), time.Minute, "u2"},
		{"identical records draw", verdict(2, 4), time.Minute, verdict(2, 4), time.Minute, ""},
		{"zero passed never wins", verdict(0, 4), time.Minute, models.JudgeVerdict{}, 0, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := startedSession(t, "u1", "u2")
			start := *s.StartedAt
			if tc.u1.TotalTests > 0 {
				reduce(s, SubmissionVerdict{UserID: "u1", SubmissionID: "a", Verdict: tc.u1}, start.Add(tc.u1At))
			}
			if tc.u2.TotalTests > 0 {
				reduce(s, SubmissionVerdict{UserID: "u2", SubmissionID: "b", Verdict: tc.u2}, start.Add(tc.u2At))
			}

			outs, err := reduce(s, ClockExpired{}, start.Add(s.TimeLimit))
			if err != nil {
				t.Fatalf("clock expired: %v", err)
			}
			if s.Status != models.StatusTimedOut {
				t.Fatalf("expected timed_out, got %s", s.Status)
			}
			if s.WinnerID != tc.winner {
				t.Fatalf("expected winner %q, got %q", tc.winner, s.WinnerID)
			}
			if outs[0].Message.Type != structs.MsgDuelTimedOut {
				t.Fatalf("expected duel_timed_out, got %s", outs[0].Message.Type)
			}
		})
	}
}

func TestClockExpiredBeforeLimitIsNoop(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	outs, err := reduce(s, ClockExpired{}, s.StartedAt.Add(s.TimeLimit-time.Second))
	if err != nil || len(outs) != 0 {
		t.Fatalf("early expiry must be a no-op, got outs=%v err=%v", outs, err)
	}
	if s.Status != models.StatusInProgress {
		t.Fatalf("status changed: %s", s.Status)
	}
}

func TestCancelOnlyBeforeStart(t *testing.T) {
	s := testSession(models.ModePrivateRoom, "u1")
	s.Status = models.StatusWaiting
	outs, err := reduce(s, CancelRequested{UserID: "u1"}, time.Now())
	if err != nil {
		t.Fatalf("cancel waiting session: %v", err)
	}
	if s.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", s.Status)
	}
	if outs[0].Message.Type != structs.MsgDuelCancelled {
		t.Fatalf("expected duel_cancelled, got %s", outs[0].Message.Type)
	}

	s2 := startedSession(t, "u1", "u2")
	if _, err := reduce(s2, CancelRequested{UserID: "u1"}, time.Now()); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("cancel in progress: expected ErrConflict, got %v", err)
	}
}

func TestDisconnectKeepsSessionRunning(t *testing.T) {
	s := startedSession(t, "u1", "u2")
	outs, err := reduce(s, ParticipantDisconnected{UserID: "u1"}, time.Now())
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if s.Status != models.StatusInProgress {
		t.Fatalf("disconnect must not end the session, got %s", s.Status)
	}
	p := s.ParticipantByID("u1")
	if p.ConnectionStatus != models.ConnDisconnected || p.DisconnectedAt == nil {
		t.Fatalf("disconnect not recorded: %+v", p)
	}
	if outs[0].Message.Event != structs.PresenceDisconnected || outs[0].Exclude != "u1" {
		t.Fatalf("presence broadcast wrong: %+v", outs[0])
	}

	outs, err = reduce(s, ParticipantConnected{UserID: "u1"}, time.Now())
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if p.ConnectionStatus != models.ConnJoined || p.DisconnectedAt != nil {
		t.Fatalf("reconnect not recorded: %+v", p)
	}
	if outs[0].Message.Event != structs.PresenceJoined {
		t.Fatalf("presence broadcast wrong: %+v", outs[0])
	}
}

func TestAIProgressIsMonotonic(t *testing.T) {
	s := testSession(models.ModeAIOpponent, "u1")
	ai := testParticipant("ai:1")
	ai.IsAI = true
	s.Participants = append(s.Participants, ai)
	if _, err := reduce(s, ProblemAttached{Problem: testProblem()}, time.Now()); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if s.Status != models.StatusInProgress {
		t.Fatalf("single human + AI should start immediately, got %s", s.Status)
	}

	if _, err := reduce(s, AIProgressed{UserID: "ai:1", Percentage: 50}, time.Now()); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if ai.Progress.TestsPassed != 2 {
		t.Fatalf("expected 2/4 at 50%%, got %+v", ai.Progress)
	}

	// A stale lower tick must not move progress backwards.
	reduce(s, AIProgressed{UserID: "ai:1", Percentage: 25}, time.Now())
	if ai.Progress.TestsPassed != 2 {
		t.Fatalf("progress went backwards: %+v", ai.Progress)
	}

	// The human seat cannot receive synthetic progress.
	if _, err := reduce(s, AIProgressed{UserID: "u1", Percentage: 99}, time.Now()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for human seat, got %v", err)
	}
}

func TestWaitingGraceCancelsAbandonedRoom(t *testing.T) {
	s := testSession(models.ModePrivateRoom, "u1")
	s.Status = models.StatusWaiting
	now := time.Now()

	// Still connected: no-op.
	if outs, _ := reduce(s, WaitingGraceExpired{}, now); len(outs) != 0 {
		t.Fatalf("connected host must not be swept: %+v", outs)
	}

	reduce(s, ParticipantDisconnected{UserID: "u1"}, now)
	outs, err := reduce(s, WaitingGraceExpired{}, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("grace expiry: %v", err)
	}
	if s.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", s.Status)
	}
	if outs[0].Message.Type != structs.MsgDuelCancelled {
		t.Fatalf("expected duel_cancelled, got %s", outs[0].Message.Type)
	}
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	if models.StatusInProgress.CanTransitionTo(models.StatusWaiting) {
		t.Fatal("in_progress -> waiting must be rejected")
	}
	if models.StatusCompleted.CanTransitionTo(models.StatusInProgress) {
		t.Fatal("terminal states must not transition")
	}
	if !models.StatusPending.CanTransitionTo(models.StatusInProgress) {
		t.Fatal("pending -> in_progress must be allowed")
	}
	if !models.StatusWaiting.CanTransitionTo(models.StatusCancelled) {
		t.Fatal("waiting -> cancelled must be allowed")
	}
}
