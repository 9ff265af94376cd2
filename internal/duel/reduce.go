package duel

import (
	"fmt"
	"time"

	"codeclash/models"
	"codeclash/structs"
)

// reduce is the transition function of the duel state machine:
// (session, event) -> (mutated session, outbound messages). It performs no
// I/O and never blocks, so the whole state machine is unit-testable without
// a network layer. Callers hold the session lock.
func reduce(s *models.DuelSession, ev Event, now time.Time) ([]Outbound, error) {
	switch e := ev.(type) {
	case ProblemAttached:
		return reduceProblemAttached(s, e, now)
	case ParticipantSeated:
		return reduceParticipantSeated(s, e, now)
	case CodeUpdated:
		return reduceCodeUpdated(s, e, now)
	case TypingChanged:
		return reduceTypingChanged(s, e)
	case TestVerdict:
		return reduceTestVerdict(s, e, now)
	case SubmissionVerdict:
		return reduceSubmissionVerdict(s, e, now)
	case AIProgressed:
		return reduceAIProgressed(s, e, now)
	case ParticipantConnected:
		return reducePresence(s, e.UserID, true, now)
	case ParticipantDisconnected:
		return reducePresence(s, e.UserID, false, now)
	case ClockExpired:
		return reduceClockExpired(s, now)
	case CancelRequested:
		return reduceCancelRequested(s, e, now)
	case WaitingGraceExpired:
		return reduceWaitingGraceExpired(s, now)
	}
	return nil, fmt.Errorf("%w: unknown event %q", models.ErrValidation, ev.eventName())
}

func reduceProblemAttached(s *models.DuelSession, e ProblemAttached, now time.Time) ([]Outbound, error) {
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session already terminal", models.ErrConflict)
	}
	if s.Problem != nil {
		// Problems are immutable once attached.
		return nil, nil
	}
	s.Problem = e.Problem
	if outs := maybeStart(s, now); outs != nil {
		return outs, nil
	}
	// Problem ready but a seat is still missing: the session is waiting.
	if s.Status.CanTransitionTo(models.StatusWaiting) {
		s.Status = models.StatusWaiting
	}
	return nil, nil
}

func reduceParticipantSeated(s *models.DuelSession, e ParticipantSeated, now time.Time) ([]Outbound, error) {
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session already terminal", models.ErrConflict)
	}
	if s.ParticipantByID(e.Participant.UserID) != nil {
		// Rejoin of an existing seat, e.g. after a page reload.
		return nil, nil
	}
	if len(s.Participants) >= 2 {
		return nil, fmt.Errorf("%w: room already full", models.ErrConflict)
	}
	p := e.Participant
	p.ConnectionStatus = models.ConnJoined
	p.JoinedAt = now
	if p.LatestCode == nil {
		p.LatestCode = make(map[string]string)
	}
	s.Participants = append(s.Participants, p)

	outs := []Outbound{{
		Exclude: p.UserID,
		Message: structs.ServerMessage{
			Type:        structs.MsgPresence,
			Event:       structs.PresenceJoined,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Timestamp:   now.UnixMilli(),
		},
	}}
	outs = append(outs, maybeStart(s, now)...)
	return outs, nil
}

// maybeStart fires the pending/waiting -> in_progress transition when the
// problem is attached and the required seats are filled. Returns nil when
// the duel cannot start yet.
func maybeStart(s *models.DuelSession, now time.Time) []Outbound {
	if s.Status == models.StatusInProgress || s.Status.Terminal() {
		return nil
	}
	if s.Problem == nil || s.HumanCount() < s.RequiredSeats() {
		return nil
	}
	s.Status = models.StatusInProgress
	t := now
	s.StartedAt = &t
	return []Outbound{{
		Message: structs.ServerMessage{
			Type:      structs.MsgDuelStarted,
			Status:    string(models.StatusInProgress),
			Timestamp: now.UnixMilli(),
		},
	}}
}

func reduceCodeUpdated(s *models.DuelSession, e CodeUpdated, now time.Time) ([]Outbound, error) {
	if err := requireInProgress(s); err != nil {
		return nil, err
	}
	p := s.ParticipantByID(e.UserID)
	if p == nil {
		return nil, fmt.Errorf("%w: participant %s", models.ErrNotFound, e.UserID)
	}
	if p.LatestCode == nil {
		p.LatestCode = make(map[string]string)
	}
	// Last write wins per language; opponent views are read-only spectation.
	p.LatestCode[e.Language] = e.Code
	p.ConnectionStatus = models.ConnCoding

	return []Outbound{{
		Exclude: e.UserID,
		Message: structs.ServerMessage{
			Type:        structs.MsgCodeUpdate,
			UserID:      e.UserID,
			DisplayName: p.DisplayName,
			Language:    e.Language,
			Code:        e.Code,
			Timestamp:   now.UnixMilli(),
		},
	}}, nil
}

func reduceTypingChanged(s *models.DuelSession, e TypingChanged) ([]Outbound, error) {
	if err := requireInProgress(s); err != nil {
		return nil, err
	}
	p := s.ParticipantByID(e.UserID)
	if p == nil {
		return nil, fmt.Errorf("%w: participant %s", models.ErrNotFound, e.UserID)
	}
	return []Outbound{{
		Exclude: e.UserID,
		Message: structs.ServerMessage{
			Type:        structs.MsgTypingStatus,
			UserID:      e.UserID,
			DisplayName: p.DisplayName,
			IsTyping:    e.IsTyping,
		},
	}}, nil
}

func reduceTestVerdict(s *models.DuelSession, e TestVerdict, now time.Time) ([]Outbound, error) {
	if err := requireInProgress(s); err != nil {
		return nil, err
	}
	p := s.ParticipantByID(e.UserID)
	if p == nil {
		return nil, fmt.Errorf("%w: participant %s", models.ErrNotFound, e.UserID)
	}
	p.Submissions = append(p.Submissions, models.Submission{
		ID:          e.SubmissionID,
		Code:        e.Code,
		Language:    e.Language,
		Verdict:     e.Verdict.Status,
		TestsPassed: e.Verdict.TestsPassed,
		TotalTests:  e.Verdict.TotalTests,
		IsScoring:   false,
		SubmittedAt: now,
	})
	p.Progress = progressFrom(e.Verdict)
	verdict := e.Verdict

	return []Outbound{
		{
			Target: e.UserID,
			Message: structs.ServerMessage{
				Type:      structs.MsgTestResult,
				Verdict:   &verdict,
				Progress:  &p.Progress,
				Timestamp: now.UnixMilli(),
			},
		},
		progressUpdate(p, now),
	}, nil
}

func reduceSubmissionVerdict(s *models.DuelSession, e SubmissionVerdict, now time.Time) ([]Outbound, error) {
	if err := requireInProgress(s); err != nil {
		return nil, err
	}
	p := s.ParticipantByID(e.UserID)
	if p == nil {
		return nil, fmt.Errorf("%w: participant %s", models.ErrNotFound, e.UserID)
	}
	if s.MaxScoring > 0 && p.ScoringAttempts() >= s.MaxScoring {
		return nil, fmt.Errorf("%w: no scoring attempts remaining", models.ErrConflict)
	}

	sub := models.Submission{
		ID:          e.SubmissionID,
		Code:        e.Code,
		Language:    e.Language,
		Verdict:     e.Verdict.Status,
		TestsPassed: e.Verdict.TestsPassed,
		TotalTests:  e.Verdict.TotalTests,
		IsScoring:   true,
		SubmittedAt: now,
	}
	p.Submissions = append(p.Submissions, sub)
	p.Progress = progressFrom(e.Verdict)
	verdict := e.Verdict

	outs := []Outbound{
		{
			Target: e.UserID,
			Message: structs.ServerMessage{
				Type:      structs.MsgSubmissionResult,
				Verdict:   &verdict,
				Progress:  &p.Progress,
				Timestamp: now.UnixMilli(),
			},
		},
		progressUpdate(p, now),
	}

	if sub.FullPass() {
		// First participant to reach a full pass wins outright.
		outs = append(outs, setTerminal(s, models.StatusCompleted, e.UserID, now))
		return outs, nil
	}
	if s.MaxScoring > 0 && allAttemptsExhausted(s) {
		outs = append(outs, setTerminal(s, models.StatusCompleted, tieBreakWinner(s), now))
	}
	return outs, nil
}

func reduceAIProgressed(s *models.DuelSession, e AIProgressed, now time.Time) ([]Outbound, error) {
	if s.Status.Terminal() {
		// The simulator is cancelled on terminal transitions; a straggling
		// tick is dropped silently.
		return nil, nil
	}
	if err := requireInProgress(s); err != nil {
		return nil, err
	}
	p := s.ParticipantByID(e.UserID)
	if p == nil || !p.IsAI {
		return nil, fmt.Errorf("%w: no AI participant %s", models.ErrNotFound, e.UserID)
	}
	total := len(s.Problem.TestCases)
	passed := int(e.Percentage / 100 * float64(total))
	if passed < p.Progress.TestsPassed {
		// The synthetic signal only ever moves forward.
		return nil, nil
	}
	p.Progress = models.Progress{TestsPassed: passed, TotalTests: total, Percentage: e.Percentage}
	p.ConnectionStatus = models.ConnCoding
	return []Outbound{progressUpdate(p, now)}, nil
}

func reducePresence(s *models.DuelSession, userID string, connected bool, now time.Time) ([]Outbound, error) {
	if s.Status.Terminal() {
		return nil, nil
	}
	p := s.ParticipantByID(userID)
	if p == nil {
		return nil, fmt.Errorf("%w: participant %s", models.ErrNotFound, userID)
	}
	event := structs.PresenceDisconnected
	if connected {
		event = structs.PresenceJoined
		p.ConnectionStatus = models.ConnJoined
		p.DisconnectedAt = nil
	} else {
		p.ConnectionStatus = models.ConnDisconnected
		t := now
		p.DisconnectedAt = &t
	}
	return []Outbound{{
		Exclude: userID,
		Message: structs.ServerMessage{
			Type:        structs.MsgPresence,
			Event:       event,
			UserID:      userID,
			DisplayName: p.DisplayName,
			Timestamp:   now.UnixMilli(),
		},
	}}, nil
}

func reduceClockExpired(s *models.DuelSession, now time.Time) ([]Outbound, error) {
	if s.Status != models.StatusInProgress {
		return nil, nil
	}
	if s.Elapsed(now) < s.TimeLimit {
		return nil, nil
	}
	return []Outbound{setTerminal(s, models.StatusTimedOut, tieBreakWinner(s), now)}, nil
}

func reduceCancelRequested(s *models.DuelSession, e CancelRequested, now time.Time) ([]Outbound, error) {
	if s.Status.Terminal() {
		return nil, fmt.Errorf("%w: session already terminal", models.ErrConflict)
	}
	if s.Status == models.StatusInProgress {
		return nil, fmt.Errorf("%w: cannot cancel an in-progress duel", models.ErrConflict)
	}
	if e.UserID != "" && s.ParticipantByID(e.UserID) == nil {
		return nil, fmt.Errorf("%w: participant %s", models.ErrNotFound, e.UserID)
	}
	return []Outbound{setTerminal(s, models.StatusCancelled, "", now)}, nil
}

func reduceWaitingGraceExpired(s *models.DuelSession, now time.Time) ([]Outbound, error) {
	if s.Status != models.StatusWaiting {
		return nil, nil
	}
	for _, p := range s.Participants {
		if !p.IsAI && p.ConnectionStatus != models.ConnDisconnected {
			return nil, nil
		}
	}
	return []Outbound{setTerminal(s, models.StatusCancelled, "", now)}, nil
}

func requireInProgress(s *models.DuelSession) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: session already terminal", models.ErrConflict)
	}
	if s.Status != models.StatusInProgress {
		return fmt.Errorf("%w: duel not in progress", models.ErrConflict)
	}
	return nil
}

// setTerminal moves the session to a terminal state and builds the
// broadcast every connected participant must observe last.
func setTerminal(s *models.DuelSession, status models.DuelStatus, winnerID string, now time.Time) Outbound {
	s.Status = status
	t := now
	s.CompletedAt = &t
	s.WinnerID = winnerID
	for _, p := range s.Participants {
		if p.ConnectionStatus != models.ConnDisconnected {
			p.ConnectionStatus = models.ConnFinished
		}
	}

	msgType := structs.MsgDuelCompleted
	switch status {
	case models.StatusTimedOut:
		msgType = structs.MsgDuelTimedOut
	case models.StatusCancelled:
		msgType = structs.MsgDuelCancelled
	}
	return Outbound{
		Message: structs.ServerMessage{
			Type:      msgType,
			Status:    string(status),
			WinnerID:  winnerID,
			ElapsedMs: s.Elapsed(now).Milliseconds(),
			Timestamp: now.UnixMilli(),
		},
	}
}

func progressUpdate(p *models.Participant, now time.Time) Outbound {
	progress := p.Progress
	return Outbound{
		Exclude: p.UserID,
		Message: structs.ServerMessage{
			Type:        structs.MsgProgressUpdate,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Progress:    &progress,
			Timestamp:   now.UnixMilli(),
		},
	}
}

func progressFrom(v models.JudgeVerdict) models.Progress {
	p := models.Progress{TestsPassed: v.TestsPassed, TotalTests: v.TotalTests}
	if v.TotalTests > 0 {
		p.Percentage = float64(v.TestsPassed) / float64(v.TotalTests) * 100
	}
	return p
}

func allAttemptsExhausted(s *models.DuelSession) bool {
	for _, p := range s.Participants {
		if p.ScoringAttempts() < s.MaxScoring {
			return false
		}
	}
	return len(s.Participants) > 0
}

// tieBreakWinner resolves a duel that ended without a full pass: higher
// tests passed first, then lower elapsed time to the best submission, then
// an unresolved draw (empty winner).
func tieBreakWinner(s *models.DuelSession) string {
	type candidate struct {
		id      string
		passed  int
		elapsed time.Duration
	}
	var best *candidate
	draw := false
	for _, p := range s.Participants {
		sub := p.BestScoringSubmission()
		if sub == nil || sub.TestsPassed == 0 {
			continue
		}
		elapsed := time.Duration(0)
		if s.StartedAt != nil {
			elapsed = sub.SubmittedAt.Sub(*s.StartedAt)
		}
		c := candidate{id: p.UserID, passed: sub.TestsPassed, elapsed: elapsed}
		switch {
		case best == nil:
			best = &c
		case c.passed > best.passed:
			best = &c
			draw = false
		case c.passed == best.passed && c.elapsed < best.elapsed:
			best = &c
			draw = false
		case c.passed == best.passed && c.elapsed == best.elapsed:
			draw = true
		}
	}
	if best == nil || draw {
		return ""
	}
	return best.id
}
