package duel

import (
	"codeclash/models"
	"codeclash/structs"
)

// Event is an input to the engine's transition function. Events arrive from
// websocket frames, HTTP calls, judge verdicts, the AI simulator, and timers;
// the engine does not care which.
type Event interface {
	eventName() string
}

// ProblemAttached fires when problem generation/selection completes.
type ProblemAttached struct {
	Problem *models.Problem
}

// ParticipantSeated fires when a participant takes a seat, whether through
// matchmaking, a room join, or AI duel creation.
type ParticipantSeated struct {
	Participant *models.Participant
}

// CodeUpdated mirrors one participant's code buffer to the session.
type CodeUpdated struct {
	UserID   string
	Language string
	Code     string
}

// TypingChanged is a presence hint, relayed but never authoritative.
type TypingChanged struct {
	UserID   string
	IsTyping bool
}

// TestVerdict carries a judge verdict for a non-scoring run.
type TestVerdict struct {
	UserID       string
	SubmissionID string
	Code         string
	Language     string
	Verdict      models.JudgeVerdict
}

// SubmissionVerdict carries a judge verdict for a scoring submit. This is
// the only event apart from ClockExpired that can reach a terminal state.
type SubmissionVerdict struct {
	UserID       string
	SubmissionID string
	Code         string
	Language     string
	Verdict      models.JudgeVerdict
}

// ParticipantConnected marks a live channel opening for a seat.
type ParticipantConnected struct {
	UserID string
}

// ParticipantDisconnected marks a live channel dropping for a seat. The
// session itself stays in_progress; the seat merely loses presence.
type ParticipantDisconnected struct {
	UserID string
}

// AIProgressed is the simulator's test_result equivalent: a monotonic
// synthetic progress signal for the virtual opponent.
type AIProgressed struct {
	UserID     string
	Percentage float64
}

// ClockExpired fires when elapsed time reaches the session time limit. It is
// raised server-side from started_at, never from a client-reported clock.
type ClockExpired struct{}

// CancelRequested is an explicit cancellation by a participant, valid only
// before the duel is in progress.
type CancelRequested struct {
	UserID string
}

// WaitingGraceExpired fires when every seated human has been disconnected
// for longer than the waiting-room grace period.
type WaitingGraceExpired struct{}

func (ProblemAttached) eventName() string          { return "problem_attached" }
func (ParticipantSeated) eventName() string        { return "participant_seated" }
func (CodeUpdated) eventName() string              { return "code_updated" }
func (TypingChanged) eventName() string            { return "typing_changed" }
func (TestVerdict) eventName() string              { return "test_verdict" }
func (SubmissionVerdict) eventName() string        { return "submission_verdict" }
func (ParticipantConnected) eventName() string     { return "participant_connected" }
func (ParticipantDisconnected) eventName() string  { return "participant_disconnected" }
func (AIProgressed) eventName() string             { return "ai_progressed" }
func (ClockExpired) eventName() string             { return "clock_expired" }
func (CancelRequested) eventName() string          { return "cancel_requested" }
func (WaitingGraceExpired) eventName() string      { return "waiting_grace_expired" }

// Outbound is a message the engine wants delivered to connected
// participants of the session. An empty Target broadcasts to everyone;
// Exclude suppresses the echo back to the originator.
type Outbound struct {
	Target  string
	Exclude string
	Message structs.ServerMessage
}
