package models

import "time"

// DuelMode identifies how a duel session was created.
type DuelMode string

const (
	ModeRandomPlayer DuelMode = "random_player"
	ModePrivateRoom  DuelMode = "private_room"
	ModeAIOpponent   DuelMode = "ai_opponent"
)

// DuelStatus is the session lifecycle state. Transitions only move forward:
// pending -> generating_problem -> waiting -> in_progress -> {completed, timed_out, cancelled}
type DuelStatus string

const (
	StatusPending           DuelStatus = "pending"
	StatusGeneratingProblem DuelStatus = "generating_problem"
	StatusWaiting           DuelStatus = "waiting"
	StatusInProgress        DuelStatus = "in_progress"
	StatusCompleted         DuelStatus = "completed"
	StatusTimedOut          DuelStatus = "timed_out"
	StatusCancelled         DuelStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s DuelStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut || s == StatusCancelled
}

// rank orders statuses along the state graph so transitions can be checked
// for monotonicity.
func (s DuelStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusGeneratingProblem:
		return 1
	case StatusWaiting:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusTimedOut, StatusCancelled:
		return 4
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a forward move
// through the state graph.
func (s DuelStatus) CanTransitionTo(next DuelStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ConnectionStatus tracks a participant's own connection lifecycle,
// independent of the session status.
type ConnectionStatus string

const (
	ConnJoined       ConnectionStatus = "joined"
	ConnCoding       ConnectionStatus = "coding"
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnFinished     ConnectionStatus = "finished"
)

// Progress is derived from the latest test or submission verdict.
type Progress struct {
	TestsPassed int     `json:"testsPassed" bson:"testsPassed"`
	TotalTests  int     `json:"totalTests" bson:"totalTests"`
	Percentage  float64 `json:"percentage" bson:"percentage"`
}

// Submission is immutable once created. Test runs and scoring submits share
// the shape; IsScoring distinguishes the ones that can end the duel.
type Submission struct {
	ID          string    `json:"id" bson:"id"`
	Code        string    `json:"code" bson:"code"`
	Language    string    `json:"language" bson:"language"`
	Verdict     string    `json:"verdict" bson:"verdict"`
	TestsPassed int       `json:"testsPassed" bson:"testsPassed"`
	TotalTests  int       `json:"totalTests" bson:"totalTests"`
	IsScoring   bool      `json:"isScoring" bson:"isScoring"`
	SubmittedAt time.Time `json:"submittedAt" bson:"submittedAt"`
}

// FullPass reports whether the submission passed every test case.
func (s Submission) FullPass() bool {
	return s.TotalTests > 0 && s.TestsPassed == s.TotalTests
}

// Participant is one seat in a duel. The AI opponent is a virtual
// participant with no live connection.
type Participant struct {
	UserID           string            `json:"userId" bson:"userId"`
	DisplayName      string            `json:"displayName" bson:"displayName"`
	IsAI             bool              `json:"isAI" bson:"isAI"`
	ConnectionStatus ConnectionStatus  `json:"connectionStatus" bson:"connectionStatus"`
	LatestCode       map[string]string `json:"latestCode" bson:"latestCode"`
	Submissions      []Submission      `json:"submissions" bson:"submissions"`
	Progress         Progress          `json:"progress" bson:"progress"`
	JoinedAt         time.Time         `json:"joinedAt" bson:"joinedAt"`
	DisconnectedAt   *time.Time        `json:"disconnectedAt,omitempty" bson:"disconnectedAt,omitempty"`
}

// ScoringAttempts counts submissions that could have ended the duel.
func (p *Participant) ScoringAttempts() int {
	n := 0
	for _, s := range p.Submissions {
		if s.IsScoring {
			n++
		}
	}
	return n
}

// BestScoringSubmission returns the scoring submission with the most passed
// tests, earliest wins ties. Nil when the participant never scored.
func (p *Participant) BestScoringSubmission() *Submission {
	var best *Submission
	for i := range p.Submissions {
		s := &p.Submissions[i]
		if !s.IsScoring {
			continue
		}
		if best == nil || s.TestsPassed > best.TestsPassed {
			best = s
		}
	}
	return best
}

// DuelSession is the aggregate root for one duel, from creation to a
// terminal state. It is mutated only by the engine, one mutation at a time.
type DuelSession struct {
	ID          string     `json:"id" bson:"_id"`
	Mode        DuelMode   `json:"mode" bson:"mode"`
	Status      DuelStatus `json:"status" bson:"status"`
	Difficulty  string     `json:"difficulty" bson:"difficulty"`
	Category    string     `json:"category" bson:"category"`
	RoomCode    string     `json:"roomCode,omitempty" bson:"roomCode,omitempty"`
	Language    string     `json:"language,omitempty" bson:"language,omitempty"`
	Theme       string     `json:"theme,omitempty" bson:"theme,omitempty"`

	Participants []*Participant `json:"participants" bson:"participants"`
	Problem      *Problem       `json:"problem,omitempty" bson:"problem,omitempty"`

	TimeLimit   time.Duration `json:"timeLimit" bson:"timeLimit"`
	MaxScoring  int           `json:"maxScoringAttempts" bson:"maxScoringAttempts"`
	CreatedAt   time.Time     `json:"createdAt" bson:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	WinnerID    string        `json:"winnerId,omitempty" bson:"winnerId,omitempty"`
}

// ParticipantByID returns the seat for userID, or nil.
func (d *DuelSession) ParticipantByID(userID string) *Participant {
	for _, p := range d.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Opponent returns the other seat relative to userID, or nil in a
// single-seat session.
func (d *DuelSession) Opponent(userID string) *Participant {
	for _, p := range d.Participants {
		if p.UserID != userID {
			return p
		}
	}
	return nil
}

// HumanCount counts the non-virtual participants.
func (d *DuelSession) HumanCount() int {
	n := 0
	for _, p := range d.Participants {
		if !p.IsAI {
			n++
		}
	}
	return n
}

// RequiredSeats is 1 human for ai_opponent duels, 2 otherwise.
func (d *DuelSession) RequiredSeats() int {
	if d.Mode == ModeAIOpponent {
		return 1
	}
	return 2
}

// Elapsed returns time since the duel started, zero before start.
func (d *DuelSession) Elapsed(now time.Time) time.Duration {
	if d.StartedAt == nil {
		return 0
	}
	return now.Sub(*d.StartedAt)
}

// MatchmakingTicket is a pending queue entry; it exists only while waiting
// and is removed the instant it is matched or cancelled.
type MatchmakingTicket struct {
	UserID      string    `json:"userId" bson:"userId"`
	DisplayName string    `json:"displayName" bson:"displayName"`
	Difficulty  string    `json:"difficulty" bson:"difficulty"`
	Category    string    `json:"category" bson:"category"`
	EnqueuedAt  time.Time `json:"enqueuedAt" bson:"enqueuedAt"`
}
