package structs

import "codeclash/models"

// Client -> server frame types.
const (
	MsgCodeUpdate   = "code_update"
	MsgTypingStatus = "typing_status"
	MsgRunTests     = "run_tests"
	MsgSubmit       = "submit"
	MsgHeartbeat    = "heartbeat"
)

// Server -> client frame types. MsgCodeUpdate and MsgTypingStatus are reused
// for relayed opponent activity.
const (
	MsgTestResult       = "test_result"
	MsgSubmissionResult = "submission_result"
	MsgDuelStarted      = "duel_started"
	MsgDuelCompleted    = "duel_completed"
	MsgDuelTimedOut     = "duel_timed_out"
	MsgDuelCancelled    = "duel_cancelled"
	MsgProgressUpdate   = "progress_update"
	MsgPresence         = "presence"
	MsgSnapshot         = "snapshot"
	MsgError            = "error"
)

// Presence events carried in ServerMessage.Event.
const (
	PresenceJoined       = "joined"
	PresenceDisconnected = "disconnected"
)

// ClientMessage is an inbound frame on the duel channel.
type ClientMessage struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	IsTyping *bool  `json:"isTyping,omitempty"`
}

// ServerMessage is an outbound frame on the duel channel.
type ServerMessage struct {
	Type        string               `json:"type"`
	UserID      string               `json:"userId,omitempty"`
	DisplayName string               `json:"displayName,omitempty"`
	Language    string               `json:"language,omitempty"`
	Code        string               `json:"code,omitempty"`
	IsTyping    bool                 `json:"isTyping,omitempty"`
	Event       string               `json:"event,omitempty"`
	Verdict     *models.JudgeVerdict `json:"verdict,omitempty"`
	Progress    *models.Progress     `json:"progress,omitempty"`
	Status      string               `json:"status,omitempty"`
	WinnerID    string               `json:"winnerId,omitempty"`
	ElapsedMs   int64                `json:"elapsedMs,omitempty"`
	Snapshot    *Snapshot            `json:"snapshot,omitempty"`
	Error       string               `json:"error,omitempty"`
	Timestamp   int64                `json:"timestamp,omitempty"`
}

// ParticipantView is one seat as seen in a snapshot.
type ParticipantView struct {
	UserID           string            `json:"userId"`
	DisplayName      string            `json:"displayName"`
	IsAI             bool              `json:"isAI"`
	ConnectionStatus string            `json:"connectionStatus"`
	LatestCode       map[string]string `json:"latestCode,omitempty"`
	Progress         models.Progress   `json:"progress"`
	ScoringAttempts  int               `json:"scoringAttempts"`
}

// Snapshot is the full reconnection state: everything a client needs to
// render the duel without replaying any message history.
type Snapshot struct {
	SessionID   string           `json:"sessionId"`
	Mode        string           `json:"mode"`
	Status      string           `json:"status"`
	Difficulty  string           `json:"difficulty"`
	Category    string           `json:"category"`
	RoomCode    string           `json:"roomCode,omitempty"`
	Problem     *models.Problem  `json:"problem,omitempty"`
	TimeLimitMs int64            `json:"timeLimitMs"`
	ElapsedMs   int64            `json:"elapsedMs"`
	You         ParticipantView  `json:"you"`
	Opponent    *ParticipantView `json:"opponent,omitempty"`
	WinnerID    string           `json:"winnerId,omitempty"`
}
