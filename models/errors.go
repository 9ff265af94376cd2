package models

import "errors"

// Sentinel errors for the duel surface. Handlers map these to HTTP status
// codes; none of them ever forces a session state transition.
var (
	// ErrValidation covers malformed input rejected before reaching the judge.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers unknown session ids, unknown or expired room codes,
	// and users with no active session.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers already-queued users, users already in an active
	// session, full rooms, and writes against a terminal session.
	ErrConflict = errors.New("conflict")

	// ErrAuthentication covers missing or expired credentials on channel open.
	ErrAuthentication = errors.New("authentication failed")

	// ErrJudgeUnavailable is returned when the judge collaborator fails or
	// times out. Retryable; the session is not mutated.
	ErrJudgeUnavailable = errors.New("judge unavailable")
)
