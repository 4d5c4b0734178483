package service

import "errors"

// Typed command rejections. Every guard violation surfaces as one of these
// so callers can tell "you can't vote right now" from a transport failure.
var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrAlreadyStarted    = errors.New("match already started")
	ErrMatchFull         = errors.New("match already has the maximum number of players")
	ErrAlreadyJoined     = errors.New("already joined this match")
	ErrNotEnoughPlayers  = errors.New("not enough players to start")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotAMember        = errors.New("you are not in this match")
	ErrNotAlive          = errors.New("dead players cannot act")
	ErrTargetNotAlive    = errors.New("target is not alive")
	ErrSelfTarget        = errors.New("you cannot target yourself")
	ErrNotAWolf          = errors.New("only wolves act at night")
	ErrWrongRound        = errors.New("ballot is for a different round")
	ErrWrongPhase        = errors.New("action not allowed in the current phase")

	// ErrCommitContention means optimistic-commit retries were exhausted.
	// The caller may retry the whole command.
	ErrCommitContention = errors.New("match commit contention, retry")

	// ErrCorruptMatch means the stored snapshot failed an invariant check.
	// This is a defect, not a runtime condition; the match refuses to proceed.
	ErrCorruptMatch = errors.New("match snapshot is corrupt")
)

// errNoOp signals an idempotent no-op from inside a command: the engine
// commits nothing and returns the current snapshot unchanged.
var errNoOp = errors.New("no-op")
