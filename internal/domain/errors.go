package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	ErrInsufficientBankroll = errors.New("insufficient bankroll")
	ErrDuplicatePosition    = errors.New("position already open for condition")
	ErrPositionClosed       = errors.New("position already closed")
	ErrInvalidPosition      = errors.New("invalid position parameters")
	ErrNoReference          = errors.New("no reference price available")
	ErrNoWindow             = errors.New("no current event window")
	ErrUnknownTier          = errors.New("unknown tier")
	ErrEngineRunning        = errors.New("engine is running")
)
