package session

import "errors"

var (
	ErrInvalidToken = errors.New("invalid-signature")
	ErrExpiredToken = errors.New("expired")
	ErrRoomMismatch = errors.New("room-mismatch")
	ErrRoomClosed   = errors.New("room-closed")
	ErrNotFound     = errors.New("session_not_found")
	ErrNoOpponent   = errors.New("no_opponent")
	ErrNotAbandoned = errors.New("opponent_not_abandoned")
)
