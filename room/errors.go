package room

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomClosed     = errors.New("room closed")
	ErrRoomFull       = errors.New("room full")
	ErrAlreadyStarted = errors.New("auction already started")
	ErrAlreadyInRoom  = errors.New("player already in a room")
	ErrNotInRoom      = errors.New("player not in a room")
	ErrNotMember      = errors.New("player is not a member of the room")
	ErrNotHost        = errors.New("player is not the host")
	ErrNotRunning     = errors.New("auction not running")
	ErrStaleBid       = errors.New("bid does not exceed the current highest bid")
	ErrNoRoomID       = errors.New("no free room id")
)
