package session

import "errors"

var (
	ErrConnClosed     = errors.New("session: connection closed")
	ErrConnStarted    = errors.New("session: connection already started")
	ErrRequestTimeout = errors.New("session: request timed out")
	ErrNoSocket       = errors.New("session: socket required")
	ErrNoQueue        = errors.New("session: dispatch queue required")
	ErrNoRegistry     = errors.New("session: payload registry required")
)
