package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrMalformed     = errors.New("malformed payload")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrKicked        = errors.New("kicked by venue")
	ErrSessionClosed = errors.New("session closed")
	ErrDisabled      = errors.New("backend disabled")
)
