package model

import (
	"errors"
)

var (
	ErrNoTask        = errors.New("no task with handle")
	ErrInvalidSpec   = errors.New("invalid task spec")
	ErrInvalidQuery  = errors.New("invalid log query")
	ErrInvalidValue  = errors.New("invalid config value")
	ErrUnknownKey    = errors.New("unknown config key")
	ErrUnknownSignal = errors.New("unknown signal")
	ErrClosed        = errors.New("runner closed")
	// ErrKillFailed means the process survived the forceful kill and the
	// force window; its resources may not have been reclaimed.
	ErrKillFailed = errors.New("process did not exit after kill")
)
