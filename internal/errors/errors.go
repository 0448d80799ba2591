package errors

import (
	"errors"
)

// Request lifecycle errors
var (
	ErrAlreadyPending    = errors.New("request already pending")
	ErrUserBanned        = errors.New("user is banned")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyTerminal   = errors.New("request already terminal")
	ErrUnauthorized      = errors.New("unauthorized")
)
