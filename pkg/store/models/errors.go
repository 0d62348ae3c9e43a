package models

import "errors"

// Domain errors returned by the store. Handlers and the collaboration hub
// match on these with errors.Is to pick the right wire-level response.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDuplicateUser       = errors.New("user already exists")
	ErrCanvasNotFound      = errors.New("canvas not found")
	ErrDuplicateCanvas     = errors.New("canvas already exists")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrFileNotFound        = errors.New("file not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionActive   = errors.New("transaction already active for user on this canvas")
	ErrViewportNotFound    = errors.New("viewport state not found")
)
