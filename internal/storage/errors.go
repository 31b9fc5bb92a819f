package storage

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrStorageInit     = errors.New("storage initialization failed")
	ErrFileOperation   = errors.New("file operation failed")
	// ErrQuotaExceeded is returned when a serialized write would exceed the
	// configured quota. In-memory state is never rolled back on it.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
