package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidPosition = errors.New("invalid position")
	ErrPhaseRegression = errors.New("phase regression")
	ErrPositionClosed  = errors.New("position closed")
	ErrPaused          = errors.New("signal issuance paused")
	ErrNotPaused       = errors.New("not paused")
	ErrStalePrice      = errors.New("stale price")
	ErrLockHeld        = errors.New("lock already held")
)
