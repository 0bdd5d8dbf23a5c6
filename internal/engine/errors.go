package engine

import (
	"errors"

	"assignx/internal/lifecycle"
	"assignx/internal/repo"
)

var (
	ErrIllegalTransition   = lifecycle.ErrIllegalTransition
	ErrStaleQuote          = errors.New("quote is not the project's current quote")
	ErrAlreadyPaid         = errors.New("project already paid")
	ErrAlreadySettled      = errors.New("project already settled")
	ErrWorkerUnavailable   = errors.New("worker unavailable")
	ErrWorkerAtCapacity    = errors.New("worker at capacity")
	ErrWorkerBlacklisted   = errors.New("worker blacklisted by intermediary")
	ErrNoDeliverables      = errors.New("no deliverables")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrTimerArmed          = errors.New("auto-approval timer already armed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrConflict            = repo.ErrConflict
)
