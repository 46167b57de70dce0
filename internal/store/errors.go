package store

import "errors"

var (
	ErrDuplicateCheckIn       = errors.New("appointment already checked in")
	ErrInvalidAppointment     = errors.New("appointment not valid for check-in")
	ErrNoActiveStation        = errors.New("no active station of required type")
	ErrWrongStation           = errors.New("ticket belongs to a different station")
	ErrNotWaiting             = errors.New("ticket is not waiting")
	ErrInvalidTransition      = errors.New("transition not allowed from current state")
	ErrConcurrentModification = errors.New("ticket modified concurrently")
	ErrSequenceOverflow       = errors.New("ticket code sequence exhausted for period")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrStationNotFound        = errors.New("station not found")
	ErrQueueEmpty             = errors.New("no waiting ticket at station")
)
