package database

import "errors"

var (
	// ErrClassNotAvailable marks a booking attempt against an
	// unpublished or deactivated class.
	ErrClassNotAvailable = errors.New("class is not available for booking")

	// ErrCapacityExceeded marks a reservation attempt against a class
	// that has no spots left.
	ErrCapacityExceeded = errors.New("class capacity exceeded")

	// ErrInvalidParticipants marks a booking request with missing or
	// non-positive participant counts.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrCancellationWindowClosed marks a cancellation attempt inside
	// the cutoff window before session start.
	ErrCancellationWindowClosed = errors.New("cancellation window closed")

	// ErrSequenceOverflow marks the 1000th booking of a calendar day.
	ErrSequenceOverflow = errors.New("daily booking sequence overflow")

	// ErrBookingNotFound is returned for lookups of unknown bookings.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrClassNotFound is returned for lookups of unknown classes.
	ErrClassNotFound = errors.New("class not found")

	// ErrConcurrentModification signals a lost optimistic-lock race;
	// callers re-read and retry a bounded number of times.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)
