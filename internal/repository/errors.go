package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a transaction lost a race: serialization
	// failure, deadlock, lock contention or a unique violation. Callers may
	// retry the whole command.
	ErrConflict = errors.New("transaction conflict")
)
