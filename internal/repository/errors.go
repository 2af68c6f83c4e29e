package repository

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStateMismatch is returned when a compare-and-set finds a different status or version.
	ErrStateMismatch = errors.New("session state changed concurrently")
	// ErrDuplicateActive is returned when the customer already owns a non-terminal session.
	ErrDuplicateActive = errors.New("customer already has an active session")
	// ErrDuplicateSession is returned when the session id is already taken.
	ErrDuplicateSession = errors.New("session already exists")
)
