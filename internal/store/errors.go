package store

import "errors"

var (
	// ErrNotFound indicates the user id does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrDuplicateEmail indicates the email is already taken by another user.
	ErrDuplicateEmail = errors.New("email already in use")

	// ErrConcurrentModification indicates the caller's observed version no
	// longer matches the stored version. Callers must re-read and resubmit;
	// the gateway never retries on their behalf.
	ErrConcurrentModification = errors.New("user was modified concurrently")
)
