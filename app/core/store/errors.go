package store

import "errors"

var (
	// Validation failures: the operation is rejected, nothing is applied.
	ErrEmptyText    = errors.New("store: task text is empty")
	ErrPastReminder = errors.New("store: reminder time is in the past")

	// Reference failures.
	ErrTaskNotFound = errors.New("store: task not found")
	ErrUserNotFound = errors.New("store: user not found")
)

// IsValidation reports whether err is a rejected-input condition the user
// can correct and retry.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyText) || errors.Is(err, ErrPastReminder)
}

// IsNotFound reports whether err refers to a missing task or user.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrUserNotFound)
}
