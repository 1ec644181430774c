package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness invariant was violated.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the actor lacks permission for the mutation.
	ErrForbidden = errors.New("forbidden")
	// ErrExpired indicates an invitation acted upon past its expiry.
	ErrExpired = errors.New("expired")
	// ErrInvalidTransition indicates a state change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserSafeMessage converts an error into a message suitable for display.
// Taxonomy errors pass through; anything else is reported opaquely.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidCredentials):
		return err.Error()
	default:
		return "something went wrong, please try again"
	}
}
