package services

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already in use")
	ErrUserNotFound        = errors.New("user not found")
	ErrPostNotFound        = errors.New("post not found")
	ErrForbidden           = errors.New("not the owner of this post")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired otp")
)

// ValidationError reports missing or malformed input. Message is safe to
// return to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(message string) error {
	return &ValidationError{Message: message}
}
