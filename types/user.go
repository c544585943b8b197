package types

import "time"

// User represents an account in the system.
// It contains identity, hashed credentials and transient password-reset state.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display name, shown as the author of their posts.
	Name string `json:"name" db:"name"`

	// Email is the user's login and is unique across all users.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt digest of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// ResetOTP is the pending password-reset code, if one was requested.
	// It is set together with ResetOTPExpiresAt and never exposed.
	ResetOTP *string `json:"-" db:"reset_otp"`

	// ResetOTPExpiresAt is the instant at which ResetOTP stops being valid.
	ResetOTPExpiresAt *time.Time `json:"-" db:"reset_otp_expires_at"`

	// PasswordResetAt records the last password change made with a reset
	// code, so a replayed code can be told apart from one never requested.
	PasswordResetAt *time.Time `json:"-" db:"password_reset_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HasPendingOTP reports whether a reset code was requested and not yet consumed.
// Expiry is not considered here.
func (u User) HasPendingOTP() bool {
	return u.ResetOTP != nil && u.ResetOTPExpiresAt != nil
}
