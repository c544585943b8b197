package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when a user is created with an email that
// is already registered.
var ErrDuplicateEmail = errors.New("email already exists")

// ErrDuplicateSlug is returned when a post slug collides with an existing one.
var ErrDuplicateSlug = errors.New("slug already exists")

const (
	uniqueViolation = pq.ErrorCode("23505")

	usersEmailConstraint = "users_email_key"
	postsSlugConstraint  = "posts_slug_key"
)

// translateUniqueViolation maps unique-constraint failures on known
// constraints to store sentinels and returns other errors unchanged.
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case usersEmailConstraint:
		return ErrDuplicateEmail
	case postsSlugConstraint:
		return ErrDuplicateSlug
	default:
		return err
	}
}
