package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/JAGGU8160/blog-app/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, password_hash, reset_otp, reset_otp_expires_at, password_reset_at, created_at`

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (name, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt); err != nil {
		return types.User{}, translateUniqueViolation(err)
	}
	user.ResetOTP = nil
	user.ResetOTPExpiresAt = nil
	return user, nil
}

// SetResetOTP stores a pending reset code and its expiry on the user row,
// replacing any previous code.
func (r *UserRepository) SetResetOTP(ctx context.Context, id int, code string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET reset_otp = $1,
			reset_otp_expires_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, code, expiresAt, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// ResetPassword replaces the password hash, clears the reset code and stamps
// password_reset_at in one statement. The row is only touched while code is
// still the stored code and has not expired at now, so a consumed or stale
// code yields ErrNotFound.
func (r *UserRepository) ResetPassword(ctx context.Context, id int, passwordHash, code string, now time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			reset_otp = NULL,
			reset_otp_expires_at = NULL,
			password_reset_at = $4
		WHERE id = $2
			AND reset_otp = $3
			AND reset_otp_expires_at > $4`
	result, err := r.db.ExecContext(ctx, query, passwordHash, id, code, now)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.ResetOTP,
		&user.ResetOTPExpiresAt,
		&user.PasswordResetAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
