package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JAGGU8160/blog-app/internal/auth"
	"github.com/JAGGU8160/blog-app/internal/mail"
	"github.com/JAGGU8160/blog-app/internal/metrics"
	"github.com/JAGGU8160/blog-app/internal/store"
	"github.com/JAGGU8160/blog-app/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetResetOTP(ctx context.Context, id int, code string, expiresAt time.Time) error
	ResetPassword(ctx context.Context, id int, passwordHash, code string, now time.Time) error
}

// AuthService encapsulates account use-cases: registration, login and
// password reset by emailed one-time code.
type AuthService struct {
	users   UserRepository
	hasher  *auth.PasswordHasher
	tokens  *auth.TokenIssuer
	mailer  mail.Sender
	otpTTL  time.Duration
	metrics *metrics.Metrics

	now         func() time.Time
	generateOTP func() (string, error)
}

func NewAuthService(
	users UserRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenIssuer,
	mailer mail.Sender,
	otpTTL time.Duration,
	m *metrics.Metrics,
) *AuthService {
	return &AuthService{
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		mailer:      mailer,
		otpTTL:      otpTTL,
		metrics:     m,
		now:         time.Now,
		generateOTP: auth.GenerateOTP,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Session is an authenticated user together with a freshly issued token.
type Session struct {
	User  types.User
	Token string
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (sess Session, err error) {
	defer func() { s.metrics.Auth("register", err) }()

	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return Session{}, invalid("All fields are required")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(ctx, types.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return Session{}, ErrEmailTaken
		}
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	return s.session(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (sess Session, err error) {
	defer func() { s.metrics.Auth("login", err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, invalid("Email and password required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	return s.session(user)
}

// Me loads the account behind an authenticated identity.
func (s *AuthService) Me(ctx context.Context, userID int) (types.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserNotFound
		}
		return types.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// RequestPasswordOTP stores a fresh reset code for email and mails it.
// Unknown addresses succeed silently so callers cannot enumerate accounts.
func (s *AuthService) RequestPasswordOTP(ctx context.Context, email string) (err error) {
	defer func() { s.metrics.Auth("password_otp", err) }()

	email = normalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	code, err := s.generateOTP()
	if err != nil {
		return err
	}
	if err := s.users.SetResetOTP(ctx, user.ID, code, s.now().Add(s.otpTTL)); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	msg := mail.OTPMessage(user.Email, code, s.otpTTL)
	if err := s.mailer.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		return fmt.Errorf("send otp mail: %w", err)
	}
	return nil
}

type ResetPasswordInput struct {
	Email       string
	OTP         string
	NewPassword string
}

// ResetPassword replaces the password when the code matches the stored,
// unexpired one. A code is consumed by the first successful reset.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) (err error) {
	defer func() { s.metrics.Auth("reset_password", err) }()

	email := normalizeEmail(in.Email)
	// The code is compared exactly as submitted; padding makes it wrong.
	code := in.OTP
	if email == "" || strings.TrimSpace(code) == "" || in.NewPassword == "" {
		return invalid("Email, OTP and new password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRequest
		}
		return fmt.Errorf("load user: %w", err)
	}
	if !user.HasPendingOTP() {
		if user.PasswordResetAt != nil {
			return ErrInvalidOrExpiredOTP
		}
		return ErrInvalidRequest
	}

	now := s.now()
	if subtle.ConstantTimeCompare([]byte(*user.ResetOTP), []byte(code)) != 1 {
		return ErrInvalidOrExpiredOTP
	}
	if !now.Before(*user.ResetOTPExpiresAt) {
		return ErrInvalidOrExpiredOTP
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.ResetPassword(ctx, user.ID, hash, code, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidOrExpiredOTP
		}
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

func (s *AuthService) session(user types.User) (Session, error) {
	token, err := s.tokens.Issue(auth.Identity{ID: user.ID, Email: user.Email})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
