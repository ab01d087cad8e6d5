package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"techorbit/internal/auth"
	"techorbit/internal/errors"
	"techorbit/internal/mailer"
	"techorbit/internal/model"
	"techorbit/internal/repository"
)

const (
	bcryptCost = 12

	otpTTL           = 10 * time.Minute
	resetTokenTTL    = 15 * time.Minute
	resetCooldown    = time.Hour
	resetNearExpiry  = 5 * time.Minute
	maxResetAttempts = 5

	resetRequestMessage = "Password reset email sent! Check your inbox."
)

var resetTokenPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ResetRequestResult is the only response RequestReset gives on success. Every
// branch (unknown email, unverified, cooldown, token issued) returns the same
// message and retry hint so callers cannot tell accounts apart.
type ResetRequestResult struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
	ResetLink  string `json:"resetLink,omitempty"`
}

// ResetTokenStatus describes a live reset token.
type ResetTokenStatus struct {
	IsNearExpiration bool      `json:"isNearExpiration"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// CredentialService manages email verification codes and password-reset tokens.
type CredentialService interface {
	IssueOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) error
	RequestReset(ctx context.Context, email string) (*ResetRequestResult, error)
	ValidateResetToken(ctx context.Context, token string) (*ResetTokenStatus, error)
	ConsumeReset(ctx context.Context, token, newPassword string) error
}

// CredentialOptions tunes environment-dependent behavior.
type CredentialOptions struct {
	// BaseURL is the public site address reset links point to.
	BaseURL string
	// ExposeResetLink returns the reset link in the response. Development only.
	ExposeResetLink bool
}

type credentialService struct {
	users    repository.UserRepository
	mailer   mailer.Mailer
	sessions auth.SessionRevoker
	logger   *zap.Logger
	opts     CredentialOptions
	now      func() time.Time
}

// NewCredentialService creates a new credential lifecycle service.
func NewCredentialService(
	users repository.UserRepository,
	m mailer.Mailer,
	sessions auth.SessionRevoker,
	logger *zap.Logger,
	opts CredentialOptions,
) CredentialService {
	return &credentialService{
		users:    users,
		mailer:   m,
		sessions: sessions,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateOTP returns a uniformly random code in [100000, 999999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// generateResetToken returns 32 random bytes as lowercase hex.
func generateResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *credentialService) findUser(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// IssueOTP sends a fresh verification code to an unverified account.
func (s *credentialService) IssueOTP(ctx context.Context, email string) error {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return errors.ErrAlreadyVerified
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}
	if err := s.users.SetOTP(ctx, user.ID, code, s.now().Add(otpTTL)); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.mailer.SendVerificationCode(ctx, user.Email, user.Name, code, true); err != nil {
		s.logger.Error("failed to send verification code",
			zap.String("user_id", user.ID.String()), zap.Error(err))
		return errors.ErrEmailDelivery
	}
	return nil
}

// VerifyOTP confirms the account's email address.
func (s *credentialService) VerifyOTP(ctx context.Context, email, code string) error {
	user, err := s.findUser(ctx, email)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return errors.ErrAlreadyVerified
	}
	if !user.HasPendingOTP(s.now()) {
		return errors.ErrOTPExpired
	}
	if subtle.ConstantTimeCompare([]byte(*user.OTPCode), []byte(code)) != 1 {
		return errors.ErrOTPMismatch
	}

	if err := s.users.MarkVerified(ctx, user.ID); err != nil {
		if stderrors.Is(err, repository.ErrNoRowsAffected) {
			return errors.ErrAlreadyVerified
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// RequestReset issues a reset token to a verified account outside its cooldown.
func (s *credentialService) RequestReset(ctx context.Context, email string) (*ResetRequestResult, error) {
	result := &ResetRequestResult{Message: resetRequestMessage}

	user, err := s.findUser(ctx, email)
	if stderrors.Is(err, errors.ErrUserNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !user.IsVerified {
		return result, nil
	}
	if user.InResetCooldown(now, resetCooldown) {
		s.logger.Info("password reset requested during cooldown", zap.String("user_id", user.ID.String()))
		return result, nil
	}

	token, err := generateResetToken()
	if err != nil {
		return nil, err
	}
	if err := s.users.IssueResetToken(ctx, user.ID, token, now.Add(resetTokenTTL), now); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	link := s.resetLink(token)
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		// A distinct failure here would reveal that the account exists.
		s.logger.Error("failed to send password reset email",
			zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	if s.opts.ExposeResetLink {
		result.ResetLink = link
	}
	return result, nil
}

func (s *credentialService) resetLink(token string) string {
	return strings.TrimRight(s.opts.BaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

func (s *credentialService) findByToken(ctx context.Context, token string) (*model.User, error) {
	if !resetTokenPattern.MatchString(token) {
		return nil, errors.ErrInvalidTokenFormat
	}
	user, err := s.users.FindByResetToken(ctx, token, s.now())
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrResetTokenInvalid
		}
		return nil, fmt.Errorf("find reset token: %w", err)
	}
	return user, nil
}

// ValidateResetToken checks a token without consuming it.
func (s *credentialService) ValidateResetToken(ctx context.Context, token string) (*ResetTokenStatus, error) {
	user, err := s.findByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	expiresAt := *user.ResetExpires
	return &ResetTokenStatus{
		IsNearExpiration: expiresAt.Before(s.now().Add(resetNearExpiry)),
		ExpiresAt:        expiresAt,
	}, nil
}

// ConsumeReset sets a new password and invalidates the token and every existing session.
func (s *credentialService) ConsumeReset(ctx context.Context, token, newPassword string) error {
	user, err := s.findByToken(ctx, token)
	if err != nil {
		return err
	}
	if user.ResetAttempts >= maxResetAttempts {
		return errors.ErrTooManyResetAttempts
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := s.users.ConsumeResetToken(ctx, user.ID, token, string(hash), now); err != nil {
		if stderrors.Is(err, repository.ErrNoRowsAffected) {
			return errors.ErrResetTokenInvalid
		}
		return fmt.Errorf("consume reset token: %w", err)
	}

	if !user.Capabilities().Has(model.CapPassword) {
		s.logger.Info("password capability granted by reset", zap.String("user_id", user.ID.String()))
	}
	if err := s.sessions.RevokeSessions(ctx, user.ID.String(), now); err != nil {
		s.logger.Warn("failed to revoke sessions after password reset",
			zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	return nil
}
