package service

import (
	"context"
	stderrors "errors"
	"fmt"
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

// SignupInput carries the fields of a new account.
type SignupInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// AuthService handles authentication operations.
type AuthService interface {
	Signup(ctx context.Context, in SignupInput) (*model.User, error)
	Login(ctx context.Context, email, password string, remember bool) (*LoginResult, error)
}

type authService struct {
	users      repository.UserRepository
	jwtService *auth.JWTService
	mailer     mailer.Mailer
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(users repository.UserRepository, jwtService *auth.JWTService, m mailer.Mailer, logger *zap.Logger) AuthService {
	return &authService{
		users:      users,
		jwtService: jwtService,
		mailer:     m,
		logger:     logger,
		now:        time.Now,
	}
}

// Signup creates an unverified account and mails its verification code. If the
// mail cannot be sent the account is removed again so the address can retry.
func (s *authService) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	email := NormalizeEmail(in.Email)

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, errors.ErrUserAlreadyExists
	}
	if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check user existence: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	hashStr := string(hash)

	code, err := generateOTP()
	if err != nil {
		return nil, err
	}
	expires := s.now().Add(otpTTL)

	user := &model.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: &hashStr,
		Role:         model.RoleUser,
		OTPCode:      &code,
		OTPExpires:   &expires,
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		user.Phone = &phone
	}

	if err := s.users.Create(ctx, user); err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.mailer.SendVerificationCode(ctx, user.Email, user.Name, code, false); err != nil {
		s.logger.Error("failed to send verification email, rolling back signup",
			zap.String("user_id", user.ID.String()), zap.Error(err))
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.logger.Error("failed to roll back signup", zap.String("user_id", user.ID.String()), zap.Error(delErr))
		}
		return nil, errors.ErrEmailDelivery
	}

	return user, nil
}

// Login authenticates a verified password account and issues a session token.
func (s *authService) Login(ctx context.Context, email, password string, remember bool) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !user.IsVerified {
		return nil, errors.ErrEmailNotVerified
	}

	caps := user.Capabilities()
	if !caps.Has(model.CapPassword) {
		if caps.Has(model.CapExternal) {
			return nil, errors.ErrExternalAccount
		}
		return nil, errors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwtService.GenerateToken(user, remember)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
