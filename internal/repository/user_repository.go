package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"techorbit/internal/model"
)

// ErrNoRowsAffected is returned by conditional updates whose WHERE clause matched nothing.
var ErrNoRowsAffected = errors.New("no rows affected")

// UserRepository defines user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error)
	SetOTP(ctx context.Context, id uuid.UUID, code string, expires time.Time) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
	IssueResetToken(ctx context.Context, id uuid.UUID, token string, expires, now time.Time) error
	ConsumeResetToken(ctx context.Context, id uuid.UUID, token, passwordHash string, now time.Time) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository builds a GORM-backed repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// Delete hard-deletes a user. Only used to roll back a signup whose mail failed.
func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.User{}).Error
}

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByResetToken returns the user holding token while it is still unexpired.
func (r *userRepository) FindByResetToken(ctx context.Context, token string, now time.Time) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).
		Where("reset_token = ? AND reset_expires > ?", token, now).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) SetOTP(ctx context.Context, id uuid.UUID, code string, expires time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"otp_code":    code,
			"otp_expires": expires,
		}).Error
}

// MarkVerified flips the verification flag and clears the OTP. It only succeeds
// once per user; a second call returns ErrNoRowsAffected.
func (r *userRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND is_verified = ?", id, false).
		Updates(map[string]interface{}{
			"is_verified": true,
			"otp_code":    nil,
			"otp_expires": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

// IssueResetToken stores a fresh reset token and counts the attempt.
func (r *userRepository) IssueResetToken(ctx context.Context, id uuid.UUID, token string, expires, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reset_token":        token,
			"reset_expires":      expires,
			"reset_attempts":     gorm.Expr("reset_attempts + ?", 1),
			"last_reset_attempt": now,
		}).Error
}

// ConsumeResetToken replaces the password hash and clears every reset field, but
// only while token is still the user's live token. Concurrent consumers race on
// the WHERE clause; the loser gets ErrNoRowsAffected.
func (r *userRepository) ConsumeResetToken(ctx context.Context, id uuid.UUID, token, passwordHash string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND reset_token = ? AND reset_expires > ?", id, token, now).
		Updates(map[string]interface{}{
			"password_hash":      passwordHash,
			"reset_token":        nil,
			"reset_expires":      nil,
			"reset_attempts":     0,
			"last_reset_attempt": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
