package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the authorization role of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Capability describes how an account may authenticate.
type Capability uint8

const (
	// CapPassword means the account has a local password hash.
	CapPassword Capability = 1 << iota
	// CapExternal means the account is linked to an external identity provider.
	CapExternal
)

// Has reports whether c includes every bit of other.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// User represents a portal account.
type User struct {
	ID               uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Name             string     `json:"name" gorm:"size:100;not null"`
	Email            string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Phone            *string    `json:"phone,omitempty" gorm:"size:20"`
	PasswordHash     *string    `json:"-" gorm:"size:255"`                  // nil for external-provider accounts
	ExternalProvider string     `json:"externalProvider,omitempty" gorm:"size:32"` // e.g. "google"
	IsVerified       bool       `json:"isVerified" gorm:"not null;index"`
	Role             Role       `json:"role" gorm:"type:varchar(10);not null"`
	OTPCode          *string    `json:"-" gorm:"size:6"`
	OTPExpires       *time.Time `json:"-"`
	ResetToken       *string    `json:"-" gorm:"uniqueIndex;size:64"`
	ResetExpires     *time.Time `json:"-"`
	ResetAttempts    int        `json:"-" gorm:"not null"`
	LastResetAttempt *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// BeforeCreate sets UUID and default role before creating the record.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// Capabilities derives the authentication capabilities of the account.
func (u *User) Capabilities() Capability {
	var c Capability
	if u.PasswordHash != nil && *u.PasswordHash != "" {
		c |= CapPassword
	}
	if u.ExternalProvider != "" {
		c |= CapExternal
	}
	return c
}

// HasPendingOTP reports whether an unexpired OTP is outstanding at now.
// The OTP stays valid up to and including its expiry instant.
func (u *User) HasPendingOTP(now time.Time) bool {
	return u.OTPCode != nil && u.OTPExpires != nil && !now.After(*u.OTPExpires)
}

// InResetCooldown reports whether a reset was requested less than cooldown ago.
func (u *User) InResetCooldown(now time.Time, cooldown time.Duration) bool {
	return u.LastResetAttempt != nil && u.LastResetAttempt.After(now.Add(-cooldown))
}
