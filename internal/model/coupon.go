package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DiscountType represents how a coupon discount is computed.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "PERCENTAGE"
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixedAmount
}

var hundred = decimal.NewFromInt(100)

// Coupon represents a promotional code.
type Coupon struct {
	ID                uuid.UUID        `json:"id" gorm:"type:char(36);primaryKey"`
	Code              string           `json:"code" gorm:"uniqueIndex;size:64;not null"`
	Name              string           `json:"name" gorm:"size:255;not null"`
	Description       *string          `json:"description,omitempty" gorm:"type:text"`
	DiscountType      DiscountType     `json:"discountType" gorm:"type:varchar(16);not null"`
	DiscountValue     decimal.Decimal  `json:"discountValue" gorm:"type:decimal(12,2);not null"`
	MinOrderAmount    *decimal.Decimal `json:"minOrderAmount,omitempty" gorm:"type:decimal(12,2)"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount,omitempty" gorm:"type:decimal(12,2)"`
	UsageLimit        *int             `json:"usageLimit,omitempty"`
	UsedCount         int              `json:"usedCount" gorm:"not null"`
	IsActive          bool             `json:"isActive" gorm:"not null;index"`
	ValidFrom         time.Time        `json:"validFrom" gorm:"not null;index"`
	ValidUntil        time.Time        `json:"validUntil" gorm:"not null;index"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// BeforeCreate sets UUID before creating the record.
func (c *Coupon) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// InWindow reports whether now falls inside [ValidFrom, ValidUntil], both ends inclusive.
func (c *Coupon) InWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// IsExpired reports whether the validity window has ended.
func (c *Coupon) IsExpired(now time.Time) bool {
	return now.After(c.ValidUntil)
}

// LimitReached reports whether every usage slot has been taken.
func (c *Coupon) LimitReached() bool {
	return c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit
}

// IsAvailable reports whether the coupon can currently be claimed by someone.
func (c *Coupon) IsAvailable(now time.Time) bool {
	return c.IsActive && c.InWindow(now) && !c.LimitReached()
}

// MeetsMinimum reports whether orderAmount satisfies MinOrderAmount.
func (c *Coupon) MeetsMinimum(orderAmount decimal.Decimal) bool {
	return c.MinOrderAmount == nil || orderAmount.GreaterThanOrEqual(*c.MinOrderAmount)
}

// DiscountFor computes the discount for an order. Percentage discounts are capped by
// MaxDiscountAmount; no discount ever exceeds the order amount itself.
func (c *Coupon) DiscountFor(orderAmount decimal.Decimal) decimal.Decimal {
	if orderAmount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		discount = orderAmount.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount != nil && discount.GreaterThan(*c.MaxDiscountAmount) {
			discount = *c.MaxDiscountAmount
		}
	case DiscountFixedAmount:
		discount = c.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	return discount.Round(2)
}

// UserCoupon records one user's claim of one coupon.
type UserCoupon struct {
	ID        uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	UserID    uuid.UUID  `json:"userId" gorm:"type:char(36);not null;uniqueIndex:idx_user_coupon"`
	CouponID  uuid.UUID  `json:"couponId" gorm:"type:char(36);not null;uniqueIndex:idx_user_coupon;index"`
	IsUsed    bool       `json:"isUsed" gorm:"not null"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	// Relations
	User   *User   `json:"-" gorm:"foreignKey:UserID"`
	Coupon *Coupon `json:"coupon,omitempty" gorm:"foreignKey:CouponID"`
}

// BeforeCreate sets UUID before creating the record.
func (uc *UserCoupon) BeforeCreate(tx *gorm.DB) error {
	if uc.ID == uuid.Nil {
		uc.ID = uuid.New()
	}
	return nil
}
