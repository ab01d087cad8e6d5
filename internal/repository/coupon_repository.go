package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"techorbit/internal/model"
)

// CouponStatus filters the admin coupon list.
type CouponStatus string

const (
	StatusAll      CouponStatus = "all"
	StatusActive   CouponStatus = "active"
	StatusExpired  CouponStatus = "expired"
	StatusInactive CouponStatus = "inactive"
)

// Valid reports whether s is a known status filter.
func (s CouponStatus) Valid() bool {
	switch s {
	case StatusAll, StatusActive, StatusExpired, StatusInactive:
		return true
	}
	return false
}

// CouponFilter selects a page of coupons for the admin list.
type CouponFilter struct {
	Page   int
	Limit  int
	Search string
	Status CouponStatus
	Now    time.Time
}

// ClaimStats counts claims and redemptions of one coupon.
type ClaimStats struct {
	CouponID uuid.UUID
	Claimed  int64
	Redeemed int64
}

// CouponRepository defines coupon and claim persistence operations.
type CouponRepository interface {
	Create(ctx context.Context, coupon *model.Coupon) error
	Update(ctx context.Context, coupon *model.Coupon) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Coupon, error)
	FindByCode(ctx context.Context, code string) (*model.Coupon, error)

	ListAvailable(ctx context.Context, now time.Time) ([]model.Coupon, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Coupon, error)
	ListUsedByUser(ctx context.Context, userID uuid.UUID) ([]model.Coupon, error)
	ListForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Coupon, error)
	List(ctx context.Context, filter CouponFilter) ([]model.Coupon, int64, error)
	ClaimStats(ctx context.Context, couponIDs []uuid.UUID) (map[uuid.UUID]ClaimStats, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error

	CreateClaim(ctx context.Context, claim *model.UserCoupon) error
	FindClaim(ctx context.Context, userID, couponID uuid.UUID) (*model.UserCoupon, error)
	ListClaimsByUser(ctx context.Context, userID uuid.UUID, couponIDs []uuid.UUID) ([]model.UserCoupon, error)
	MarkClaimUsed(ctx context.Context, claimID uuid.UUID, at time.Time) error
	CountClaims(ctx context.Context, couponID uuid.UUID) (int64, error)
	CountUserClaims(ctx context.Context, userID uuid.UUID) (claimed, redeemed int64, err error)

	// Transaction methods
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repo CouponRepository) error) error
}

type couponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a new coupon repository.
func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) Create(ctx context.Context, coupon *model.Coupon) error {
	return r.db.WithContext(ctx).Create(coupon).Error
}

// Update saves every column except used_count, which only IncrementUsage may change.
func (r *couponRepository) Update(ctx context.Context, coupon *model.Coupon) error {
	return r.db.WithContext(ctx).Model(coupon).
		Select("*").
		Omit("id", "used_count", "created_at").
		Updates(coupon).Error
}

func (r *couponRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Coupon{}).Error
}

func (r *couponRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Coupon, error) {
	var coupon model.Coupon
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *couponRepository) FindByCode(ctx context.Context, code string) (*model.Coupon, error) {
	var coupon model.Coupon
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func currentlyValid(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where("is_active = ? AND valid_from <= ? AND valid_until >= ?", true, now, now)
}

// ListAvailable returns active, in-window coupons that still have usage slots.
func (r *couponRepository) ListAvailable(ctx context.Context, now time.Time) ([]model.Coupon, error) {
	var coupons []model.Coupon
	err := currentlyValid(r.db.WithContext(ctx), now).
		Where("usage_limit IS NULL OR used_count < usage_limit").
		Order("created_at DESC").
		Find(&coupons).Error
	return coupons, err
}

func (r *couponRepository) ListExpired(ctx context.Context, now time.Time) ([]model.Coupon, error) {
	var coupons []model.Coupon
	err := r.db.WithContext(ctx).
		Where("valid_until < ?", now).
		Order("created_at DESC").
		Find(&coupons).Error
	return coupons, err
}

// ListUsedByUser returns coupons the user has redeemed.
func (r *couponRepository) ListUsedByUser(ctx context.Context, userID uuid.UUID) ([]model.Coupon, error) {
	var coupons []model.Coupon
	sub := r.db.Model(&model.UserCoupon{}).Select("coupon_id").
		Where("user_id = ? AND is_used = ?", userID, true)
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Order("created_at DESC").
		Find(&coupons).Error
	return coupons, err
}

// ListForUser returns coupons the user has claimed plus every currently valid coupon.
func (r *couponRepository) ListForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]model.Coupon, error) {
	var coupons []model.Coupon
	sub := r.db.Model(&model.UserCoupon{}).Select("coupon_id").Where("user_id = ?", userID)
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Or("is_active = ? AND valid_from <= ? AND valid_until >= ?", true, now, now).
		Order("created_at DESC").
		Find(&coupons).Error
	return coupons, err
}

// List returns one page of coupons matching filter and the total match count.
func (r *couponRepository) List(ctx context.Context, filter CouponFilter) ([]model.Coupon, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Coupon{})

	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(code) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern, pattern)
	}

	switch filter.Status {
	case StatusActive:
		q = currentlyValid(q, filter.Now)
	case StatusExpired:
		q = q.Where("valid_until < ?", filter.Now)
	case StatusInactive:
		q = q.Where("is_active = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var coupons []model.Coupon
	err := q.Order("created_at DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&coupons).Error
	if err != nil {
		return nil, 0, err
	}
	return coupons, total, nil
}

// ClaimStats aggregates claims per coupon. Coupons without claims are absent from the map.
func (r *couponRepository) ClaimStats(ctx context.Context, couponIDs []uuid.UUID) (map[uuid.UUID]ClaimStats, error) {
	stats := make(map[uuid.UUID]ClaimStats, len(couponIDs))
	if len(couponIDs) == 0 {
		return stats, nil
	}

	var rows []ClaimStats
	err := r.db.WithContext(ctx).Model(&model.UserCoupon{}).
		Select("coupon_id, COUNT(*) AS claimed, SUM(CASE WHEN is_used THEN 1 ELSE 0 END) AS redeemed").
		Where("coupon_id IN ?", couponIDs).
		Group("coupon_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats[row.CouponID] = row
	}
	return stats, nil
}

// IncrementUsage reserves one usage slot. It returns ErrNoRowsAffected when the
// limit is already reached.
func (r *couponRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("id = ? AND (usage_limit IS NULL OR used_count < usage_limit)", id).
		Update("used_count", gorm.Expr("used_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *couponRepository) CreateClaim(ctx context.Context, claim *model.UserCoupon) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

func (r *couponRepository) FindClaim(ctx context.Context, userID, couponID uuid.UUID) (*model.UserCoupon, error) {
	var claim model.UserCoupon
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		First(&claim).Error; err != nil {
		return nil, err
	}
	return &claim, nil
}

// ListClaimsByUser returns the user's claims, limited to couponIDs when given.
func (r *couponRepository) ListClaimsByUser(ctx context.Context, userID uuid.UUID, couponIDs []uuid.UUID) ([]model.UserCoupon, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if couponIDs != nil {
		if len(couponIDs) == 0 {
			return nil, nil
		}
		q = q.Where("coupon_id IN ?", couponIDs)
	}
	var claims []model.UserCoupon
	err := q.Order("created_at DESC").Find(&claims).Error
	return claims, err
}

// MarkClaimUsed redeems a claim once; a second call returns ErrNoRowsAffected.
func (r *couponRepository) MarkClaimUsed(ctx context.Context, claimID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.UserCoupon{}).
		Where("id = ? AND is_used = ?", claimID, false).
		Updates(map[string]interface{}{
			"is_used": true,
			"used_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *couponRepository) CountClaims(ctx context.Context, couponID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.UserCoupon{}).
		Where("coupon_id = ?", couponID).
		Count(&n).Error
	return n, err
}

func (r *couponRepository) CountUserClaims(ctx context.Context, userID uuid.UUID) (claimed, redeemed int64, err error) {
	if err = r.db.WithContext(ctx).Model(&model.UserCoupon{}).
		Where("user_id = ?", userID).
		Count(&claimed).Error; err != nil {
		return 0, 0, err
	}
	if err = r.db.WithContext(ctx).Model(&model.UserCoupon{}).
		Where("user_id = ? AND is_used = ?", userID, true).
		Count(&redeemed).Error; err != nil {
		return 0, 0, err
	}
	return claimed, redeemed, nil
}

// WithTransaction executes a function within a database transaction.
func (r *couponRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo CouponRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &couponRepository{db: tx}
		return fn(ctx, txRepo)
	})
}
