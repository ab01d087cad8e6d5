package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"techorbit/internal/errors"
	"techorbit/internal/model"
	"techorbit/internal/repository"
)

// ListType selects which coupons a user listing returns.
type ListType string

const (
	ListDefault   ListType = ""
	ListAvailable ListType = "available"
	ListUsed      ListType = "used"
	ListExpired   ListType = "expired"
)

// Valid reports whether t is a known list type.
func (t ListType) Valid() bool {
	switch t {
	case ListDefault, ListAvailable, ListUsed, ListExpired:
		return true
	}
	return false
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// ClaimSummary is the caller's own claim of a listed coupon.
type ClaimSummary struct {
	IsUsed    bool       `json:"isUsed"`
	UsedAt    *time.Time `json:"usedAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CouponView is a coupon annotated for one user.
type CouponView struct {
	model.Coupon
	UserCoupon  *ClaimSummary `json:"userCoupon"`
	IsAvailable bool          `json:"isAvailable"`
	IsUsed      bool          `json:"isUsed"`
	UsedAt      *time.Time    `json:"usedAt"`
	IsExpired   bool          `json:"isExpired"`
}

// AdminCouponView is a coupon annotated with claim statistics.
type AdminCouponView struct {
	model.Coupon
	ClaimedCount      int64   `json:"claimedCount"`
	RedeemedCount     int64   `json:"redeemedCount"`
	IsExpired         bool    `json:"isExpired"`
	IsCurrentlyActive bool    `json:"isCurrentlyActive"`
	UsagePercentage   float64 `json:"usagePercentage"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// AdminCouponPage is one page of the admin coupon list.
type AdminCouponPage struct {
	Coupons    []AdminCouponView `json:"coupons"`
	Pagination Pagination        `json:"pagination"`
}

// AdminListQuery holds the admin list parameters.
type AdminListQuery struct {
	Page   int
	Limit  int
	Search string
	Status repository.CouponStatus
}

// CouponInput is the admin payload for creating or replacing a coupon.
type CouponInput struct {
	Code              string
	Name              string
	Description       *string
	DiscountType      model.DiscountType
	DiscountValue     decimal.Decimal
	MinOrderAmount    *decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	UsageLimit        *int
	ValidFrom         time.Time
	ValidUntil        time.Time
	IsActive          *bool
}

// RedeemResult is returned by a successful redemption.
type RedeemResult struct {
	UserCoupon *model.UserCoupon `json:"userCoupon"`
	Discount   *decimal.Decimal  `json:"discount,omitempty"`
}

// CouponService handles coupon listing, claiming, redemption and administration.
type CouponService interface {
	List(ctx context.Context, userID uuid.UUID, listType ListType) ([]CouponView, error)
	Claim(ctx context.Context, userID uuid.UUID, code string) (*model.UserCoupon, error)
	Redeem(ctx context.Context, userID uuid.UUID, code string, orderAmount *decimal.Decimal) (*RedeemResult, error)

	AdminList(ctx context.Context, q AdminListQuery) (*AdminCouponPage, error)
	Get(ctx context.Context, id uuid.UUID) (*AdminCouponView, error)
	Create(ctx context.Context, in CouponInput) (*model.Coupon, error)
	Update(ctx context.Context, id uuid.UUID, in CouponInput) (*model.Coupon, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type couponService struct {
	repo   repository.CouponRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewCouponService creates a new coupon service.
func NewCouponService(repo repository.CouponRepository, logger *zap.Logger) CouponService {
	return &couponService{repo: repo, logger: logger, now: time.Now}
}

// List returns coupons of listType annotated with the user's claims.
func (s *couponService) List(ctx context.Context, userID uuid.UUID, listType ListType) ([]CouponView, error) {
	now := s.now()

	var (
		coupons []model.Coupon
		err     error
	)
	switch listType {
	case ListAvailable:
		coupons, err = s.repo.ListAvailable(ctx, now)
	case ListUsed:
		coupons, err = s.repo.ListUsedByUser(ctx, userID)
	case ListExpired:
		coupons, err = s.repo.ListExpired(ctx, now)
	case ListDefault:
		coupons, err = s.repo.ListForUser(ctx, userID, now)
	default:
		return nil, errors.NewValidationError(errors.FieldError{
			Field:   "type",
			Message: "must be one of available, used, expired",
		})
	}
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(coupons))
	for _, c := range coupons {
		ids = append(ids, c.ID)
	}
	claims, err := s.repo.ListClaimsByUser(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	byCoupon := make(map[uuid.UUID]model.UserCoupon, len(claims))
	for _, uc := range claims {
		byCoupon[uc.CouponID] = uc
	}

	views := make([]CouponView, 0, len(coupons))
	for _, c := range coupons {
		v := CouponView{
			Coupon:      c,
			IsAvailable: c.IsAvailable(now),
			IsExpired:   c.IsExpired(now),
		}
		if uc, ok := byCoupon[c.ID]; ok {
			v.UserCoupon = &ClaimSummary{IsUsed: uc.IsUsed, UsedAt: uc.UsedAt, CreatedAt: uc.CreatedAt}
			v.IsUsed = uc.IsUsed
			v.UsedAt = uc.UsedAt
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *couponService) findByCode(ctx context.Context, code string) (*model.Coupon, error) {
	coupon, err := s.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrCouponNotFound
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return coupon, nil
}

// Claim reserves one usage slot of the coupon for the user. The claim row and the
// usage increment commit together; the unique (user, coupon) index and the
// conditional increment decide any race.
func (s *couponService) Claim(ctx context.Context, userID uuid.UUID, code string) (*model.UserCoupon, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.NewValidationError(errors.FieldError{Field: "couponCode", Message: "is required"})
	}

	coupon, err := s.findByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !coupon.IsActive || !coupon.InWindow(now) {
		return nil, errors.ErrCouponInvalid
	}
	if coupon.LimitReached() {
		return nil, errors.ErrCouponLimitExceeded
	}
	if _, err := s.repo.FindClaim(ctx, userID, coupon.ID); err == nil {
		return nil, errors.ErrAlreadyClaimed
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find claim: %w", err)
	}

	claim := &model.UserCoupon{UserID: userID, CouponID: coupon.ID}
	err = s.repo.WithTransaction(ctx, func(ctx context.Context, repo repository.CouponRepository) error {
		if err := repo.CreateClaim(ctx, claim); err != nil {
			if stderrors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.ErrAlreadyClaimed
			}
			return fmt.Errorf("create claim: %w", err)
		}
		if err := repo.IncrementUsage(ctx, coupon.ID); err != nil {
			if stderrors.Is(err, repository.ErrNoRowsAffected) {
				return errors.ErrCouponLimitExceeded
			}
			return fmt.Errorf("increment usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	coupon.UsedCount++
	claim.Coupon = coupon
	s.logger.Info("coupon claimed",
		zap.String("user_id", userID.String()),
		zap.String("coupon", coupon.Code))
	return claim, nil
}

// Redeem marks the user's claim of code as used against an optional order amount.
func (s *couponService) Redeem(ctx context.Context, userID uuid.UUID, code string, orderAmount *decimal.Decimal) (*RedeemResult, error) {
	coupon, err := s.findByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	claim, err := s.repo.FindClaim(ctx, userID, coupon.ID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrClaimNotFound
		}
		return nil, fmt.Errorf("find claim: %w", err)
	}
	if claim.IsUsed {
		return nil, errors.ErrCouponAlreadyUsed
	}

	now := s.now()
	if !coupon.IsActive || !coupon.InWindow(now) {
		return nil, errors.ErrCouponInvalid
	}

	result := &RedeemResult{UserCoupon: claim}
	if orderAmount != nil {
		if orderAmount.IsNegative() {
			return nil, errors.NewValidationError(errors.FieldError{Field: "orderAmount", Message: "must not be negative"})
		}
		if !coupon.MeetsMinimum(*orderAmount) {
			return nil, errors.ErrMinOrderNotMet
		}
		discount := coupon.DiscountFor(*orderAmount)
		result.Discount = &discount
	}

	if err := s.repo.MarkClaimUsed(ctx, claim.ID, now); err != nil {
		if stderrors.Is(err, repository.ErrNoRowsAffected) {
			return nil, errors.ErrCouponAlreadyUsed
		}
		return nil, fmt.Errorf("mark claim used: %w", err)
	}

	claim.IsUsed = true
	claim.UsedAt = &now
	claim.Coupon = coupon
	return result, nil
}

func (s *couponService) adminView(c model.Coupon, st repository.ClaimStats, now time.Time) AdminCouponView {
	v := AdminCouponView{
		Coupon:            c,
		ClaimedCount:      st.Claimed,
		RedeemedCount:     st.Redeemed,
		IsExpired:         c.IsExpired(now),
		IsCurrentlyActive: c.IsActive && c.InWindow(now),
	}
	if c.UsageLimit != nil && *c.UsageLimit > 0 {
		v.UsagePercentage = float64(st.Redeemed) / float64(*c.UsageLimit) * 100
	}
	return v
}

// AdminList returns one page of coupons with claim statistics.
func (s *couponService) AdminList(ctx context.Context, q AdminListQuery) (*AdminCouponPage, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Status == "" {
		q.Status = repository.StatusAll
	}
	if !q.Status.Valid() {
		return nil, errors.NewValidationError(errors.FieldError{
			Field:   "status",
			Message: "must be one of all, active, expired, inactive",
		})
	}

	now := s.now()
	coupons, total, err := s.repo.List(ctx, repository.CouponFilter{
		Page:   q.Page,
		Limit:  q.Limit,
		Search: q.Search,
		Status: q.Status,
		Now:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(coupons))
	for _, c := range coupons {
		ids = append(ids, c.ID)
	}
	stats, err := s.repo.ClaimStats(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("claim stats: %w", err)
	}

	views := make([]AdminCouponView, 0, len(coupons))
	for _, c := range coupons {
		views = append(views, s.adminView(c, stats[c.ID], now))
	}

	return &AdminCouponPage{
		Coupons: views,
		Pagination: Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(q.Limit))),
		},
	}, nil
}

func (s *couponService) findByID(ctx context.Context, id uuid.UUID) (*model.Coupon, error) {
	coupon, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrCouponNotFound
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return coupon, nil
}

// Get returns one coupon with claim statistics.
func (s *couponService) Get(ctx context.Context, id uuid.UUID) (*AdminCouponView, error) {
	coupon, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.repo.ClaimStats(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("claim stats: %w", err)
	}
	v := s.adminView(*coupon, stats[id], s.now())
	return &v, nil
}

func validateCouponInput(in CouponInput) error {
	var fields []errors.FieldError
	add := func(field, msg string) {
		fields = append(fields, errors.FieldError{Field: field, Message: msg})
	}

	if strings.TrimSpace(in.Code) == "" {
		add("code", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		add("name", "is required")
	}
	if !in.DiscountType.Valid() {
		add("discountType", "must be PERCENTAGE or FIXED_AMOUNT")
	}
	if !in.DiscountValue.IsPositive() {
		add("discountValue", "must be greater than 0")
	} else if in.DiscountType == model.DiscountPercentage && in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
		add("discountValue", "percentage discount cannot exceed 100")
	}
	if in.MinOrderAmount != nil && in.MinOrderAmount.IsNegative() {
		add("minOrderAmount", "must not be negative")
	}
	if in.MaxDiscountAmount != nil && !in.MaxDiscountAmount.IsPositive() {
		add("maxDiscountAmount", "must be greater than 0")
	}
	if in.UsageLimit != nil && *in.UsageLimit < 1 {
		add("usageLimit", "must be at least 1")
	}
	if in.ValidFrom.IsZero() {
		add("validFrom", "is required")
	}
	if in.ValidUntil.IsZero() {
		add("validUntil", "is required")
	}
	if !in.ValidFrom.IsZero() && !in.ValidUntil.IsZero() && !in.ValidUntil.After(in.ValidFrom) {
		add("validUntil", "must be after validFrom")
	}

	if len(fields) > 0 {
		return errors.NewValidationError(fields...)
	}
	return nil
}

func applyCouponInput(c *model.Coupon, in CouponInput) {
	c.Code = strings.TrimSpace(in.Code)
	c.Name = strings.TrimSpace(in.Name)
	c.Description = in.Description
	c.DiscountType = in.DiscountType
	c.DiscountValue = in.DiscountValue
	c.MinOrderAmount = in.MinOrderAmount
	c.MaxDiscountAmount = in.MaxDiscountAmount
	c.UsageLimit = in.UsageLimit
	c.ValidFrom = in.ValidFrom
	c.ValidUntil = in.ValidUntil
	c.IsActive = in.IsActive == nil || *in.IsActive
}

// Create validates and persists a new coupon. Coupons are active unless the
// payload says otherwise.
func (s *couponService) Create(ctx context.Context, in CouponInput) (*model.Coupon, error) {
	if err := validateCouponInput(in); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByCode(ctx, strings.TrimSpace(in.Code)); err == nil {
		return nil, errors.ErrCouponCodeTaken
	} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check coupon code: %w", err)
	}

	coupon := &model.Coupon{}
	applyCouponInput(coupon, in)
	if err := s.repo.Create(ctx, coupon); err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.ErrCouponCodeTaken
		}
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	s.logger.Info("coupon created", zap.String("coupon", coupon.Code))
	return coupon, nil
}

// Update replaces a coupon's definition. The usage counter is kept and the new
// limit may not drop below it.
func (s *couponService) Update(ctx context.Context, id uuid.UUID, in CouponInput) (*model.Coupon, error) {
	if err := validateCouponInput(in); err != nil {
		return nil, err
	}

	coupon, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.UsageLimit != nil && *in.UsageLimit < coupon.UsedCount {
		return nil, errors.NewValidationError(errors.FieldError{
			Field:   "usageLimit",
			Message: fmt.Sprintf("must be at least the current used count (%d)", coupon.UsedCount),
		})
	}

	code := strings.TrimSpace(in.Code)
	if code != coupon.Code {
		if other, err := s.repo.FindByCode(ctx, code); err == nil && other.ID != coupon.ID {
			return nil, errors.ErrCouponCodeTaken
		} else if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("check coupon code: %w", err)
		}
	}

	applyCouponInput(coupon, in)
	if err := s.repo.Update(ctx, coupon); err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.ErrCouponCodeTaken
		}
		return nil, fmt.Errorf("update coupon: %w", err)
	}
	return coupon, nil
}

// Delete removes a coupon nobody has claimed. Claimed coupons must be deactivated instead.
func (s *couponService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.findByID(ctx, id); err != nil {
		return err
	}

	n, err := s.repo.CountClaims(ctx, id)
	if err != nil {
		return fmt.Errorf("count claims: %w", err)
	}
	if n > 0 {
		return errors.ErrCouponInUse
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	s.logger.Info("coupon deleted", zap.String("coupon_id", id.String()))
	return nil
}
