package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"techorbit/internal/cache"
	"techorbit/internal/errors"
	"techorbit/internal/model"
	"techorbit/internal/repository"
)

const profileCacheTTL = 5 * time.Minute

// Dashboard is the signed-in user's overview.
type Dashboard struct {
	User             *model.User `json:"user"`
	ClaimedCoupons   int64       `json:"claimedCoupons"`
	RedeemedCoupons  int64       `json:"redeemedCoupons"`
	AvailableCoupons int64       `json:"availableCoupons"`
}

// UserService exposes profile operations.
type UserService interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*model.User, error)
	Dashboard(ctx context.Context, id uuid.UUID) (*Dashboard, error)
}

type userService struct {
	users   repository.UserRepository
	coupons repository.CouponRepository
	cache   *cache.Client
	now     func() time.Time
}

// NewUserService builds a UserService with repositories and cache.
func NewUserService(users repository.UserRepository, coupons repository.CouponRepository, cache *cache.Client) UserService {
	return &userService{users: users, coupons: coupons, cache: cache, now: time.Now}
}

func (s *userService) cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("profile:%s", id)
}

func (s *userService) GetProfile(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if data, _ := s.cache.Get(ctx, s.cacheKey(id)); data != nil {
		var cached model.User
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if payload, err := json.Marshal(user); err == nil {
		_ = s.cache.Set(ctx, s.cacheKey(id), payload, profileCacheTTL)
	}
	return user, nil
}

// Dashboard returns the profile with coupon counters. Available counts coupons
// that are claimable now and not yet claimed by the user.
func (s *userService) Dashboard(ctx context.Context, id uuid.UUID) (*Dashboard, error) {
	user, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	claimed, redeemed, err := s.coupons.CountUserClaims(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count claims: %w", err)
	}

	available, err := s.coupons.ListAvailable(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list available coupons: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(available))
	for _, c := range available {
		ids = append(ids, c.ID)
	}
	mine, err := s.coupons.ListClaimsByUser(ctx, id, ids)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}

	return &Dashboard{
		User:             user,
		ClaimedCoupons:   claimed,
		RedeemedCoupons:  redeemed,
		AvailableCoupons: int64(len(available) - len(mine)),
	}, nil
}
