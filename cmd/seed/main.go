package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"techorbit/internal/config"
	"techorbit/internal/db"
	"techorbit/internal/logger"
	"techorbit/internal/model"
	"techorbit/internal/repository"
	"techorbit/internal/service"
)

const day = 24 * time.Hour

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting seed script")

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run migrations to ensure schema is up to date
	if err := gormDB.AutoMigrate(&model.User{}, &model.Coupon{}, &model.UserCoupon{}); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	ctx := context.Background()

	if cfg.SeedAdminPassword == "" {
		log.Warn("SEED_ADMIN_PASSWORD not set, skipping admin account")
	} else {
		created, err := seedAdmin(ctx, repository.NewUserRepository(gormDB), cfg.SeedAdminEmail, cfg.SeedAdminPassword)
		if err != nil {
			log.Fatal("failed to seed admin", zap.Error(err))
		}
		log.Info("admin account ready", zap.String("email", cfg.SeedAdminEmail), zap.Bool("created", created))
	}

	seeded, updated, err := seedCoupons(ctx, repository.NewCouponRepository(gormDB), sampleCoupons(time.Now()))
	if err != nil {
		log.Fatal("failed to seed coupons", zap.Error(err))
	}

	log.Info("seed completed successfully",
		zap.Int("coupons_created", seeded),
		zap.Int("coupons_updated", updated),
	)
}

// seedAdmin creates the admin account unless the email is already registered.
// An existing account is left untouched.
func seedAdmin(ctx context.Context, repo repository.UserRepository, email, password string) (bool, error) {
	email = service.NormalizeEmail(email)

	_, err := repo.FindByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("error checking admin %s: %w", email, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	pw := string(hash)
	phone := "+919876543210"

	admin := &model.User{
		Name:         "Admin User",
		Email:        email,
		Phone:        &phone,
		PasswordHash: &pw,
		Role:         model.RoleAdmin,
		IsVerified:   true,
	}
	if err := repo.Create(ctx, admin); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}

// seedCoupons upserts coupons by code. Usage counters of existing coupons are kept.
func seedCoupons(ctx context.Context, repo repository.CouponRepository, coupons []model.Coupon) (seeded int, updated int, err error) {
	for _, coupon := range coupons {
		coupon := coupon
		existing, err := repo.FindByCode(ctx, coupon.Code)
		if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return seeded, updated, fmt.Errorf("error checking coupon %s: %w", coupon.Code, err)
		}

		if existing != nil {
			coupon.ID = existing.ID
			coupon.CreatedAt = existing.CreatedAt
			if err := repo.Update(ctx, &coupon); err != nil {
				return seeded, updated, fmt.Errorf("error updating coupon %s: %w", coupon.Code, err)
			}
			updated++
			continue
		}

		if err := repo.Create(ctx, &coupon); err != nil {
			return seeded, updated, fmt.Errorf("error creating coupon %s: %w", coupon.Code, err)
		}
		seeded++
	}
	return seeded, updated, nil
}

// sampleCoupons is the demo catalogue. EXPIRED10 is inactive and already past
// its window so the expired listing has something to show.
func sampleCoupons(now time.Time) []model.Coupon {
	dec := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	str := func(s string) *string { return &s }
	limit := func(n int) *int { return &n }

	return []model.Coupon{
		{
			Code:              "WELCOME20",
			Name:              "Welcome Discount",
			Description:       str("Get 20% off on your first repair service"),
			DiscountType:      model.DiscountPercentage,
			DiscountValue:     decimal.NewFromInt(20),
			MinOrderAmount:    dec(500),
			MaxDiscountAmount: dec(1000),
			UsageLimit:        limit(100),
			IsActive:          true,
			ValidFrom:         now,
			ValidUntil:        now.Add(30 * day),
		},
		{
			Code:           "SCREEN50",
			Name:           "Screen Repair Special",
			Description:    str("₹500 off on screen replacement services"),
			DiscountType:   model.DiscountFixedAmount,
			DiscountValue:  decimal.NewFromInt(500),
			MinOrderAmount: dec(2000),
			UsageLimit:     limit(50),
			IsActive:       true,
			ValidFrom:      now,
			ValidUntil:     now.Add(15 * day),
		},
		{
			Code:              "BATTERY30",
			Name:              "Battery Replacement Offer",
			Description:       str("30% off on battery replacement services"),
			DiscountType:      model.DiscountPercentage,
			DiscountValue:     decimal.NewFromInt(30),
			MinOrderAmount:    dec(1000),
			MaxDiscountAmount: dec(800),
			UsageLimit:        limit(75),
			IsActive:          true,
			ValidFrom:         now,
			ValidUntil:        now.Add(45 * day),
		},
		{
			Code:           "WATER100",
			Name:           "Water Damage Recovery",
			Description:    str("₹1000 off on water damage repair services"),
			DiscountType:   model.DiscountFixedAmount,
			DiscountValue:  decimal.NewFromInt(1000),
			MinOrderAmount: dec(3000),
			UsageLimit:     limit(25),
			IsActive:       true,
			ValidFrom:      now,
			ValidUntil:     now.Add(20 * day),
		},
		{
			Code:              "SOFTWARE15",
			Name:              "Software Repair Discount",
			Description:       str("15% off on software-related repairs"),
			DiscountType:      model.DiscountPercentage,
			DiscountValue:     decimal.NewFromInt(15),
			MinOrderAmount:    dec(800),
			MaxDiscountAmount: dec(500),
			UsageLimit:        limit(100),
			IsActive:          true,
			ValidFrom:         now,
			ValidUntil:        now.Add(60 * day),
		},
		{
			Code:           "EXPIRED10",
			Name:           "Expired Test Coupon",
			Description:    str("This coupon has expired for testing purposes"),
			DiscountType:   model.DiscountPercentage,
			DiscountValue:  decimal.NewFromInt(10),
			MinOrderAmount: dec(500),
			UsageLimit:     limit(10),
			IsActive:       false,
			ValidFrom:      now.Add(-30 * day),
			ValidUntil:     now.Add(-10 * day),
		},
	}
}
