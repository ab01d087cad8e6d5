package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "techorbit/docs" // swagger docs

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"techorbit/internal/auth"
	"techorbit/internal/cache"
	"techorbit/internal/config"
	"techorbit/internal/db"
	"techorbit/internal/handler"
	"techorbit/internal/logger"
	"techorbit/internal/mailer"
	"techorbit/internal/model"
	"techorbit/internal/ratelimit"
	"techorbit/internal/repository"
	"techorbit/internal/router"
	"techorbit/internal/service"
)

// @title TechOrbitCare Portal API
// @version 1.0
// @description Customer portal API: signup with email verification, password reset, and coupon claiming and redemption.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	gormDB, err := db.Open(cfg.DBDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("database init", zap.Error(err))
	}

	if err := migrate(gormDB, os.Getenv("RESET_DB") == "true", log); err != nil {
		log.Fatal("auto-migrate", zap.Error(err))
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer func() { _ = cacheClient.Close() }()
	if err := cacheClient.Ping(context.Background()); err != nil {
		log.Warn("redis unavailable, caching and session revocation disabled", zap.Error(err))
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(gormDB)
	couponRepo := repository.NewCouponRepository(gormDB)

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	tokenStore := auth.NewTokenStore(cacheClient)

	var mail mailer.Mailer
	if cfg.SMTPHost != "" {
		mail = mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		})
	} else {
		log.Warn("SMTP_HOST not set, emails are written to the log")
		mail = mailer.NewLogMailer(log)
	}

	var limiterStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimitBackend == "redis" {
		limiterStore = ratelimit.NewRedisStore(cacheClient)
	}
	limiter := ratelimit.New(limiterStore, log)

	// Initialize services
	authService := service.NewAuthService(userRepo, jwtService, mail, log)
	credentialService := service.NewCredentialService(userRepo, mail, tokenStore, log, service.CredentialOptions{
		BaseURL:         cfg.AppBaseURL,
		ExposeResetLink: cfg.IsDevelopment(),
	})
	userService := service.NewUserService(userRepo, couponRepo, cacheClient)
	couponService := service.NewCouponService(couponRepo, log)

	e := echo.New()

	// Register routes
	router.Register(e, cfg, log, jwtService, tokenStore, router.Handlers{
		Auth:        handler.NewAuthHandler(authService),
		Credentials: handler.NewCredentialHandler(credentialService, limiter),
		Users:       handler.NewUserHandler(userService),
		Coupons:     handler.NewCouponHandler(couponService),
		AdminCoupon: handler.NewAdminCouponHandler(couponService),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.ServerPort
	go func() {
		log.Info("server starting", zap.String("addr", addr), zap.String("swagger", "/swagger/index.html"))
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal("server start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
}

// migrate creates or updates the schema. With reset set the tables are dropped
// first, claims before the rows they reference.
func migrate(gormDB *gorm.DB, reset bool, log *zap.Logger) error {
	if reset {
		log.Warn("RESET_DB=true detected, dropping all tables")
		for _, table := range []interface{}{&model.UserCoupon{}, &model.Coupon{}, &model.User{}} {
			if err := gormDB.Migrator().DropTable(table); err != nil {
				log.Warn("drop table failed (may not exist)", zap.Error(err))
			}
		}
	}
	return gormDB.AutoMigrate(&model.User{}, &model.Coupon{}, &model.UserCoupon{})
}
