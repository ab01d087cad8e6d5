package router

import (
	stderrors "errors"
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"techorbit/docs"
	"techorbit/internal/auth"
	"techorbit/internal/config"
	"techorbit/internal/errors"
	"techorbit/internal/handler"
)

// Handlers groups the HTTP handlers mounted by Register.
type Handlers struct {
	Auth        *handler.AuthHandler
	Credentials *handler.CredentialHandler
	Users       *handler.UserHandler
	Coupons     *handler.CouponHandler
	AdminCoupon *handler.AdminCouponHandler
}

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	cfg *config.Config,
	logger *zap.Logger,
	jwtService *auth.JWTService,
	sessions auth.SessionRevoker,
	h Handlers,
) {
	e.HideBanner = true
	e.Validator = NewValidator()

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger))
	if cfg.AppBaseURL != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{cfg.AppBaseURL},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	if cfg.SwaggerHost != "" {
		docs.SwaggerInfo.Host = cfg.SwaggerHost
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	api := e.Group("/api", SecurityHeaders())

	// Public routes
	api.POST("/signup", h.Auth.Signup)
	api.POST("/login", h.Auth.Login)
	api.POST("/verify-otp", h.Credentials.VerifyOTP)
	api.POST("/resend-otp", h.Credentials.ResendOTP)
	api.POST("/forgot-password", h.Credentials.ForgotPassword)
	api.GET("/validate-reset-token", h.Credentials.ValidateResetToken)
	api.POST("/reset-password", h.Credentials.ResetPassword)

	// Secured routes (require JWT authentication)
	secured := api.Group("", JWT(jwtService, sessions))

	secured.GET("/me", h.Users.Me)
	secured.GET("/coupons", h.Coupons.List)
	secured.POST("/coupons", h.Coupons.Claim)
	secured.POST("/coupons/redeem", h.Coupons.Redeem)

	// Admin routes
	admin := secured.Group("/admin", RequireAdmin())

	admin.GET("/coupons", h.AdminCoupon.List)
	admin.POST("/coupons", h.AdminCoupon.Create)
	admin.GET("/coupons/:id", h.AdminCoupon.Get)
	admin.PUT("/coupons/:id", h.AdminCoupon.Update)
	admin.DELETE("/coupons/:id", h.AdminCoupon.Delete)
}

// SecurityHeaders sets the fixed security headers carried by every API response.
func SecurityHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	})
}

// JWT authenticates bearer tokens and stores *auth.Claims under
// handler.ClaimsContextKey. Tokens issued before a password reset are rejected.
func JWT(jwtService *auth.JWTService, sessions auth.SessionRevoker) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey: handler.ClaimsContextKey,
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				return nil, err
			}
			if sessions != nil && sessions.IsRevoked(c.Request().Context(), claims) {
				return nil, errors.ErrUnauthorized
			}
			return claims, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
				Error: "authentication required",
				Code:  "UNAUTHORIZED",
			}).SetInternal(err)
		},
	})
}

// RequireAdmin rejects callers whose token does not carry the ADMIN role.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := c.Get(handler.ClaimsContextKey).(*auth.Claims)
			if !ok || claims == nil || !claims.IsAdmin() {
				httpErr := errors.MapErrorToHTTP(errors.ErrForbidden)
				return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
			}
			return next(c)
		}
	}
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				var he *echo.HTTPError
				if stderrors.As(v.Error, &he) && he.Internal != nil {
					fields = append(fields, zap.Error(he.Internal))
				} else {
					fields = append(fields, zap.Error(v.Error))
				}
			}
			switch {
			case v.Status >= http.StatusInternalServerError:
				logger.Error("request", fields...)
			case v.Status >= http.StatusBadRequest:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
			return nil
		},
	})
}
