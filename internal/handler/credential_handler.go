package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"techorbit/internal/errors"
	"techorbit/internal/ratelimit"
	"techorbit/internal/service"
)

// CredentialHandler serves email verification and password-reset endpoints.
type CredentialHandler struct {
	credentials service.CredentialService
	limiter     *ratelimit.Limiter
}

// NewCredentialHandler creates a new credential handler.
func NewCredentialHandler(credentials service.CredentialService, limiter *ratelimit.Limiter) *CredentialHandler {
	return &CredentialHandler{credentials: credentials, limiter: limiter}
}

// VerifyOTPRequest submits an email verification code.
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

// VerifyOTPResponse confirms verification.
type VerifyOTPResponse struct {
	Message  string `json:"message"`
	Verified bool   `json:"verified"`
}

// EmailRequest carries only an email address.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest sets a new password with a reset token.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,strongpassword"`
}

// ValidateResetTokenResponse describes a live reset token.
type ValidateResetTokenResponse struct {
	Message          string    `json:"message"`
	IsNearExpiration bool      `json:"isNearExpiration"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// RateLimitResponse is the body of a 429 response.
type RateLimitResponse struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// tooManyRequests writes a 429 with the Retry-After header.
func tooManyRequests(c echo.Context, message string, d ratelimit.Decision) error {
	rl := &errors.RateLimitError{Message: message, RetryAfter: d.RetryAfter}
	secs := rl.RetryAfterSeconds()
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
	return c.JSON(http.StatusTooManyRequests, RateLimitResponse{Message: message, RetryAfter: secs})
}

// VerifyOTP godoc
// @Summary Verify email with OTP
// @Tags auth
// @Accept json
// @Produce json
// @Param request body VerifyOTPRequest true "Email and 6-digit code"
// @Success 200 {object} VerifyOTPResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /verify-otp [post]
func (h *CredentialHandler) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.credentials.VerifyOTP(c.Request().Context(), req.Email, req.OTP); err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, VerifyOTPResponse{Message: "Email verified successfully!", Verified: true})
}

// ResendOTP godoc
// @Summary Resend the verification code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /resend-otp [post]
func (h *CredentialHandler) ResendOTP(c echo.Context) error {
	var req EmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.credentials.IssueOTP(c.Request().Context(), req.Email); err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "New verification code sent to your email."})
}

// ForgotPassword godoc
// @Summary Request a password reset link
// @Description Always answers with the same body whether or not the account exists.
// @Tags password
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} service.ResetRequestResult
// @Failure 400 {object} errors.ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /forgot-password [post]
func (h *CredentialHandler) ForgotPassword(c echo.Context) error {
	ctx := c.Request().Context()

	if d := h.limiter.Allow(ctx, ratelimit.ForgotPasswordByIP, c.RealIP()); !d.Allowed {
		return tooManyRequests(c, "Too many requests. Please try again later.", d)
	}

	var req EmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if d := h.limiter.Allow(ctx, ratelimit.ForgotPasswordByEmail, service.NormalizeEmail(req.Email)); !d.Allowed {
		return tooManyRequests(c, "Too many reset attempts for this email. Please try again later.", d)
	}

	res, err := h.credentials.RequestReset(ctx, req.Email)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, res)
}

// ValidateResetToken godoc
// @Summary Check a password reset token
// @Tags password
// @Produce json
// @Param token query string true "Reset token"
// @Success 200 {object} ValidateResetTokenResponse
// @Failure 400 {object} errors.ErrorResponse
// @Router /validate-reset-token [get]
func (h *CredentialHandler) ValidateResetToken(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return fail(errors.NewValidationError(errors.FieldError{Field: "token", Message: "is required"}))
	}

	status, err := h.credentials.ValidateResetToken(c.Request().Context(), token)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, ValidateResetTokenResponse{
		Message:          "Token is valid",
		IsNearExpiration: status.IsNearExpiration,
		ExpiresAt:        status.ExpiresAt,
	})
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags password
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Token and new password"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 429 {object} RateLimitResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /reset-password [post]
func (h *CredentialHandler) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()

	if d := h.limiter.Allow(ctx, ratelimit.ResetPasswordByIP, c.RealIP()); !d.Allowed {
		return tooManyRequests(c, "Too many password reset attempts. Please try again later.", d)
	}

	var req ResetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.credentials.ConsumeReset(ctx, req.Token, req.Password); err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Password reset successfully"})
}
