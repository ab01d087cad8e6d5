package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("invalid input data")

	// ErrUserNotFound is returned when no account matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrCouponNotFound is returned when a coupon code or id does not exist.
	ErrCouponNotFound = errors.New("invalid coupon code")
	// ErrClaimNotFound is returned when the user never claimed the coupon.
	ErrClaimNotFound = errors.New("you have not claimed this coupon")

	// ErrUserAlreadyExists is returned when signing up with a taken email.
	ErrUserAlreadyExists = errors.New("user with this email already exists")
	// ErrCouponCodeTaken is returned when a coupon code is already in use.
	ErrCouponCodeTaken = errors.New("coupon code already exists")
	// ErrCouponInUse is returned when deleting a coupon somebody claimed.
	ErrCouponInUse = errors.New("coupon has been claimed; deactivate it instead")
	// ErrAlreadyClaimed is returned on a second claim of the same coupon.
	ErrAlreadyClaimed = errors.New("you already have this coupon")
	// ErrAlreadyVerified is returned when the email is verified already.
	ErrAlreadyVerified = errors.New("email is already verified")
	// ErrCouponAlreadyUsed is returned when redeeming a claim twice.
	ErrCouponAlreadyUsed = errors.New("coupon has already been used")

	// ErrCouponInvalid is returned when a coupon is inactive or outside its validity window.
	ErrCouponInvalid = errors.New("coupon is not valid")
	// ErrCouponLimitExceeded is returned when every usage slot is taken.
	ErrCouponLimitExceeded = errors.New("coupon usage limit exceeded")
	// ErrMinOrderNotMet is returned when the order is below the coupon minimum.
	ErrMinOrderNotMet = errors.New("order amount is below the coupon minimum")

	// ErrOTPExpired is returned when no live OTP exists.
	ErrOTPExpired = errors.New("OTP has expired. Please request a new one")
	// ErrOTPMismatch is returned when the submitted code differs.
	ErrOTPMismatch = errors.New("invalid OTP. Please check and try again")

	// ErrInvalidTokenFormat is returned for reset tokens that are not 64 hex chars.
	ErrInvalidTokenFormat = errors.New("invalid token format")
	// ErrResetTokenInvalid is returned for unknown, consumed or expired reset tokens.
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
	// ErrTooManyResetAttempts is returned once a user exhausted reset attempts.
	ErrTooManyResetAttempts = errors.New("too many reset attempts. Please request a new reset link")

	// ErrInvalidCredentials is returned when email or password is incorrect.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailNotVerified is returned when logging into an unverified account.
	ErrEmailNotVerified = errors.New("please verify your email before logging in")
	// ErrExternalAccount is returned when a password login targets an external-provider account.
	ErrExternalAccount = errors.New("please use Google sign-in for this account")
	// ErrUnauthorized is returned when no valid session is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the session lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrEmailDelivery is returned when a mail could not be sent.
	ErrEmailDelivery = errors.New("failed to send verification email. Please try again")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field-level details and unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

// RateLimitError is returned when a caller exceeded a rate-limit policy.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// RetryAfterSeconds rounds the hint up to whole seconds.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Details []FieldError `json:"details,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Details    []FieldError
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
}

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{ErrCouponNotFound, http.StatusNotFound, "COUPON_NOT_FOUND"},
	{ErrClaimNotFound, http.StatusNotFound, "CLAIM_NOT_FOUND"},

	{ErrUserAlreadyExists, http.StatusBadRequest, "USER_ALREADY_EXISTS"},
	{ErrCouponCodeTaken, http.StatusBadRequest, "COUPON_CODE_TAKEN"},
	{ErrCouponInUse, http.StatusConflict, "COUPON_IN_USE"},
	{ErrAlreadyClaimed, http.StatusBadRequest, "ALREADY_CLAIMED"},
	{ErrAlreadyVerified, http.StatusBadRequest, "ALREADY_VERIFIED"},
	{ErrCouponAlreadyUsed, http.StatusBadRequest, "COUPON_ALREADY_USED"},

	{ErrCouponInvalid, http.StatusBadRequest, "COUPON_INVALID"},
	{ErrCouponLimitExceeded, http.StatusBadRequest, "COUPON_LIMIT_EXCEEDED"},
	{ErrMinOrderNotMet, http.StatusBadRequest, "MIN_ORDER_NOT_MET"},

	{ErrOTPExpired, http.StatusBadRequest, "OTP_EXPIRED"},
	{ErrOTPMismatch, http.StatusBadRequest, "OTP_MISMATCH"},

	{ErrInvalidTokenFormat, http.StatusBadRequest, "INVALID_TOKEN_FORMAT"},
	{ErrResetTokenInvalid, http.StatusBadRequest, "INVALID_RESET_TOKEN"},
	{ErrTooManyResetAttempts, http.StatusTooManyRequests, "TOO_MANY_RESET_ATTEMPTS"},

	{ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{ErrEmailNotVerified, http.StatusUnauthorized, "EMAIL_NOT_VERIFIED"},
	{ErrExternalAccount, http.StatusUnauthorized, "EXTERNAL_ACCOUNT"},
	{ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},

	{ErrEmailDelivery, http.StatusInternalServerError, "EMAIL_DELIVERY_FAILED"},
}

// MapErrorToHTTP maps domain errors to HTTP errors. Unknown errors become a
// generic 500 so no internal detail reaches the caller.
func MapErrorToHTTP(err error) *HTTPError {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		httpErr := NewHTTPError(http.StatusBadRequest, ErrValidation.Error(), "VALIDATION_ERROR")
		httpErr.Details = vErr.Fields
		return httpErr
	}
	if errors.Is(err, ErrValidation) {
		return NewHTTPError(http.StatusBadRequest, ErrValidation.Error(), "VALIDATION_ERROR")
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return NewHTTPError(http.StatusTooManyRequests, rlErr.Message, "RATE_LIMITED")
	}

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return NewHTTPError(m.status, m.target.Error(), m.code)
		}
	}
	return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
}
