// Package handler holds the echo HTTP handlers of the portal API.
package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"techorbit/internal/auth"
	"techorbit/internal/errors"
)

// ClaimsContextKey is where the JWT middleware stores *auth.Claims.
const ClaimsContextKey = "user"

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// fail converts err into an HTTP error carrying the standard error body. err is
// kept as the internal error so the request logger records it.
func fail(err error) error {
	httpErr := errors.MapErrorToHTTP(err)
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse()).SetInternal(err)
}

func invalidBody(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
		Error: "invalid request body",
		Code:  "VALIDATION_ERROR",
	}).SetInternal(err)
}

// bindAndValidate decodes the body into req and runs struct validation.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return invalidBody(err)
	}
	if err := c.Validate(req); err != nil {
		return fail(err)
	}
	return nil
}

// currentClaims returns the claims of the authenticated caller.
func currentClaims(c echo.Context) (*auth.Claims, error) {
	claims, ok := c.Get(ClaimsContextKey).(*auth.Claims)
	if !ok || claims == nil {
		return nil, fail(errors.ErrUnauthorized)
	}
	return claims, nil
}

// currentUserID returns the id of the authenticated caller.
func currentUserID(c echo.Context) (uuid.UUID, error) {
	claims, err := currentClaims(c)
	if err != nil {
		return uuid.Nil, err
	}
	id, perr := claims.UserUUID()
	if perr != nil {
		return uuid.Nil, fail(errors.ErrUnauthorized)
	}
	return id, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, fail(errors.NewValidationError(errors.FieldError{Field: "id", Message: "must be a valid UUID"}))
	}
	return id, nil
}
