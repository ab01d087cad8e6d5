package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"techorbit/internal/service"
)

// UserHandler serves the signed-in user's own data.
type UserHandler struct {
	svc service.UserService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// Me godoc
// @Summary Current user dashboard
// @Description Profile of the caller plus claimed, redeemed and available coupon counts.
// @Tags users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Dashboard
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /me [get]
func (h *UserHandler) Me(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	dashboard, err := h.svc.Dashboard(c.Request().Context(), userID)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, dashboard)
}
