package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"techorbit/internal/errors"
	"techorbit/internal/model"
	"techorbit/internal/repository"
	"techorbit/internal/service"
)

// AdminCouponHandler serves coupon administration. Routes are mounted behind
// the admin role check.
type AdminCouponHandler struct {
	coupons service.CouponService
}

// NewAdminCouponHandler creates a new admin coupon handler.
func NewAdminCouponHandler(coupons service.CouponService) *AdminCouponHandler {
	return &AdminCouponHandler{coupons: coupons}
}

// CouponRequest is the admin payload for creating or replacing a coupon.
// Times are RFC 3339.
type CouponRequest struct {
	Code              string           `json:"code" validate:"required,max=64"`
	Name              string           `json:"name" validate:"required,max=255"`
	Description       *string          `json:"description,omitempty" validate:"omitempty,max=1000"`
	DiscountType      string           `json:"discountType" validate:"required,oneof=PERCENTAGE FIXED_AMOUNT"`
	DiscountValue     decimal.Decimal  `json:"discountValue" swaggertype:"string"`
	MinOrderAmount    *decimal.Decimal `json:"minOrderAmount,omitempty" swaggertype:"string"`
	MaxDiscountAmount *decimal.Decimal `json:"maxDiscountAmount,omitempty" swaggertype:"string"`
	UsageLimit        *int             `json:"usageLimit,omitempty" validate:"omitempty,min=1"`
	ValidFrom         time.Time        `json:"validFrom"`
	ValidUntil        time.Time        `json:"validUntil"`
	IsActive          *bool            `json:"isActive,omitempty"`
}

func (r CouponRequest) toInput() service.CouponInput {
	return service.CouponInput{
		Code:              r.Code,
		Name:              r.Name,
		Description:       r.Description,
		DiscountType:      model.DiscountType(r.DiscountType),
		DiscountValue:     r.DiscountValue,
		MinOrderAmount:    r.MinOrderAmount,
		MaxDiscountAmount: r.MaxDiscountAmount,
		UsageLimit:        r.UsageLimit,
		ValidFrom:         r.ValidFrom,
		ValidUntil:        r.ValidUntil,
		IsActive:          r.IsActive,
	}
}

// CouponResponse carries one coupon after a write.
type CouponResponse struct {
	Message string        `json:"message"`
	Coupon  *model.Coupon `json:"coupon"`
}

// queryInt parses an optional integer query parameter.
func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fail(errors.NewValidationError(errors.FieldError{Field: name, Message: "must be an integer"}))
	}
	return n, nil
}

// List godoc
// @Summary List coupons (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param limit query int false "Page size (max 100)" default(10)
// @Param search query string false "Matches name, code or description"
// @Param status query string false "all, active, expired or inactive"
// @Success 200 {object} service.AdminCouponPage
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /admin/coupons [get]
func (h *AdminCouponHandler) List(c echo.Context) error {
	page, err := queryInt(c, "page")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}

	res, err := h.coupons.AdminList(c.Request().Context(), service.AdminListQuery{
		Page:   page,
		Limit:  limit,
		Search: c.QueryParam("search"),
		Status: repository.CouponStatus(c.QueryParam("status")),
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Create godoc
// @Summary Create a coupon (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CouponRequest true "Coupon definition"
// @Success 201 {object} CouponResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /admin/coupons [post]
func (h *AdminCouponHandler) Create(c echo.Context) error {
	var req CouponRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	coupon, err := h.coupons.Create(c.Request().Context(), req.toInput())
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, CouponResponse{Message: "Coupon created successfully", Coupon: coupon})
}

// Get godoc
// @Summary Get a coupon with claim statistics (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Coupon ID"
// @Success 200 {object} service.AdminCouponView
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/coupons/{id} [get]
func (h *AdminCouponHandler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	view, err := h.coupons.Get(c.Request().Context(), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, view)
}

// Update godoc
// @Summary Replace a coupon definition (admin)
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Coupon ID"
// @Param request body CouponRequest true "Coupon definition"
// @Success 200 {object} CouponResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/coupons/{id} [put]
func (h *AdminCouponHandler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req CouponRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	coupon, err := h.coupons.Update(c.Request().Context(), id, req.toInput())
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, CouponResponse{Message: "Coupon updated successfully", Coupon: coupon})
}

// Delete godoc
// @Summary Delete an unclaimed coupon (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Coupon ID"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /admin/coupons/{id} [delete]
func (h *AdminCouponHandler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.coupons.Delete(c.Request().Context(), id); err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Coupon deleted successfully"})
}
