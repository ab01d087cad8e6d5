package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"techorbit/internal/model"
	"techorbit/internal/service"
)

// CouponHandler serves the customer coupon endpoints.
type CouponHandler struct {
	coupons service.CouponService
}

// NewCouponHandler creates a new coupon handler.
func NewCouponHandler(coupons service.CouponService) *CouponHandler {
	return &CouponHandler{coupons: coupons}
}

// ClaimCouponRequest names the coupon to claim.
type ClaimCouponRequest struct {
	CouponCode string `json:"couponCode" validate:"required,max=50"`
}

// RedeemCouponRequest names the claimed coupon to redeem and an optional order total.
type RedeemCouponRequest struct {
	CouponCode  string           `json:"couponCode" validate:"required,max=50"`
	OrderAmount *decimal.Decimal `json:"orderAmount,omitempty" swaggertype:"string"`
}

// CouponListResponse wraps a user coupon listing.
type CouponListResponse struct {
	Coupons []service.CouponView `json:"coupons"`
}

// ClaimCouponResponse carries the new claim.
type ClaimCouponResponse struct {
	Message    string            `json:"message"`
	UserCoupon *model.UserCoupon `json:"userCoupon"`
}

// RedeemCouponResponse carries the redeemed claim and the computed discount.
type RedeemCouponResponse struct {
	Message string `json:"message"`
	service.RedeemResult
}

// List godoc
// @Summary List coupons for the current user
// @Tags coupons
// @Produce json
// @Security BearerAuth
// @Param type query string false "available, used or expired"
// @Success 200 {object} CouponListResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Router /coupons [get]
func (h *CouponHandler) List(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	coupons, err := h.coupons.List(c.Request().Context(), userID, service.ListType(c.QueryParam("type")))
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, CouponListResponse{Coupons: coupons})
}

// Claim godoc
// @Summary Claim a coupon by code
// @Tags coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ClaimCouponRequest true "Coupon code"
// @Success 200 {object} ClaimCouponResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /coupons [post]
func (h *CouponHandler) Claim(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req ClaimCouponRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	claim, err := h.coupons.Claim(c.Request().Context(), userID, req.CouponCode)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, ClaimCouponResponse{Message: "Coupon claimed successfully", UserCoupon: claim})
}

// Redeem godoc
// @Summary Redeem a claimed coupon
// @Tags coupons
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RedeemCouponRequest true "Coupon code and optional order amount"
// @Success 200 {object} RedeemCouponResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /coupons/redeem [post]
func (h *CouponHandler) Redeem(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req RedeemCouponRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.coupons.Redeem(c.Request().Context(), userID, req.CouponCode, req.OrderAmount)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, RedeemCouponResponse{Message: "Coupon redeemed successfully", RedeemResult: *res})
}
