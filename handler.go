package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/arunvm123/dianping/breaker"
	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/seckill"
	"github.com/arunvm123/dianping/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

type Handler struct {
	shops  service.ShopService
	orders service.VoucherOrderService
	checks map[string]HealthCheck
}

func NewHandler(shops service.ShopService, orders service.VoucherOrderService, checks map[string]HealthCheck) *Handler {
	return &Handler{
		shops:  shops,
		orders: orders,
		checks: checks,
	}
}

// GetShop returns a shop through the cache
func (h *Handler) GetShop(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	shop, err := h.shops.QueryByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrShopNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Error:   "not_found",
				Message: "Shop not found",
			})
			return
		}
		h.internalError(c, err, "Failed to retrieve shop")
		return
	}

	c.JSON(http.StatusOK, shop)
}

// UpdateShop writes the shop and drops its cache entry
func (h *Handler) UpdateShop(c *gin.Context) {
	var req model.UpdateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_failed",
			Message: err.Error(),
		})
		return
	}

	if err := h.shops.Update(c.Request.Context(), req.ToShop()); err != nil {
		if errors.Is(err, service.ErrShopNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Error:   "not_found",
				Message: "Shop not found",
			})
			return
		}
		h.internalError(c, err, "Failed to update shop")
		return
	}

	c.Status(http.StatusNoContent)
}

// PreheatShops loads shops into the cache with a logical expiry
func (h *Handler) PreheatShops(c *gin.Context) {
	var req model.PreheatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_failed",
			Message: err.Error(),
		})
		return
	}

	n, err := h.shops.Preheat(c.Request.Context(), req.IDs)
	if err != nil {
		h.internalError(c, err, "Failed to preheat shops")
		return
	}

	c.JSON(http.StatusOK, model.PreheatResponse{Cached: n})
}

// AddSeckillVoucher creates a flash-sale voucher and opens its sale
func (h *Handler) AddSeckillVoucher(c *gin.Context) {
	var req model.CreateSeckillVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_failed",
			Message: err.Error(),
		})
		return
	}
	if !req.EndTime.After(req.BeginTime) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_failed",
			Message: "endTime must be after beginTime",
		})
		return
	}

	voucher := req.ToSeckillVoucher()
	if err := h.orders.AddSeckillVoucher(c.Request.Context(), voucher); err != nil {
		h.internalError(c, err, "Failed to create voucher")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"voucherId": voucher.VoucherID})
}

// SeckillVoucher admits one flash-sale order for the authenticated user
func (h *Handler) SeckillVoucher(c *gin.Context) {
	voucherID, ok := pathID(c, "id")
	if !ok {
		return
	}

	userID, ok := c.Get("user_id")
	if !ok {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{
			Error:   "unauthorized",
			Message: "User ID not found in token",
		})
		return
	}

	orderID, err := h.orders.Seckill(c.Request.Context(), voucherID, userID.(int64))
	if err != nil {
		status, code := seckillErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.internalError(c, err, "Failed to place order")
			return
		}
		c.JSON(status, model.ErrorResponse{
			Error:   code,
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, model.SeckillResponse{
		OrderID: orderID,
		Status:  "PROCESSING",
		Message: "Order accepted and is being processed",
	})
}

func seckillErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, seckill.ErrStockExhausted):
		return http.StatusConflict, "stock_exhausted"
	case errors.Is(err, seckill.ErrDuplicateOrder):
		return http.StatusConflict, "duplicate_order"
	case errors.Is(err, seckill.ErrNotStarted):
		return http.StatusForbidden, "sale_not_started"
	case errors.Is(err, seckill.ErrEnded):
		return http.StatusForbidden, "sale_ended"
	case errors.Is(err, seckill.ErrVoucherNotFound):
		return http.StatusNotFound, "not_found"
	}
	return http.StatusInternalServerError, "internal_error"
}

// HealthCheck handles health check endpoint
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	response := model.HealthResponse{
		Status:    "healthy",
		Service:   "dianping",
		Timestamp: time.Now(),
		Checks:    results,
	}
	if status != http.StatusOK {
		response.Status = "unhealthy"
	}
	c.JSON(status, response)
}

// internalError hides the cause from the client. An open breaker is reported as 503.
func (h *Handler) internalError(c *gin.Context, err error, message string) {
	if errors.Is(err, breaker.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:   "service_unavailable",
			Message: "Cache is temporarily unavailable",
		})
		return
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg(message)
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Error:   "internal_error",
		Message: message,
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid " + name + " format",
		})
		return 0, false
	}
	return id, true
}
