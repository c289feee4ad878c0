package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"settlement-engine/internal/service"
	"settlement-engine/internal/util"
)

// CallerHeader carries the authenticated caller address set by the gateway
const CallerHeader = "X-Caller-Address"

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	settlement *service.SettlementService
	checks     map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(settlement *service.SettlementService, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		settlement: settlement,
		checks:     checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/fulfill", h.fulfillOrder)
		v1.POST("/orders/cancel", h.cancelOrder)
		v1.POST("/orders/digest", h.orderDigest)
		v1.GET("/sales/:saleId", h.getSale)
		v1.GET("/sales/:saleId/settlement", h.getSettlement)
		v1.GET("/config", h.getConfig)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency is unreachable
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// fulfillOrder settles a signed order for the calling buyer
func (h *Handler) fulfillOrder(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	var req fulfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return
	}

	res, err := h.settlement.Fulfill(c.Request.Context(), req.toService(caller))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newFulfillResponse(res))
}

// cancelOrder closes a sale before fulfillment
func (h *Handler) cancelOrder(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return
	}

	order := req.Order.ToModel()
	err := h.settlement.Cancel(c.Request.Context(), &service.CancelRequest{
		Order:     order,
		Signature: req.Signature,
		Caller:    caller,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sale_id": order.SaleID.Hex(),
		"state":   "cancelled",
	})
}

// orderDigest returns the digest an offerer must sign
func (h *Handler) orderDigest(c *gin.Context) {
	var req OrderDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"details": err.Error(),
		})
		return
	}

	digest, err := h.settlement.OrderDigest(req.ToModel())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"digest": digest.Hex()})
}

// getSale returns the ledger state of a sale id
func (h *Handler) getSale(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	state, err := h.settlement.SaleState(c.Request.Context(), saleID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sale_id": saleID.Hex(),
		"state":   state,
	})
}

// getSettlement returns the audit record of a settled sale
func (h *Handler) getSettlement(c *gin.Context) {
	saleID, ok := saleIDParam(c)
	if !ok {
		return
	}

	st, err := h.settlement.Settlement(c.Request.Context(), saleID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

// getConfig returns the marketplace configuration
func (h *Handler) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.settlement.Config())
}

func callerAddress(c *gin.Context) (common.Address, bool) {
	raw := c.GetHeader(CallerHeader)
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing_caller",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func saleIDParam(c *gin.Context) (common.Address, bool) {
	raw := c.Param("saleId")
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid sale ID",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func writeError(c *gin.Context, err error) {
	reason := service.Reason(err)
	c.JSON(statusFor(err), gin.H{
		"error":   reason,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrInvalidAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotAuthorized), errors.Is(err, service.ErrNotAuthorizedTransfer):
		return http.StatusForbidden
	case errors.Is(err, service.ErrDuplicateSaleID):
		return http.StatusConflict
	case errors.Is(err, service.ErrMissingPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrSettlementNotFound):
		return http.StatusNotFound
	}
	switch service.Reason(err) {
	case "unsupported", "authorization_expired", "order_expired", "creator_fee_exceeded",
		"insufficient_balance", "unsupported_item", "invalid_amount":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
