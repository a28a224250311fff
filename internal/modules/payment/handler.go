package payment

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crossborder/core/internal/middleware"
	"github.com/crossborder/core/internal/middleware/correlation"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/response"
	"github.com/crossborder/core/internal/store"
)

type CancelPaymentDTO struct {
	Reason string `json:"reason"`
}

type Handler struct {
	orc *Orchestrator
}

func NewHandler(orc *Orchestrator) *Handler { return &Handler{orc: orc} }

// RegisterRoutes wires the payment endpoints. idemMW applies the
// Idempotency-Key contract to payment creation only.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW, idemMW gin.HandlerFunc) {
	g := rg.Group("/payments", authMW)
	read := middleware.RequireScope("payments:read")
	write := middleware.RequireScope("payments:write")

	g.POST("", write, idemMW, h.create)
	g.GET("", read, h.list)
	g.GET("/:id", read, h.get)
	g.GET("/:id/events", read, h.events)
	g.POST("/:id/confirm", write, h.confirm)
	g.POST("/:id/cancel", write, h.cancel)
}

// POST /payments
func (h *Handler) create(c *gin.Context) {
	var dto CreatePaymentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Error(c, apperrors.Validation(err.Error()))
		return
	}
	p, err := h.orc.CreatePayment(c.Request.Context(), dto, correlation.FromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, p)
}

// GET /payments
func (h *Handler) list(c *gin.Context) {
	filter := store.PaymentFilter{
		Status:    models.PaymentStatus(c.Query("status")),
		NetworkID: c.Query("networkId"),
		SenderID:  c.Query("senderId"),
		Limit:     20,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			response.Error(c, apperrors.Validation("limit must be an integer between 1 and 100"))
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.Error(c, apperrors.Validation("offset must be a non-negative integer"))
			return
		}
		filter.Offset = n
	}

	items, total, err := h.orc.ListPayments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	page := 1
	if filter.Limit > 0 {
		page = filter.Offset/filter.Limit + 1
	}
	totalPage := 0
	if filter.Limit > 0 {
		totalPage = int((total + int64(filter.Limit) - 1) / int64(filter.Limit))
	}
	response.Paged(c, items, response.Pagination{
		Total:       total,
		CurrentPage: page,
		TotalPage:   totalPage,
		Size:        filter.Limit,
		HasNextPage: int64(filter.Offset+filter.Limit) < total,
	})
}

// GET /payments/:id
func (h *Handler) get(c *gin.Context) {
	p, err := h.orc.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// GET /payments/:id/events
func (h *Handler) events(c *gin.Context) {
	events, err := h.orc.GetPaymentEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, events)
}

// POST /payments/:id/confirm
func (h *Handler) confirm(c *gin.Context) {
	p, err := h.orc.ConfirmPayment(c.Request.Context(), c.Param("id"), correlation.FromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// POST /payments/:id/cancel
func (h *Handler) cancel(c *gin.Context) {
	var dto CancelPaymentDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.Error(c, apperrors.Validation(err.Error()))
			return
		}
	}
	p, err := h.orc.CancelPayment(c.Request.Context(), c.Param("id"), dto.Reason, correlation.FromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}
