// Package quote prices transfers against a settlement network and stores
// the resulting time-boxed offers.
package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/adapters"
	"github.com/crossborder/core/internal/middleware"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/response"
	"github.com/crossborder/core/internal/store"
)

type CreateQuoteDTO struct {
	NetworkID      string   `json:"networkId"      binding:"required"`
	SourceAmount   *float64 `json:"sourceAmount"`
	DestAmount     *float64 `json:"destAmount"`
	SourceCurrency string   `json:"sourceCurrency" binding:"required"`
	DestCurrency   string   `json:"destCurrency"   binding:"required"`
}

type Service struct {
	quotes   store.QuoteStore
	registry *adapters.Registry
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(quotes store.QuoteStore, registry *adapters.Registry, logger *zap.Logger) *Service {
	return &Service{
		quotes:   quotes,
		registry: registry,
		logger:   logger.Named("quote"),
		now:      time.Now,
	}
}

// Create validates the request against the network's capabilities, asks
// the network for pricing and stores the offer.
func (s *Service) Create(ctx context.Context, dto CreateQuoteDTO) (*models.QuoteModel, error) {
	adapter, err := s.registry.Get(dto.NetworkID)
	if err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("Unknown network: %s", dto.NetworkID))
	}
	cfg := adapter.Config()

	if !cfg.Supports(dto.SourceCurrency, dto.DestCurrency) {
		return nil, apperrors.BadRequest(fmt.Sprintf(
			"Currency pair %s-%s not supported for network %s",
			dto.SourceCurrency, dto.DestCurrency, dto.NetworkID))
	}

	if dto.SourceAmount == nil && dto.DestAmount == nil {
		return nil, apperrors.BadRequest("Either sourceAmount or destAmount is required")
	}

	amount := 0.0
	mode := adapters.ModeSource
	if dto.SourceAmount != nil {
		amount = *dto.SourceAmount
	} else {
		amount = *dto.DestAmount
		mode = adapters.ModeDestination
	}

	if amount < cfg.Limits.Min || amount > cfg.Limits.Max {
		return nil, apperrors.BadRequest(fmt.Sprintf(
			"Amount must be between %g and %g", cfg.Limits.Min, cfg.Limits.Max))
	}

	networkQuote, err := adapter.GetQuote(ctx, adapters.QuoteRequest{
		NetworkID:      dto.NetworkID,
		SourceAmount:   amount,
		SourceCurrency: dto.SourceCurrency,
		DestCurrency:   dto.DestCurrency,
		Mode:           mode,
	})
	if err != nil {
		return nil, apperrors.New(apperrors.CodeNetworkError, "failed to obtain network quote").WithCause(err)
	}

	q := &models.QuoteModel{
		NetworkID:       networkQuote.NetworkID,
		SourceAmount:    networkQuote.SourceAmount,
		SourceCurrency:  networkQuote.SourceCurrency,
		DestAmount:      networkQuote.DestAmount,
		DestCurrency:    networkQuote.DestCurrency,
		FxRate:          networkQuote.FxRate,
		Fee:             networkQuote.Fee,
		ExpiresAt:       networkQuote.ExpiresAt,
		NetworkMetadata: networkQuote.NetworkMetadata,
	}
	if err := s.quotes.Create(ctx, q); err != nil {
		return nil, err
	}

	s.logger.Info("quote created",
		zap.String("quoteId", q.ID),
		zap.String("networkId", q.NetworkID),
		zap.Float64("sourceAmount", q.SourceAmount))
	return q, nil
}

// Get returns a quote, expired or not.
func (s *Service) Get(ctx context.Context, id string) (*models.QuoteModel, error) {
	q, err := s.quotes.Get(ctx, id)
	if err == store.ErrNotFound {
		return nil, apperrors.NotFound(fmt.Sprintf("Quote not found: %s", id))
	}
	return q, err
}

// Validate returns the quote only if it is still consumable.
func (s *Service) Validate(ctx context.Context, id string) (*models.QuoteModel, error) {
	q, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Expired(s.now()) {
		return nil, apperrors.New(apperrors.CodeQuoteExpired, "Quote has expired")
	}
	return q, nil
}

// Cleanup removes expired quotes. Wired as a cron job.
func (s *Service) Cleanup(ctx context.Context) error {
	removed, err := s.quotes.DeleteExpired(ctx, s.now())
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.Info("expired quotes removed", zap.Int("count", removed))
	}
	return nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/quotes", authMW)

	g.POST("", middleware.RequireScope("quotes:write"), h.create)
	g.GET("/:id", middleware.RequireScope("quotes:read"), h.get)
}

// POST /quotes
func (h *Handler) create(c *gin.Context) {
	var dto CreateQuoteDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Error(c, apperrors.Validation(err.Error()))
		return
	}
	q, err := h.svc.Create(c.Request.Context(), dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// GET /quotes/:id
func (h *Handler) get(c *gin.Context) {
	q, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}
