// Package webhook manages webhook subscriptions and delivers payment
// events to subscriber endpoints with signed payloads and retries.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/events"
	"github.com/crossborder/core/internal/middleware"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/response"
	"github.com/crossborder/core/internal/store"
)

type CreateSubscriptionDTO struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

type UpdateSubscriptionDTO struct {
	URL    *string   `json:"url" binding:"omitempty,url"`
	Events *[]string `json:"events"`
	Active *bool     `json:"active"`
}

// CreatedSubscription carries the signing secret exactly once, in the
// creation response. It is never returned again.
type CreatedSubscription struct {
	*models.WebhookSubscriptionModel
	Secret string `json:"secret"`
}

type Service struct {
	subs       store.SubscriptionStore
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewService(subs store.SubscriptionStore, dispatcher *Dispatcher, logger *zap.Logger) *Service {
	return &Service{subs: subs, dispatcher: dispatcher, logger: logger.Named("webhook")}
}

// Create registers a subscription. When no secret is supplied a random one
// is generated; either way the secret is only disclosed in this response.
func (s *Service) Create(ctx context.Context, clientID string, dto CreateSubscriptionDTO) (*CreatedSubscription, error) {
	for _, e := range dto.Events {
		if !knownEventName(e) {
			return nil, apperrors.Validation(fmt.Sprintf("Unknown event type: %s", e))
		}
	}

	secret := dto.Secret
	if secret == "" {
		var err error
		if secret, err = generateSecret(); err != nil {
			return nil, apperrors.Internal("failed to generate webhook secret").WithCause(err)
		}
	}

	sub := &models.WebhookSubscriptionModel{
		ClientID: clientID,
		URL:      dto.URL,
		Secret:   secret,
		Events:   dto.Events,
		Active:   true,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("webhook subscription created",
		zap.String("subscriptionId", sub.ID),
		zap.String("url", sub.URL))
	return &CreatedSubscription{WebhookSubscriptionModel: sub, Secret: secret}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.WebhookSubscriptionModel, error) {
	sub, err := s.subs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("Webhook subscription not found: %s", id))
	}
	return sub, err
}

// List returns the subscriptions registered by one client. Callers never
// see subscriptions belonging to other clients.
func (s *Service) List(ctx context.Context, clientID string) ([]*models.WebhookSubscriptionModel, error) {
	return s.subs.GetByClientID(ctx, clientID)
}

func (s *Service) Update(ctx context.Context, id string, dto UpdateSubscriptionDTO) (*models.WebhookSubscriptionModel, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto.URL != nil {
		sub.URL = *dto.URL
	}
	if dto.Events != nil {
		for _, e := range *dto.Events {
			if !knownEventName(e) {
				return nil, apperrors.Validation(fmt.Sprintf("Unknown event type: %s", e))
			}
		}
		sub.Events = *dto.Events
	}
	if dto.Active != nil {
		sub.Active = *dto.Active
		if !sub.Active {
			s.dispatcher.CancelPending(id)
		}
	}
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete removes the subscription and cancels any in-flight retries for it.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.subs.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound(fmt.Sprintf("Webhook subscription not found: %s", id))
	}
	if err != nil {
		return err
	}
	s.dispatcher.CancelPending(id)
	s.logger.Info("webhook subscription deleted", zap.String("subscriptionId", id))
	return nil
}

// defaultDeliveryLimit bounds delivery listings when no limit is given.
const defaultDeliveryLimit = 20

// ListDeliveries returns the most recent delivery attempts, newest first.
func (s *Service) ListDeliveries(ctx context.Context, id string, limit int) ([]*models.DeliveryAttemptModel, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDeliveryLimit
	}
	return s.subs.ListAttempts(ctx, id, limit)
}

// SendTest fires a single test delivery at the subscription endpoint and
// returns the attempt outcome. Test deliveries are never retried.
func (s *Service) SendTest(ctx context.Context, id string) (*models.DeliveryAttemptModel, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.SendTest(ctx, sub)
}

func knownEventName(name string) bool {
	return name == "*" || events.KnownWebhookName(name)
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/webhooks", authMW, middleware.RequireScope("webhooks:manage"))

	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.update)
	g.DELETE("/:id", h.remove)
	g.GET("/:id/deliveries", h.deliveries)
	g.POST("/:id/test", h.test)
}

// POST /webhooks
func (h *Handler) create(c *gin.Context) {
	var dto CreateSubscriptionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Error(c, apperrors.Validation(err.Error()))
		return
	}
	sub, err := h.svc.Create(c.Request.Context(), middleware.ClientID(c), dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sub)
}

// GET /webhooks
func (h *Handler) list(c *gin.Context) {
	subs, err := h.svc.List(c.Request.Context(), middleware.ClientID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, subs)
}

// GET /webhooks/:id
func (h *Handler) get(c *gin.Context) {
	sub, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sub)
}

// PATCH /webhooks/:id
func (h *Handler) update(c *gin.Context) {
	var dto UpdateSubscriptionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Error(c, apperrors.Validation(err.Error()))
		return
	}
	sub, err := h.svc.Update(c.Request.Context(), c.Param("id"), dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sub)
}

// DELETE /webhooks/:id
func (h *Handler) remove(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GET /webhooks/:id/deliveries
func (h *Handler) deliveries(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			response.Error(c, apperrors.Validation("limit must be an integer between 1 and 100"))
			return
		}
		limit = n
	}
	attempts, err := h.svc.ListDeliveries(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.List(c, attempts)
}

// POST /webhooks/:id/test
func (h *Handler) test(c *gin.Context) {
	attempt, err := h.svc.SendTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, attempt)
}
