// Package auth exchanges API key credentials for short-lived bearer
// tokens scoped to what the client is allowed to do.
package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/crossborder/core/internal/middleware"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/jwt"
	"github.com/crossborder/core/internal/pkg/response"
)

const defaultTokenTTL = time.Hour

type TokenRequestDTO struct {
	APIKey    string `json:"apiKey"    binding:"required"`
	APISecret string `json:"apiSecret" binding:"required"`
}

type TokenResponse struct {
	AccessToken string   `json:"accessToken"`
	TokenType   string   `json:"tokenType"`
	ExpiresIn   int64    `json:"expiresIn"`
	Scopes      []string `json:"scopes"`
}

type Service struct {
	byKey  map[string]middleware.APIClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(clients []middleware.APIClient, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	byKey := make(map[string]middleware.APIClient, len(clients))
	for _, cl := range clients {
		byKey[cl.Key] = cl
	}
	return &Service{byKey: byKey, ttl: ttl, logger: logger.Named("auth")}
}

// Exchange verifies an API key and secret and mints a scoped token. The
// error is identical for unknown keys and wrong secrets.
func (s *Service) Exchange(_ context.Context, dto TokenRequestDTO) (*TokenResponse, error) {
	client, ok := s.byKey[dto.APIKey]
	if !ok {
		return nil, apperrors.Unauthorized("Invalid API credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(dto.APISecret)); err != nil {
		return nil, apperrors.Unauthorized("Invalid API credentials")
	}

	token, err := jwt.Sign(client.ID, client.Scopes, s.ttl)
	if err != nil {
		return nil, apperrors.Internal("failed to sign token").WithCause(err)
	}

	s.logger.Info("token issued", zap.String("clientId", client.ID))
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		Scopes:      client.Scopes,
	}, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// Token exchange is the one unauthenticated route besides healthz.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.token)
}

// POST /auth/token
func (h *Handler) token(c *gin.Context) {
	var dto TokenRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.Error(c, apperrors.Validation(err.Error()))
		return
	}
	tok, err := h.svc.Exchange(c.Request.Context(), dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tok)
}
