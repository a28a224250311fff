// Package response holds the HTTP response helpers shared by all handlers.
// Success payloads are returned as-is; failures always use the error
// envelope {"error": {code, message, details, correlationId}}.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crossborder/core/internal/middleware/correlation"
	"github.com/crossborder/core/internal/pkg/apperrors"
)

// Pagination metadata returned with paginated responses.
type Pagination struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"currentPage"`
	TotalPage   int   `json:"totalPage"`
	Size        int   `json:"size"`
	HasNextPage bool  `json:"hasNextPage"`
}

type pagedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type errorEnvelope struct {
	Error *apperrors.Error `json:"error"`
}

// OK sends a 200 response.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// List sends a 200 response with a {data: [...]} wrapper.
func List(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// Paged sends a paginated list response.
func Paged(c *gin.Context, data any, pagination Pagination) {
	c.JSON(http.StatusOK, pagedResponse{Data: data, Pagination: pagination})
}

// Created sends a 201 response.
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// Accepted sends a 202 response.
func Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error renders err through the application error taxonomy and aborts the
// request. Unknown errors become INTERNAL_ERROR without leaking details.
func Error(c *gin.Context, err error) {
	appErr := apperrors.From(err)
	if appErr.CorrelationID == "" {
		appErr = appErr.WithCorrelation(correlation.FromContext(c))
	}
	c.AbortWithStatusJSON(apperrors.StatusCode(appErr.Code), errorEnvelope{Error: appErr})
}

// ErrorCode is a shorthand for responding with a fresh coded error.
func ErrorCode(c *gin.Context, code apperrors.Code, message string) {
	Error(c, apperrors.New(code, message))
}
