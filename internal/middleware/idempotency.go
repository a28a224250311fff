package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/idempotency"
	"github.com/crossborder/core/internal/pkg/response"
)

// HeaderIdempotencyKey opts a request into idempotent replay.
const HeaderIdempotencyKey = "Idempotency-Key"

type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays stored responses for repeated Idempotency-Key
// requests. A key bound to a different request fingerprint is a 409; a
// fresh key records the response after the handler runs. Both success
// and terminal client-error outcomes are recorded, so a rejected create
// replays its rejection instead of re-running the side effects; 5xx and
// 429 responses are not recorded and the retry re-executes. Requests
// without the header pass through untouched.
func Idempotency(index idempotency.Index, log *zap.Logger) gin.HandlerFunc {
	log = log.Named("idempotency")
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperrors.BadRequest("Unreadable request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		fp := idempotency.Fingerprint(c.Request.Method, c.Request.URL.Path, body)

		res, err := index.Lookup(c.Request.Context(), key, fp)
		if err != nil {
			// Fail open; losing replay beats rejecting the request.
			log.Error("lookup failed", zap.Error(err))
			c.Next()
			return
		}
		switch res.Outcome {
		case idempotency.Hit:
			c.Data(res.Entry.ResponseStatus, "application/json", res.Entry.ResponseBody)
			c.Abort()
			return
		case idempotency.Conflict:
			response.Error(c, apperrors.New(apperrors.CodeIdempotencyConflict,
				"Idempotency-Key already used with a different request"))
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status < 200 || status >= 500 || status == http.StatusTooManyRequests {
			return
		}
		entry := &models.IdempotencyEntryModel{
			Key:            key,
			Fingerprint:    fp,
			ResponseStatus: status,
			ResponseBody:   bytes.Clone(w.buf.Bytes()),
		}
		if err := index.Store(c.Request.Context(), entry); err != nil {
			log.Error("store failed", zap.String("key", key), zap.Error(err))
		}
	}
}
