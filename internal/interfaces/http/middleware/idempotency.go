package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/logger"
	"github.com/vetclinic/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader is the HTTP header for idempotency keys
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyReplayedHeader marks a response served from the store
	IdempotencyReplayedHeader = "X-Idempotency-Replayed"

	maxIdempotencyKeyLength = 128
)

// IdempotencyConfig holds configuration for the idempotency middleware
type IdempotencyConfig struct {
	Store shared.IdempotencyStore
	TTL   time.Duration
}

// captureWriter tees the response body so it can be stored
type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a POST that carried the same
// Idempotency-Key. Keys are scoped to the caller and the route. A second
// request arriving while the first still runs gets 409. Server errors
// release the key so the client can retry.
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost || cfg.Store == nil {
			c.Next()
			return
		}
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		requestID := c.GetString(RequestIDKey)
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeInvalidInput, "Idempotency-Key is too long", requestID))
			return
		}

		ctx := c.Request.Context()
		log := logger.L(ctx)
		scoped := scopedIdempotencyKey(c, key)

		reserved, err := cfg.Store.Reserve(ctx, scoped, cfg.TTL)
		if err != nil {
			// Fail open: the store is an optimisation over client retries
			log.Warn("Idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !reserved {
			replay(c, cfg.Store, scoped, requestID)
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			if err := cfg.Store.Release(ctx, scoped); err != nil {
				log.Warn("Failed to release idempotency key", zap.Error(err))
			}
			return
		}
		stored := shared.StoredResponse{
			StatusCode:  status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		}
		if err := cfg.Store.Complete(ctx, scoped, stored, cfg.TTL); err != nil {
			log.Warn("Failed to store idempotent response", zap.Error(err))
		}
	}
}

func replay(c *gin.Context, store shared.IdempotencyStore, key, requestID string) {
	resp, err := store.Lookup(c.Request.Context(), key)
	switch {
	case errors.Is(err, shared.ErrIdempotencyKeyInFlight):
		c.AbortWithStatusJSON(http.StatusConflict, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeIdempotencyInFlight,
			"A request with this Idempotency-Key is still being processed",
			requestID,
		))
	case err != nil:
		logger.L(c.Request.Context()).Warn("Idempotency lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeInternal, "Failed to check idempotency key", requestID))
	case resp == nil:
		// expired between Reserve and Lookup
		c.AbortWithStatusJSON(http.StatusConflict, dto.NewErrorResponseWithRequestID(
			dto.ErrCodeIdempotencyInFlight, "Idempotency-Key expired, retry the request", requestID))
	default:
		c.Header(IdempotencyReplayedHeader, "true")
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/json; charset=utf-8"
		}
		c.Data(resp.StatusCode, contentType, resp.Body)
		c.Abort()
	}
}

func scopedIdempotencyKey(c *gin.Context, key string) string {
	caller := GetJWTUserID(c)
	if caller == "" {
		caller = "anonymous"
	}
	// the concrete path, so one key reused on /transactions/:id/cancel for
	// two ids does not replay the first response
	return caller + ":" + c.Request.Method + " " + c.Request.URL.Path + ":" + key
}
