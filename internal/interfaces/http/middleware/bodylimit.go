package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vetclinic/backend/internal/interfaces/http/dto"
)

// BodyLimit rejects requests whose declared body is larger than maxBytes
// and caps the reader for chunked bodies.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeBodyTooLarge,
				"Request body exceeds maximum allowed size",
				c.GetString(RequestIDKey),
			))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
