package shared

import (
	"context"
	"errors"
	"time"
)

// ErrIdempotencyKeyInFlight is returned when a request with the same key is
// still being processed.
var ErrIdempotencyKeyInFlight = errors.New("idempotency key is in flight")

// StoredResponse is the replayable result of a request made with an
// Idempotency-Key header.
type StoredResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore keeps responses of idempotent requests
type IdempotencyStore interface {
	// Reserve claims key for ttl. It returns false when the key was already
	// reserved or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Complete stores the response for a reserved key
	Complete(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error

	// Release drops a reservation so the request can be retried
	Release(ctx context.Context, key string) error

	// Lookup returns the stored response, ErrIdempotencyKeyInFlight while the
	// original request is running, or nil when the key is unknown.
	Lookup(ctx context.Context, key string) (*StoredResponse, error)

	Close() error
}
