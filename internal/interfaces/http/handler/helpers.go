package handler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// toDecimal converts a float64 to a decimal.Decimal
func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// parseOptionalUUID expects a value already checked by the uuid binding tag
func parseOptionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty input
// yields nil.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return &t, nil
}

// endOfDay moves a calendar date to its last second so range filters
// include the whole day.
func endOfDay(t *time.Time, raw string) *time.Time {
	if t == nil || len(raw) != len(dateLayout) {
		return t
	}
	end := t.Add(24*time.Hour - time.Second)
	return &end
}
