package ledger

import "github.com/vetclinic/backend/internal/domain/shared"

var (
	// ErrDuplicateCode signals a unique-index violation on the transaction
	// code. It drives code regeneration and never reaches API callers.
	ErrDuplicateCode = shared.NewDomainError("DUPLICATE_CODE", "Transaction code already exists")

	// ErrCodeSpaceExhausted is returned when even the fallback code collided.
	ErrCodeSpaceExhausted = shared.NewDomainError("CODE_SPACE_EXHAUSTED", "Could not allocate a unique transaction code")

	ErrInvalidAmount       = shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	ErrPartyRequired       = shared.NewDomainError("INVALID_INPUT", "Party id is required")
	ErrPartyNotFound       = shared.NewDomainError("RELATED_NOT_FOUND", "Party not found")
	ErrPartyInactive       = shared.NewDomainError("RELATED_NOT_FOUND", "Party is not active")
	ErrTransactionNotFound = shared.NewDomainError("NOT_FOUND", "Transaction not found")
	ErrAlreadyCancelled    = shared.NewDomainError("INVALID_STATE", "Transaction is already cancelled")
	ErrBalanceConflict     = shared.NewDomainError("CONCURRENCY_CONFLICT", "Party balance was modified concurrently")
	ErrSettlementConflict  = shared.NewDomainError("CONCURRENCY_CONFLICT", "Transaction was modified concurrently")
)
