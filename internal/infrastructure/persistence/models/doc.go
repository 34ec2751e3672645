// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
// - base.go: base persistence models (BaseModel, AggregateModel)
// - ledger.go: parties, transactions, line items, balance entries, allocation records
// - collaborator.go: local products, stock movements and reminders
// - audit.go: audit log rows
// - outbox.go: outbox entries for side effects delivered after commit
package models
