package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists entitlements. Every state transition is a conditional
// write keyed on the disabled_at value the caller previously read, so two
// concurrent writers can never both win.
type Repository interface {
	Find(ctx context.Context, db *gorm.DB, accountID snowflake.ID, moduleCode string) (*Entitlement, error)
	ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Entitlement, error)
	Insert(ctx context.Context, db *gorm.DB, entitlement *Entitlement) error

	// Disable sets disabled_at on a row whose disabled_at still equals prev.
	// A non-nil pendingAt additionally marks the row for line item removal.
	Disable(ctx context.Context, db *gorm.DB, id snowflake.ID, prev *time.Time, disabledAt time.Time, pendingAt *time.Time, now time.Time) (bool, error)

	// Revive clears a scheduled deactivation whose disabled_at still equals
	// prev, restoring the module without touching enabled_at.
	Revive(ctx context.Context, db *gorm.DB, id snowflake.ID, prev time.Time, now time.Time) (bool, error)

	// Reactivate resets a fully inactive row to active with a fresh
	// enabled_at and line item. It refuses rows that are not yet inactive.
	Reactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, lineItemID *string, now time.Time) (bool, error)

	// ClearPendingDeletion detaches the line item from a row still marked
	// pending with the given disabled_at.
	ClearPendingDeletion(ctx context.Context, db *gorm.DB, id snowflake.ID, disabledAt time.Time, now time.Time) (bool, error)

	// FindDueForReconciliation lists rows on the subscription whose line
	// items should have been removed by the given instant.
	FindDueForReconciliation(ctx context.Context, db *gorm.DB, subscriptionID string, cutoff time.Time) ([]Entitlement, error)
}
