// Package domain holds the entitlement model and lifecycle contracts. An
// entitlement is one account's access to one optional module, together with
// the billing line item that charges for it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CoreModuleCode is part of every plan and can never be removed.
const CoreModuleCode = "feedback"

// Entitlement is the persisted state of a module grant.
//
// DisabledAt carries the full deactivation state machine: nil means active,
// a future timestamp means deactivated but paid through that moment, and a
// past timestamp means access revoked. Once DisabledAt reaches the past the
// row is immutable history.
type Entitlement struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	AccountID         snowflake.ID `gorm:"not null;uniqueIndex:idx_entitlements_account_module,priority:1"`
	ModuleCode        string       `gorm:"type:text;not null;uniqueIndex:idx_entitlements_account_module,priority:2"`
	EnabledAt         time.Time    `gorm:"not null"`
	DisabledAt        *time.Time   `gorm:"index"`
	LineItemID        *string      `gorm:"type:text"`
	PendingDeletion   bool         `gorm:"not null;default:false"`
	PendingDeletionAt *time.Time
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entitlement) TableName() string { return "entitlements" }

// ActiveAt reports whether the module grants access at the given instant.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	return e.DisabledAt == nil || e.DisabledAt.After(now)
}

// PendingDeactivationAt reports whether the module is scheduled to lose
// access at a later instant.
func (e *Entitlement) PendingDeactivationAt(now time.Time) bool {
	return e.DisabledAt != nil && e.DisabledAt.After(now)
}
