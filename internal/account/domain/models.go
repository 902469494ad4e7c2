// Package domain contains persistence models for accounts and their users.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Role represents a user's role within an account.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMaster Role = "master"
	RoleMember Role = "member"
)

// CanManageModules reports whether the role may change module entitlements.
func (r Role) CanManageModules() bool {
	return r == RoleOwner || r == RoleMaster
}

// Account captures the billing identity of a tenant. BillingSubscriptionID
// is nil until the account has an active subscription with the provider.
type Account struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	BillingCustomerID     string       `gorm:"type:text;not null"`
	BillingSubscriptionID *string      `gorm:"type:text;index"`
	IsPaid                bool         `gorm:"not null;default:false"`
	IsLegacyPricing       bool         `gorm:"not null;default:false"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// User belongs to exactly one account. TokenHash holds the SHA-256 of the
// user's bearer credential.
type User struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	AccountID snowflake.ID `gorm:"not null;index"`
	Email     string       `gorm:"type:text;not null"`
	Role      Role         `gorm:"type:text;not null"`
	TokenHash string       `gorm:"type:text;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

var (
	ErrAccountNotFound = errors.New("account_not_found")
	ErrUserNotFound    = errors.New("user_not_found")
)
