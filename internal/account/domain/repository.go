package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository provides read access to accounts and users.
type Repository interface {
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindAccountBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Account, error)
	FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindUserByTokenHash(ctx context.Context, db *gorm.DB, tokenHash string) (*User, error)
}
