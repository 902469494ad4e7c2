// Package seed bootstraps a development account so local runs are usable
// out of the box.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	authservice "github.com/smallbiznis/featuregate/internal/auth/service"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
)

const (
	devOwnerEmail = "owner@featuregate.dev"
	devOwnerToken = "dev-token"
)

// EnsureDevAccount creates an unpaid account with an owner user and the
// core module enabled. Running it again is a no-op.
func EnsureDevAccount(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tokenHash := authservice.HashToken(devOwnerToken)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing accountdomain.User
		err := tx.Raw(`SELECT * FROM users WHERE token_hash = ?`, tokenHash).Scan(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != 0 {
			return nil
		}

		now := time.Now().UTC()

		account := accountdomain.Account{
			ID:                node.Generate(),
			BillingCustomerID: "cus_dev",
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.Create(&account).Error; err != nil {
			return err
		}

		user := accountdomain.User{
			ID:        node.Generate(),
			AccountID: account.ID,
			Email:     devOwnerEmail,
			Role:      accountdomain.RoleOwner,
			TokenHash: tokenHash,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		entitlement := entitlementdomain.Entitlement{
			ID:         node.Generate(),
			AccountID:  account.ID,
			ModuleCode: entitlementdomain.CoreModuleCode,
			EnabledAt:  now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.Create(&entitlement).Error
	})
}
