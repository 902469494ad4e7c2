package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/featuregate/internal/account/domain"
)

type repository struct{}

// New constructs the account repository.
func New() domain.Repository {
	return &repository{}
}

func (r *repository) FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM accounts WHERE id = ?`, id).
		Scan(&account).Error
	if err != nil {
		return nil, err
	}

	if account.ID == 0 {
		return nil, nil
	}

	return &account, nil
}

func (r *repository) FindAccountBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM accounts WHERE billing_subscription_id = ?`, subscriptionID).
		Scan(&account).Error
	if err != nil {
		return nil, err
	}

	if account.ID == 0 {
		return nil, nil
	}

	return &account, nil
}

func (r *repository) FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM users WHERE id = ?`, id).
		Scan(&user).Error
	if err != nil {
		return nil, err
	}

	if user.ID == 0 {
		return nil, nil
	}

	return &user, nil
}

func (r *repository) FindUserByTokenHash(ctx context.Context, db *gorm.DB, tokenHash string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM users WHERE token_hash = ?`, tokenHash).
		Scan(&user).Error
	if err != nil {
		return nil, err
	}

	if user.ID == 0 {
		return nil, nil
	}

	return &user, nil
}
