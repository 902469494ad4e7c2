package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
)

type repository struct{}

// New constructs the entitlement repository.
func New() domain.Repository {
	return &repository{}
}

func (r *repository) Find(ctx context.Context, db *gorm.DB, accountID snowflake.ID, moduleCode string) (*domain.Entitlement, error) {
	var entitlement domain.Entitlement
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM entitlements WHERE account_id = ? AND module_code = ?`, accountID, moduleCode).
		Scan(&entitlement).Error
	if err != nil {
		return nil, err
	}

	if entitlement.ID == 0 {
		return nil, nil
	}

	return &entitlement, nil
}

func (r *repository) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.Entitlement, error) {
	var entitlements []domain.Entitlement
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM entitlements WHERE account_id = ? ORDER BY module_code`, accountID).
		Scan(&entitlements).Error
	if err != nil {
		return nil, err
	}

	return entitlements, nil
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, entitlement *domain.Entitlement) error {
	return db.WithContext(ctx).Create(entitlement).Error
}

func (r *repository) Disable(ctx context.Context, db *gorm.DB, id snowflake.ID, prev *time.Time, disabledAt time.Time, pendingAt *time.Time, now time.Time) (bool, error) {
	pending := pendingAt != nil

	var tx *gorm.DB
	if prev == nil {
		tx = db.WithContext(ctx).Exec(`
			UPDATE entitlements
			SET disabled_at = ?, pending_deletion = ?, pending_deletion_at = ?, updated_at = ?
			WHERE id = ? AND disabled_at IS NULL
		`, disabledAt, pending, pendingAt, now, id)
	} else {
		tx = db.WithContext(ctx).Exec(`
			UPDATE entitlements
			SET disabled_at = ?, pending_deletion = ?, pending_deletion_at = ?, updated_at = ?
			WHERE id = ? AND disabled_at = ?
		`, disabledAt, pending, pendingAt, now, id, *prev)
	}
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

func (r *repository) Revive(ctx context.Context, db *gorm.DB, id snowflake.ID, prev time.Time, now time.Time) (bool, error) {
	tx := db.WithContext(ctx).Exec(`
		UPDATE entitlements
		SET disabled_at = NULL, pending_deletion = ?, pending_deletion_at = NULL, updated_at = ?
		WHERE id = ? AND disabled_at = ?
	`, false, now, id, prev)
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

func (r *repository) Reactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, lineItemID *string, now time.Time) (bool, error) {
	tx := db.WithContext(ctx).Exec(`
		UPDATE entitlements
		SET enabled_at = ?, disabled_at = NULL, line_item_id = ?, pending_deletion = ?, pending_deletion_at = NULL, updated_at = ?
		WHERE id = ? AND disabled_at IS NOT NULL AND disabled_at <= ?
	`, now, lineItemID, false, now, id, now)
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

func (r *repository) ClearPendingDeletion(ctx context.Context, db *gorm.DB, id snowflake.ID, disabledAt time.Time, now time.Time) (bool, error) {
	tx := db.WithContext(ctx).Exec(`
		UPDATE entitlements
		SET line_item_id = NULL, pending_deletion = ?, pending_deletion_at = NULL, updated_at = ?
		WHERE id = ? AND pending_deletion = ? AND disabled_at = ?
	`, false, now, id, true, disabledAt)
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

func (r *repository) FindDueForReconciliation(ctx context.Context, db *gorm.DB, subscriptionID string, cutoff time.Time) ([]domain.Entitlement, error) {
	var entitlements []domain.Entitlement
	err := db.WithContext(ctx).
		Raw(`
			SELECT e.*
			FROM entitlements e
			JOIN accounts a ON a.id = e.account_id
			WHERE a.billing_subscription_id = ?
			  AND e.pending_deletion = ?
			  AND e.line_item_id IS NOT NULL
			  AND e.disabled_at IS NOT NULL
			  AND e.disabled_at <= ?
			ORDER BY e.id
		`, subscriptionID, true, cutoff).
		Scan(&entitlements).Error
	if err != nil {
		return nil, err
	}

	return entitlements, nil
}
