// Package reconcile removes billing line items whose paid tail has ended.
// It runs off renewal webhooks and is safe to repeat: every clear is a
// conditional write and provider deletes treat missing items as done.
package reconcile

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/featuregate/internal/billing/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	entitlementdomain "github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/pkg/db"
)

// ProcessedEvent records a handled renewal webhook for dedupe and audit.
type ProcessedEvent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	ProviderEventID string       `gorm:"type:text;not null;uniqueIndex"`
	SubscriptionID  string       `gorm:"type:text;not null;index"`
	PeriodStart     time.Time    `gorm:"not null"`
	Payload         datatypes.JSON
	ProcessedAt     *time.Time
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProcessedEvent) TableName() string { return "billing_events" }

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    entitlementdomain.Repository
	Billing billingdomain.Gateway
	Metrics *metrics.EntitlementMetrics
}

type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    entitlementdomain.Repository
	billing billingdomain.Gateway
	metrics *metrics.EntitlementMetrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:      p.DB,
		log:     p.Log.Named("reconcile.worker"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		billing: p.Billing,
		metrics: p.Metrics,
	}
}

// HandleRenewal processes a verified renewal event. Redeliveries of an
// event that already completed are skipped; a partially failed run is
// retried in full on the next delivery.
func (w *Worker) HandleRenewal(ctx context.Context, event billingdomain.RenewalEvent) error {
	var existing ProcessedEvent
	err := w.db.WithContext(ctx).
		Raw(`SELECT * FROM billing_events WHERE provider_event_id = ?`, event.EventID).
		Scan(&existing).Error
	if err != nil {
		return err
	}

	if existing.ID != 0 && existing.ProcessedAt != nil {
		w.metrics.IncReconcileSkipped()
		w.log.Debug("renewal event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	now := w.clock.Now()
	if existing.ID == 0 {
		err = w.db.WithContext(ctx).Create(&ProcessedEvent{
			ID:              w.genID.Generate(),
			ProviderEventID: event.EventID,
			SubscriptionID:  event.SubscriptionID,
			PeriodStart:     event.PeriodStart,
			Payload:         datatypes.JSON(event.Raw),
			CreatedAt:       now,
			UpdatedAt:       now,
		}).Error
		if err != nil && !db.IsDuplicateKeyErr(err) {
			return err
		}
	}

	_, failed, err := w.Reconcile(ctx, event.SubscriptionID, event.PeriodStart)
	if err != nil {
		return err
	}
	if failed > 0 {
		// Leave the event unprocessed so a redelivery retries it.
		return nil
	}

	return w.db.WithContext(ctx).Exec(`
		UPDATE billing_events SET processed_at = ?, updated_at = ? WHERE provider_event_id = ?
	`, now, now, event.EventID).Error
}

// Reconcile deletes line items for every entitlement on the subscription
// whose access ended by cutoff, then detaches them from the rows. Provider
// failures are counted and skipped; the rows stay pending for a later run.
func (w *Worker) Reconcile(ctx context.Context, subscriptionID string, cutoff time.Time) (deleted, failed int, err error) {
	entitlements, err := w.repo.FindDueForReconciliation(ctx, w.db, subscriptionID, cutoff)
	if err != nil {
		return 0, 0, err
	}

	now := w.clock.Now()
	for i := range entitlements {
		e := &entitlements[i]
		if err := w.billing.DeleteLineItem(ctx, *e.LineItemID); err != nil {
			w.metrics.IncReconcileFailure()
			w.log.Error("failed to delete line item",
				zap.String("subscription_id", subscriptionID),
				zap.String("line_item_id", *e.LineItemID),
				zap.String("module_code", e.ModuleCode),
				zap.Error(err),
			)
			failed++
			continue
		}

		ok, err := w.repo.ClearPendingDeletion(ctx, w.db, e.ID, *e.DisabledAt, now)
		if err != nil {
			return deleted, failed, err
		}
		if !ok {
			// The row changed since we read it; whoever changed it
			// owns its line item state now.
			continue
		}

		deleted++
		w.metrics.IncReconcileDeleted()
	}

	if deleted > 0 || failed > 0 {
		w.log.Info("reconciled subscription line items",
			zap.String("subscription_id", subscriptionID),
			zap.Int("deleted", deleted),
			zap.Int("failed", failed),
		)
	}

	return deleted, failed, nil
}
