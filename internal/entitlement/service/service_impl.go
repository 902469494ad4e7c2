package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	billingdomain "github.com/smallbiznis/featuregate/internal/billing/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/observability/metrics"
	"github.com/smallbiznis/featuregate/pkg/db"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Accounts accountdomain.Repository
	Billing  billingdomain.Gateway
	Metrics  *metrics.EntitlementMetrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	accounts accountdomain.Repository
	billing  billingdomain.Gateway
	metrics  *metrics.EntitlementMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("entitlement.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		accounts: p.Accounts,
		billing:  p.Billing,
		metrics:  p.Metrics,
	}
}

// resolveActor loads the acting user and their account, enforcing the role
// and pricing checks shared by every module mutation.
func (s *Service) resolveActor(ctx context.Context, userID snowflake.ID) (*accountdomain.User, *accountdomain.Account, error) {
	user, err := s.accounts.FindUserByID(ctx, s.db, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, accountdomain.ErrUserNotFound
	}

	if !user.Role.CanManageModules() {
		return nil, nil, domain.ErrForbidden
	}

	account, err := s.accounts.FindAccountByID(ctx, s.db, user.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, accountdomain.ErrAccountNotFound
	}

	if account.IsLegacyPricing {
		return nil, nil, domain.ErrLegacyAccountImmutable
	}

	return user, account, nil
}

func validateModuleCode(moduleCode string) (string, error) {
	moduleCode = strings.TrimSpace(moduleCode)
	if moduleCode == "" {
		return "", domain.ErrModuleCodeRequired
	}
	if moduleCode == domain.CoreModuleCode {
		return "", domain.ErrCoreModuleProtected
	}
	return moduleCode, nil
}

func (s *Service) Deactivate(ctx context.Context, userID snowflake.ID, moduleCode string) (*domain.ModuleChange, error) {
	moduleCode, err := validateModuleCode(moduleCode)
	if err != nil {
		return nil, err
	}

	_, account, err := s.resolveActor(ctx, userID)
	if err != nil {
		return nil, err
	}

	entitlement, err := s.repo.Find(ctx, s.db, account.ID, moduleCode)
	if err != nil {
		return nil, err
	}
	if entitlement == nil {
		return nil, domain.ErrModuleNotEnabled
	}

	now := s.clock.Now()
	if entitlement.DisabledAt != nil && !entitlement.DisabledAt.After(now) {
		return nil, domain.ErrAlreadyDisabled
	}

	// Decide between revoking access now and letting the paid period
	// run out. Anything short of a live subscription revokes now.
	disabledAt := now
	immediate := true
	if account.IsPaid && account.BillingSubscriptionID != nil {
		sub, err := s.billing.RetrieveSubscription(ctx, *account.BillingSubscriptionID)
		if err != nil && !errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			return nil, err
		}
		if sub != nil && sub.InPaidPeriod() && sub.CurrentPeriodEnd.After(now) {
			disabledAt = sub.CurrentPeriodEnd
			immediate = false
		}
	}

	var pendingAt *time.Time
	if !immediate && entitlement.LineItemID != nil {
		pendingAt = &disabledAt
	}

	ok, err := s.repo.Disable(ctx, s.db, entitlement.ID, entitlement.DisabledAt, disabledAt, pendingAt, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent request changed the row after we read it.
		return nil, domain.ErrAlreadyDisabled
	}

	if pendingAt != nil {
		if err := s.billing.MarkPendingDeletion(ctx, *entitlement.LineItemID, disabledAt); err != nil {
			// The reconciler removes the line item regardless; the
			// provider-side annotation is advisory.
			s.log.Warn("failed to mark line item pending deletion",
				zap.String("line_item_id", *entitlement.LineItemID),
				zap.String("module_code", moduleCode),
				zap.Error(err),
			)
			s.metrics.IncBillingMarkFailure()
		}
	}

	s.metrics.IncDeactivation(immediate)
	s.log.Info("module deactivated",
		zap.Int64("account_id", int64(account.ID)),
		zap.String("module_code", moduleCode),
		zap.Bool("immediate", immediate),
		zap.Time("access_until", disabledAt),
	)

	return &domain.ModuleChange{
		ModuleCode:  moduleCode,
		Immediate:   immediate,
		AccessUntil: &disabledAt,
	}, nil
}

func (s *Service) Activate(ctx context.Context, userID snowflake.ID, moduleCode string) (*domain.ModuleChange, error) {
	moduleCode, err := validateModuleCode(moduleCode)
	if err != nil {
		return nil, err
	}

	_, account, err := s.resolveActor(ctx, userID)
	if err != nil {
		return nil, err
	}

	entitlement, err := s.repo.Find(ctx, s.db, account.ID, moduleCode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	if entitlement != nil && entitlement.DisabledAt == nil {
		return nil, domain.ErrAlreadyEnabled
	}

	// A module still inside its paid tail keeps its line item; reviving it
	// just cancels the scheduled cutoff.
	if entitlement != nil && entitlement.DisabledAt.After(now) {
		ok, err := s.repo.Revive(ctx, s.db, entitlement.ID, *entitlement.DisabledAt, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrAlreadyEnabled
		}

		if entitlement.PendingDeletion && entitlement.LineItemID != nil {
			if err := s.billing.UnmarkPendingDeletion(ctx, *entitlement.LineItemID); err != nil {
				s.log.Warn("failed to unmark line item pending deletion",
					zap.String("line_item_id", *entitlement.LineItemID),
					zap.String("module_code", moduleCode),
					zap.Error(err),
				)
				s.metrics.IncBillingMarkFailure()
			}
		}

		s.metrics.IncActivation()
		s.log.Info("module deactivation cancelled",
			zap.Int64("account_id", int64(account.ID)),
			zap.String("module_code", moduleCode),
		)

		return &domain.ModuleChange{ModuleCode: moduleCode}, nil
	}

	// Fresh grant. For paid accounts the charge is created first so a
	// billing failure leaves the module untouched.
	var lineItemID *string
	if account.IsPaid && account.BillingSubscriptionID != nil {
		sub, err := s.billing.RetrieveSubscription(ctx, *account.BillingSubscriptionID)
		if err != nil && !errors.Is(err, billingdomain.ErrSubscriptionNotFound) {
			return nil, err
		}
		if sub != nil && sub.InPaidPeriod() {
			id, err := s.billing.CreateLineItem(ctx, *account.BillingSubscriptionID, moduleCode)
			if err != nil {
				return nil, err
			}
			lineItemID = &id
		}
	}

	if entitlement == nil {
		err = s.repo.Insert(ctx, s.db, &domain.Entitlement{
			ID:         s.genID.Generate(),
			AccountID:  account.ID,
			ModuleCode: moduleCode,
			EnabledAt:  now,
			LineItemID: lineItemID,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			if db.IsDuplicateKeyErr(err) {
				s.rollbackLineItem(ctx, lineItemID, moduleCode)
				return nil, domain.ErrAlreadyEnabled
			}
			return nil, err
		}
	} else {
		ok, err := s.repo.Reactivate(ctx, s.db, entitlement.ID, lineItemID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.rollbackLineItem(ctx, lineItemID, moduleCode)
			return nil, domain.ErrAlreadyEnabled
		}
	}

	s.metrics.IncActivation()
	s.log.Info("module activated",
		zap.Int64("account_id", int64(account.ID)),
		zap.String("module_code", moduleCode),
		zap.Bool("billed", lineItemID != nil),
	)

	return &domain.ModuleChange{ModuleCode: moduleCode}, nil
}

// rollbackLineItem removes a charge created for a grant that lost the race.
func (s *Service) rollbackLineItem(ctx context.Context, lineItemID *string, moduleCode string) {
	if lineItemID == nil {
		return
	}
	if err := s.billing.DeleteLineItem(ctx, *lineItemID); err != nil {
		s.log.Warn("failed to roll back line item",
			zap.String("line_item_id", *lineItemID),
			zap.String("module_code", moduleCode),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]domain.ModuleStatus, error) {
	user, err := s.accounts.FindUserByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, accountdomain.ErrUserNotFound
	}

	entitlements, err := s.repo.ListByAccount(ctx, s.db, user.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	statuses := make([]domain.ModuleStatus, 0, len(entitlements))
	for i := range entitlements {
		e := &entitlements[i]
		statuses = append(statuses, domain.ModuleStatus{
			ModuleCode:          e.ModuleCode,
			Active:              e.ActiveAt(now),
			PendingDeactivation: e.PendingDeactivationAt(now),
			EnabledAt:           e.EnabledAt,
			DisabledAt:          e.DisabledAt,
		})
	}

	return statuses, nil
}
