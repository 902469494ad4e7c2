package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/smallbiznis/featuregate/internal/account/domain"
	accountrepository "github.com/smallbiznis/featuregate/internal/account/repository"
	billingdomain "github.com/smallbiznis/featuregate/internal/billing/domain"
	"github.com/smallbiznis/featuregate/internal/clock"
	"github.com/smallbiznis/featuregate/internal/entitlement/domain"
	"github.com/smallbiznis/featuregate/internal/entitlement/repository"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billingdomain.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*billingdomain.Subscription)
	return sub, args.Error(1)
}

func (m *mockGateway) CreateLineItem(ctx context.Context, subscriptionID, moduleCode string) (string, error) {
	args := m.Called(ctx, subscriptionID, moduleCode)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) MarkPendingDeletion(ctx context.Context, lineItemID string, removeAt time.Time) error {
	args := m.Called(ctx, lineItemID, removeAt)
	return args.Error(0)
}

func (m *mockGateway) UnmarkPendingDeletion(ctx context.Context, lineItemID string) error {
	args := m.Called(ctx, lineItemID)
	return args.Error(0)
}

func (m *mockGateway) DeleteLineItem(ctx context.Context, lineItemID string) error {
	args := m.Called(ctx, lineItemID)
	return args.Error(0)
}

func (m *mockGateway) ParseRenewal(payload []byte, signature string) (*billingdomain.RenewalEvent, error) {
	args := m.Called(payload, signature)
	event, _ := args.Get(0).(*billingdomain.RenewalEvent)
	return event, args.Error(1)
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	gateway *mockGateway
	svc     domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.User{},
		&domain.Entitlement{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	gateway := new(mockGateway)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repository.New(),
		Accounts: accountrepository.New(),
		Billing:  gateway,
		Metrics:  nil,
	})

	return &fixture{db: db, node: node, clk: clk, gateway: gateway, svc: svc}
}

func (f *fixture) createAccount(t *testing.T, paid, legacy bool, subscriptionID *string) *accountdomain.Account {
	t.Helper()
	account := &accountdomain.Account{
		ID:                    f.node.Generate(),
		BillingCustomerID:     "cus_test",
		BillingSubscriptionID: subscriptionID,
		IsPaid:                paid,
		IsLegacyPricing:       legacy,
		CreatedAt:             f.clk.Now(),
		UpdatedAt:             f.clk.Now(),
	}
	require.NoError(t, f.db.Create(account).Error)
	return account
}

func (f *fixture) createUser(t *testing.T, accountID snowflake.ID, role accountdomain.Role) *accountdomain.User {
	t.Helper()
	user := &accountdomain.User{
		ID:        f.node.Generate(),
		AccountID: accountID,
		Email:     "user@example.com",
		Role:      role,
		TokenHash: "hash-" + f.node.Generate().String(),
		CreatedAt: f.clk.Now(),
		UpdatedAt: f.clk.Now(),
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func (f *fixture) createEntitlement(t *testing.T, accountID snowflake.ID, moduleCode string, disabledAt *time.Time, lineItemID *string, pending bool) *domain.Entitlement {
	t.Helper()
	entitlement := &domain.Entitlement{
		ID:              f.node.Generate(),
		AccountID:       accountID,
		ModuleCode:      moduleCode,
		EnabledAt:       f.clk.Now().Add(-24 * time.Hour),
		DisabledAt:      disabledAt,
		LineItemID:      lineItemID,
		PendingDeletion: pending,
		CreatedAt:       f.clk.Now(),
		UpdatedAt:       f.clk.Now(),
	}
	if pending {
		entitlement.PendingDeletionAt = disabledAt
	}
	require.NoError(t, f.db.Create(entitlement).Error)
	return entitlement
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *domain.Entitlement {
	t.Helper()
	var entitlement domain.Entitlement
	require.NoError(t, f.db.Raw(`SELECT * FROM entitlements WHERE id = ?`, id).Scan(&entitlement).Error)
	return &entitlement
}

func strptr(s string) *string { return &s }

func TestDeactivateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, false, false, nil)
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	member := f.createUser(t, account.ID, accountdomain.RoleMember)

	t.Run("missing module code", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, owner.ID, "  ")
		assert.ErrorIs(t, err, domain.ErrModuleCodeRequired)
	})

	t.Run("core module protected", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, owner.ID, domain.CoreModuleCode)
		assert.ErrorIs(t, err, domain.ErrCoreModuleProtected)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, f.node.Generate(), "analytics")
		assert.ErrorIs(t, err, accountdomain.ErrUserNotFound)
	})

	t.Run("member forbidden", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, member.ID, "analytics")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("module not enabled", func(t *testing.T) {
		_, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
		assert.ErrorIs(t, err, domain.ErrModuleNotEnabled)
	})

	f.gateway.AssertExpectations(t)
}

func TestDeactivateLegacyAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, true, true, strptr("sub_legacy"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, nil, false)

	_, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	assert.ErrorIs(t, err, domain.ErrLegacyAccountImmutable)

	reloaded := f.reload(t, entitlement.ID)
	assert.Nil(t, reloaded.DisabledAt)
}

func TestDeactivateAlreadyDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, false, false, nil)
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	past := f.clk.Now().Add(-time.Hour)
	f.createEntitlement(t, account.ID, "analytics", &past, nil, false)

	_, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	assert.ErrorIs(t, err, domain.ErrAlreadyDisabled)
}

func TestDeactivateImmediateUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, false, false, nil)
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, nil, false)

	change, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.NoError(t, err)
	assert.True(t, change.Immediate)
	require.NotNil(t, change.AccessUntil)
	assert.True(t, change.AccessUntil.Equal(f.clk.Now()))

	reloaded := f.reload(t, entitlement.ID)
	require.NotNil(t, reloaded.DisabledAt)
	assert.True(t, reloaded.DisabledAt.Equal(f.clk.Now()))
	assert.False(t, reloaded.PendingDeletion)

	// No provider traffic for accounts without a subscription.
	f.gateway.AssertNotCalled(t, "RetrieveSubscription", mock.Anything, mock.Anything)
	f.gateway.AssertNotCalled(t, "MarkPendingDeletion", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeactivateImmediateLapsedSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, strptr("si_1"), false)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		Status:           billingdomain.StatusUnpaid,
		CurrentPeriodEnd: f.clk.Now().Add(10 * 24 * time.Hour),
	}, nil).Once()

	change, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.NoError(t, err)
	assert.True(t, change.Immediate)

	reloaded := f.reload(t, entitlement.ID)
	require.NotNil(t, reloaded.DisabledAt)
	assert.True(t, reloaded.DisabledAt.Equal(f.clk.Now()))
	assert.False(t, reloaded.PendingDeletion)

	f.gateway.AssertNotCalled(t, "MarkPendingDeletion", mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertExpectations(t)
}

func TestDeactivateDeferredUntilPeriodEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	periodEnd := f.clk.Now().Add(14 * 24 * time.Hour)
	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, strptr("si_1"), false)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		Status:           billingdomain.StatusActive,
		CurrentPeriodEnd: periodEnd,
	}, nil).Once()
	f.gateway.On("MarkPendingDeletion", mock.Anything, "si_1", periodEnd).Return(nil).Once()

	change, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.NoError(t, err)
	assert.False(t, change.Immediate)
	require.NotNil(t, change.AccessUntil)
	assert.True(t, change.AccessUntil.Equal(periodEnd))

	reloaded := f.reload(t, entitlement.ID)
	require.NotNil(t, reloaded.DisabledAt)
	assert.True(t, reloaded.DisabledAt.Equal(periodEnd))
	assert.True(t, reloaded.PendingDeletion)
	require.NotNil(t, reloaded.LineItemID)
	assert.Equal(t, "si_1", *reloaded.LineItemID)

	f.gateway.AssertExpectations(t)
}

func TestDeactivateMarkFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	periodEnd := f.clk.Now().Add(7 * 24 * time.Hour)
	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, strptr("si_1"), false)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		Status:           billingdomain.StatusActive,
		CurrentPeriodEnd: periodEnd,
	}, nil).Once()
	f.gateway.On("MarkPendingDeletion", mock.Anything, "si_1", periodEnd).
		Return(errors.New("stripe unavailable")).Once()

	change, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.NoError(t, err)
	assert.False(t, change.Immediate)

	// The local state is committed even though the provider annotation failed.
	reloaded := f.reload(t, entitlement.ID)
	assert.True(t, reloaded.PendingDeletion)

	f.gateway.AssertExpectations(t)
}

func TestDeactivateRetrieveFailurePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, strptr("si_1"), false)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").
		Return(nil, errors.New("stripe unavailable")).Once()

	_, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.Error(t, err)

	reloaded := f.reload(t, entitlement.ID)
	assert.Nil(t, reloaded.DisabledAt)
	assert.False(t, reloaded.PendingDeletion)

	f.gateway.AssertExpectations(t)
}

func TestDeactivateTwiceScheduledKeepsDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	periodEnd := f.clk.Now().Add(14 * 24 * time.Hour)
	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", nil, strptr("si_1"), false)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		Status:           billingdomain.StatusActive,
		CurrentPeriodEnd: periodEnd,
	}, nil).Twice()
	f.gateway.On("MarkPendingDeletion", mock.Anything, "si_1", periodEnd).Return(nil).Twice()

	_, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.NoError(t, err)

	// A repeat while still scheduled recomputes the same outcome.
	change, err := f.svc.Deactivate(ctx, owner.ID, "analytics")
	require.NoError(t, err)
	assert.True(t, change.AccessUntil.Equal(periodEnd))

	reloaded := f.reload(t, entitlement.ID)
	assert.True(t, reloaded.DisabledAt.Equal(periodEnd))

	f.gateway.AssertExpectations(t)
}

func TestActivateFreshUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, false, false, nil)
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)

	change, err := f.svc.Activate(ctx, owner.ID, "analytics")
	require.NoError(t, err)
	assert.Equal(t, "analytics", change.ModuleCode)

	var entitlement domain.Entitlement
	require.NoError(t, f.db.Raw(
		`SELECT * FROM entitlements WHERE account_id = ? AND module_code = ?`,
		account.ID, "analytics",
	).Scan(&entitlement).Error)
	assert.NotZero(t, entitlement.ID)
	assert.Nil(t, entitlement.DisabledAt)
	assert.Nil(t, entitlement.LineItemID)

	f.gateway.AssertNotCalled(t, "CreateLineItem", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivateFreshPaidCreatesLineItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		Status:           billingdomain.StatusActive,
		CurrentPeriodEnd: f.clk.Now().Add(20 * 24 * time.Hour),
	}, nil).Once()
	f.gateway.On("CreateLineItem", mock.Anything, "sub_1", "analytics").Return("si_new", nil).Once()

	_, err := f.svc.Activate(ctx, owner.ID, "analytics")
	require.NoError(t, err)

	var entitlement domain.Entitlement
	require.NoError(t, f.db.Raw(
		`SELECT * FROM entitlements WHERE account_id = ? AND module_code = ?`,
		account.ID, "analytics",
	).Scan(&entitlement).Error)
	require.NotNil(t, entitlement.LineItemID)
	assert.Equal(t, "si_new", *entitlement.LineItemID)

	f.gateway.AssertExpectations(t)
}

func TestActivateLineItemFailureLeavesNoGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)

	f.gateway.On("RetrieveSubscription", mock.Anything, "sub_1").Return(&billingdomain.Subscription{
		ID:               "sub_1",
		Status:           billingdomain.StatusActive,
		CurrentPeriodEnd: f.clk.Now().Add(20 * 24 * time.Hour),
	}, nil).Once()
	f.gateway.On("CreateLineItem", mock.Anything, "sub_1", "analytics").
		Return("", errors.New("stripe unavailable")).Once()

	_, err := f.svc.Activate(ctx, owner.ID, "analytics")
	require.Error(t, err)

	var entitlement domain.Entitlement
	require.NoError(t, f.db.Raw(
		`SELECT * FROM entitlements WHERE account_id = ? AND module_code = ?`,
		account.ID, "analytics",
	).Scan(&entitlement).Error)
	assert.Zero(t, entitlement.ID)

	f.gateway.AssertExpectations(t)
}

func TestActivateRevivesScheduledDeactivation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := f.clk.Now().Add(10 * 24 * time.Hour)
	account := f.createAccount(t, true, false, strptr("sub_1"))
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", &future, strptr("si_1"), true)

	f.gateway.On("UnmarkPendingDeletion", mock.Anything, "si_1").Return(nil).Once()

	_, err := f.svc.Activate(ctx, owner.ID, "analytics")
	require.NoError(t, err)

	reloaded := f.reload(t, entitlement.ID)
	assert.Nil(t, reloaded.DisabledAt)
	assert.False(t, reloaded.PendingDeletion)
	require.NotNil(t, reloaded.LineItemID)
	assert.Equal(t, "si_1", *reloaded.LineItemID)

	// The existing charge is reused, not recreated.
	f.gateway.AssertNotCalled(t, "CreateLineItem", mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertExpectations(t)
}

func TestActivateAlreadyEnabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, false, false, nil)
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	f.createEntitlement(t, account.ID, "analytics", nil, nil, false)

	_, err := f.svc.Activate(ctx, owner.ID, "analytics")
	assert.ErrorIs(t, err, domain.ErrAlreadyEnabled)
}

func TestActivateReusesInactiveRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := f.clk.Now().Add(-30 * 24 * time.Hour)
	account := f.createAccount(t, false, false, nil)
	owner := f.createUser(t, account.ID, accountdomain.RoleOwner)
	entitlement := f.createEntitlement(t, account.ID, "analytics", &past, nil, false)

	_, err := f.svc.Activate(ctx, owner.ID, "analytics")
	require.NoError(t, err)

	reloaded := f.reload(t, entitlement.ID)
	assert.Equal(t, entitlement.ID, reloaded.ID)
	assert.Nil(t, reloaded.DisabledAt)
	assert.True(t, reloaded.EnabledAt.Equal(f.clk.Now()))
}

func TestListModules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account := f.createAccount(t, false, false, nil)
	member := f.createUser(t, account.ID, accountdomain.RoleMember)

	future := f.clk.Now().Add(5 * 24 * time.Hour)
	past := f.clk.Now().Add(-5 * 24 * time.Hour)
	f.createEntitlement(t, account.ID, domain.CoreModuleCode, nil, nil, false)
	f.createEntitlement(t, account.ID, "analytics", &future, strptr("si_1"), true)
	f.createEntitlement(t, account.ID, "exports", &past, nil, false)

	statuses, err := f.svc.List(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 3)

	byCode := map[string]domain.ModuleStatus{}
	for _, status := range statuses {
		byCode[status.ModuleCode] = status
	}

	assert.True(t, byCode[domain.CoreModuleCode].Active)
	assert.False(t, byCode[domain.CoreModuleCode].PendingDeactivation)

	assert.True(t, byCode["analytics"].Active)
	assert.True(t, byCode["analytics"].PendingDeactivation)

	assert.False(t, byCode["exports"].Active)
	assert.False(t, byCode["exports"].PendingDeactivation)
}
