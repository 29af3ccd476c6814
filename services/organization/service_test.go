package organization

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cascade-payroll/pkg/config"
	"cascade-payroll/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Organization{}, &OrganizationUser{}, &OnboardingTask{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Database.Enabled = true

	return NewService(ServiceParams{DB: db, Node: node, Config: cfg})
}

func TestCreateOrganization(t *testing.T) {
	svc := newTestService(t)

	org, err := svc.CreateOrganization(context.Background(), &CreateOrganizationRequest{
		Name:        "Acme Payroll",
		OwnerEmail:  " Founder@Acme.io ",
		OwnerWallet: "ownerwallet111",
	})
	require.NoError(t, err)
	require.Equal(t, "acme-payroll", org.Slug)
	require.Equal(t, StateNewAccount, org.AccountState)
	require.Equal(t, CadenceMonthly, org.PayrollCadence)

	owner, err := svc.users.FindOne(context.Background(), &OrganizationUser{OrganizationID: org.ID})
	require.NoError(t, err)
	require.NotNil(t, owner)
	require.Equal(t, "founder@acme.io", owner.Email)
	require.Equal(t, RoleEmployer, owner.Role)
}

func TestCreateOrganizationRequiresName(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateOrganization(context.Background(), &CreateOrganizationRequest{})
	require.Error(t, err)
}

func TestResolveContextStrategies(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{
		Name:        "First Org",
		OwnerEmail:  "shared@acme.io",
		OwnerWallet: "wallet-first",
	})
	require.NoError(t, err)

	second, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{
		Name:        "Second Org",
		OwnerEmail:  "shared@acme.io",
		OwnerWallet: "wallet-second",
	})
	require.NoError(t, err)

	// Persisted organization wins when both credentials are present.
	resolved, err := svc.ResolveContext(ctx, Identity{
		Email:          "shared@acme.io",
		Wallet:         "wallet-second",
		PersistedOrgID: second.ID,
	})
	require.NoError(t, err)
	require.Equal(t, second.ID, resolved.OrganizationID)

	// Wallet outranks email.
	resolved, err = svc.ResolveContext(ctx, Identity{
		Email:  "shared@acme.io",
		Wallet: "wallet-first",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, resolved.OrganizationID)

	// Email normalization applies before matching.
	resolved, err = svc.ResolveContext(ctx, Identity{Email: "  SHARED@ACME.IO "})
	require.NoError(t, err)
	require.Equal(t, first.ID, resolved.OrganizationID)
}

func TestResolveContextErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.ResolveContext(ctx, Identity{})
	var identityErr *IdentityError
	require.ErrorAs(t, err, &identityErr)
	require.Equal(t, ReasonIdentityRequired, identityErr.Reason)
	require.True(t, identityErr.Graceful())

	_, err = svc.ResolveContext(ctx, Identity{Wallet: "unknown-wallet"})
	require.ErrorAs(t, err, &identityErr)
	require.Equal(t, ReasonOrganizationNotFound, identityErr.Reason)

	disabled := &Service{databaseEnabled: false}
	_, err = disabled.ResolveContext(ctx, Identity{Wallet: "any"})
	require.ErrorAs(t, err, &identityErr)
	require.Equal(t, ReasonDatabaseDisabled, identityErr.Reason)
}

func TestUpdateAccountStateMonotonic(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{Name: "Stateful", OwnerEmail: "a@b.c"})
	require.NoError(t, err)

	result, err := svc.UpdateAccountState(ctx, org.ID, StateWalletConnected)
	require.NoError(t, err)
	require.True(t, result.Updated)
	require.Equal(t, StateWalletConnected, result.State)

	// Downgrades and same-state writes are rejected without mutation.
	for _, next := range []AccountState{StateNewAccount, StateOnboarding, StateWalletConnected} {
		result, err = svc.UpdateAccountState(ctx, org.ID, next)
		require.NoError(t, err)
		require.False(t, result.Updated)
		require.Equal(t, "not-an-upgrade", result.Reason)
	}

	current, err := svc.orgs.FindOne(ctx, &Organization{ID: org.ID})
	require.NoError(t, err)
	require.Equal(t, StateWalletConnected, current.AccountState)

	_, err = svc.UpdateAccountState(ctx, org.ID, AccountState("bogus"))
	require.Error(t, err)
}

func TestCompleteOnboardingTaskUpsert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{Name: "Tasks", OwnerEmail: "t@t.t"})
	require.NoError(t, err)

	first, err := svc.CompleteOnboardingTask(ctx, org.ID, TaskConnectWallet, []byte(`{"wallet":"one"}`))
	require.NoError(t, err)

	second, err := svc.CompleteOnboardingTask(ctx, org.ID, TaskConnectWallet, []byte(`{"wallet":"two"}`))
	require.NoError(t, err)
	require.False(t, second.CompletedAt.Before(first.CompletedAt))

	var count int64
	require.NoError(t, svc.db.Model(&OnboardingTask{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	_, err = svc.CompleteOnboardingTask(ctx, org.ID, TaskName("made-up"), nil)
	require.Error(t, err)
}

func TestGetSetupSnapshot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{Name: "Snapshot", OwnerEmail: "s@s.s"})
	require.NoError(t, err)

	_, err = svc.CompleteOnboardingTask(ctx, org.ID, TaskConnectWallet, nil)
	require.NoError(t, err)
	_, err = svc.CompleteOnboardingTask(ctx, org.ID, TaskEmployeeAdded, nil)
	require.NoError(t, err)

	snapshot, err := svc.GetSetupSnapshot(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, StateNewAccount, snapshot.AccountState)
	require.Len(t, snapshot.CompletedTasks, 2)
	require.Equal(t, int64(1), snapshot.MemberCount)
}

func TestResolveMemberRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{
		Name:        "Roles",
		OwnerEmail:  "owner@org.io",
		OwnerWallet: "owner-wallet",
	})
	require.NoError(t, err)

	_, err = svc.AddMember(ctx, org.ID, Identity{Wallet: "employee-wallet"}, RoleEmployee)
	require.NoError(t, err)

	role, err := svc.ResolveMemberRole(ctx, org.ID, Identity{Wallet: "employee-wallet"})
	require.NoError(t, err)
	require.Equal(t, RoleEmployee, role)

	role, err = svc.ResolveMemberRole(ctx, org.ID, Identity{Email: "owner@org.io"})
	require.NoError(t, err)
	require.Equal(t, RoleEmployer, role)

	_, err = svc.ResolveMemberRole(ctx, org.ID, Identity{Wallet: "stranger"})
	var identityErr *IdentityError
	require.ErrorAs(t, err, &identityErr)
	require.Equal(t, ReasonEmployeeNotFound, identityErr.Reason)
}

func TestAddMemberTxJoinsCallerTransaction(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, &CreateOrganizationRequest{
		Name:        "Rollbacks",
		OwnerEmail:  "owner@rollbacks.io",
		OwnerWallet: "rollback-owner",
	})
	require.NoError(t, err)

	tx := svc.db.Begin()
	require.NoError(t, tx.Error)
	_, err = svc.AddMemberTx(ctx, tx, org.ID, Identity{Wallet: "temp-wallet"}, RoleEmployee)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback().Error)

	_, err = svc.ResolveMemberRole(ctx, org.ID, Identity{Wallet: "temp-wallet"})
	var identityErr *IdentityError
	require.ErrorAs(t, err, &identityErr)
	require.Equal(t, ReasonEmployeeNotFound, identityErr.Reason)
}
