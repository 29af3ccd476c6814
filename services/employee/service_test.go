package employee

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cascade-payroll/pkg/config"
	"cascade-payroll/pkg/errutil"
	"cascade-payroll/services/organization"
	"cascade-payroll/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *organization.Organization) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&organization.Organization{}, &organization.OrganizationUser{}, &organization.OnboardingTask{},
		&Employee{}, &StatusHistory{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Database.Enabled = true

	orgs := organization.NewService(organization.ServiceParams{DB: db, Node: node, Config: cfg})
	org, err := orgs.CreateOrganization(context.Background(), &organization.CreateOrganizationRequest{
		Name:       "Employer Inc",
		OwnerEmail: "owner@employer.io",
	})
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Orgs: orgs}), org
}

func TestInviteCreatesMembershipAndHistory(t *testing.T) {
	svc, org := newTestService(t)
	ctx := context.Background()

	emp, err := svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		Name:           "Jordan",
		Email:          "jordan@employer.io",
		WalletAddress:  "jordan-wallet",
		Actor:          "owner@employer.io",
	})
	require.NoError(t, err)
	require.Equal(t, StateInvited, emp.State)
	require.Equal(t, FullTime, emp.EmploymentType)

	history, err := svc.History(ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, StateDraft, history[0].FromState)
	require.Equal(t, StateInvited, history[0].ToState)

	role, err := svc.orgs.ResolveMemberRole(ctx, org.ID, organization.Identity{Wallet: "jordan-wallet"})
	require.NoError(t, err)
	require.Equal(t, organization.RoleEmployee, role)
}

func TestInviteValidation(t *testing.T) {
	svc, org := newTestService(t)
	ctx := context.Background()

	_, err := svc.Invite(ctx, &InviteRequest{OrganizationID: org.ID})
	require.Error(t, err)

	_, err = svc.Invite(ctx, &InviteRequest{Email: "a@b.c"})
	require.Error(t, err)
}

func TestInviteRejectsDuplicateEmail(t *testing.T) {
	svc, org := newTestService(t)
	ctx := context.Background()

	_, err := svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		Name:           "First",
		Email:          "shared@employer.io",
	})
	require.NoError(t, err)

	_, err = svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		Name:           "Second",
		Email:          "shared@employer.io",
	})
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusConflict))
}

func TestInviteAllowsMultipleWalletOnlyEmployees(t *testing.T) {
	svc, org := newTestService(t)
	ctx := context.Background()

	_, err := svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		Name:           "Wallet One",
		WalletAddress:  "wallet-one",
	})
	require.NoError(t, err)

	_, err = svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		Name:           "Wallet Two",
		WalletAddress:  "wallet-two",
	})
	require.NoError(t, err)
}

func TestChangeStateAppendsHistory(t *testing.T) {
	svc, org := newTestService(t)
	ctx := context.Background()

	emp, err := svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		Email:          "casey@employer.io",
	})
	require.NoError(t, err)

	ready, err := svc.ChangeState(ctx, emp.ID, StateReady, "system", "wallet verified")
	require.NoError(t, err)
	require.Equal(t, StateReady, ready.State)

	archived, err := svc.Archive(ctx, emp.ID, "owner@employer.io", "offboarded")
	require.NoError(t, err)
	require.Equal(t, StateArchived, archived.State)
	require.NotNil(t, archived.ArchivedAt)

	history, err := svc.History(ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// No-op transition writes no history.
	_, err = svc.ChangeState(ctx, emp.ID, StateArchived, "system", "")
	require.NoError(t, err)
	history, err = svc.History(ctx, emp.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)

	_, err = svc.ChangeState(ctx, emp.ID, State("bogus"), "system", "")
	require.Error(t, err)

	_, err = svc.ChangeState(ctx, "missing", StateReady, "system", "")
	require.Error(t, err)
}

func TestFindByWallet(t *testing.T) {
	svc, org := newTestService(t)
	ctx := context.Background()

	emp, err := svc.Invite(ctx, &InviteRequest{
		OrganizationID: org.ID,
		WalletAddress:  "lookup-wallet",
	})
	require.NoError(t, err)

	found, err := svc.FindByWallet(ctx, org.ID, "lookup-wallet")
	require.NoError(t, err)
	require.Equal(t, emp.ID, found.ID)

	_, err = svc.FindByWallet(ctx, org.ID, "missing-wallet")
	var identityErr *organization.IdentityError
	require.ErrorAs(t, err, &identityErr)
	require.Equal(t, organization.ReasonEmployeeNotFound, identityErr.Reason)
}
