package organization

import (
	"context"
	"time"

	"cascade-payroll/pkg/config"
	"cascade-payroll/pkg/errutil"
	"cascade-payroll/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	databaseEnabled bool

	orgs  repository.Repository[Organization]
	users repository.Repository[OrganizationUser]
	tasks repository.Repository[OnboardingTask]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		databaseEnabled: p.Config.Database.Enabled,

		orgs:  repository.ProvideStore[Organization](p.DB),
		users: repository.ProvideStore[OrganizationUser](p.DB),
		tasks: repository.ProvideStore[OnboardingTask](p.DB),
	}
}

type CreateOrganizationRequest struct {
	Name           string
	OwnerEmail     string
	OwnerWallet    string
	PayrollCadence PayrollCadence
	Cluster        Cluster
	DefaultMint    string
}

func (s *Service) CreateOrganization(ctx context.Context, req *CreateOrganizationRequest) (*Organization, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
	)

	if req.Name == "" {
		return nil, errutil.ValidationFailed("organization name is required")
	}

	cadence := req.PayrollCadence
	if cadence == "" {
		cadence = CadenceMonthly
	}
	cluster := req.Cluster
	if cluster == "" {
		cluster = ClusterDevnet
	}

	org := &Organization{
		ID:             s.node.Generate().String(),
		Name:           req.Name,
		Slug:           slug.Make(req.Name),
		AccountState:   StateNewAccount,
		PayrollCadence: cadence,
		Cluster:        cluster,
		PrimaryWallet:  req.OwnerWallet,
		DefaultMint:    req.DefaultMint,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orgs.WithTrx(tx).Create(ctx, org); err != nil {
			return err
		}

		owner := &OrganizationUser{
			ID:             s.node.Generate().String(),
			OrganizationID: org.ID,
			Email:          Identity{Email: req.OwnerEmail}.normalized().Email,
			WalletAddress:  Identity{Wallet: req.OwnerWallet}.normalized().Wallet,
			Role:           RoleEmployer,
		}
		return s.users.WithTrx(tx).Create(ctx, owner)
	}); err != nil {
		zapLog.Error("failed to create organization", zap.Error(err))
		return nil, err
	}

	zapLog.Info("organization created", zap.String("organization_id", org.ID), zap.String("slug", org.Slug))
	return org, nil
}

type UpdateAccountStateResult struct {
	Updated bool
	Reason  string
	State   AccountState
}

// UpdateAccountState advances an organization's account state. Transitions
// are monotonic: attempts to move backwards or sideways report
// "not-an-upgrade" without writing.
func (s *Service) UpdateAccountState(ctx context.Context, organizationID string, next AccountState) (*UpdateAccountStateResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("organization_id", organizationID),
	)

	nextOrd, ok := next.Ordinal()
	if !ok {
		return nil, errutil.ValidationFailed("unknown account state")
	}

	org, err := s.orgs.FindOne(ctx, &Organization{ID: organizationID})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, &IdentityError{Reason: ReasonOrganizationNotFound}
	}

	currentOrd, ok := org.AccountState.Ordinal()
	if !ok {
		currentOrd = 0
	}

	if nextOrd <= currentOrd {
		return &UpdateAccountStateResult{Updated: false, Reason: "not-an-upgrade", State: org.AccountState}, nil
	}

	if err := s.orgs.Update(ctx, organizationID, &Organization{AccountState: next}); err != nil {
		zapLog.Error("failed to update account state", zap.Error(err))
		return nil, err
	}

	zapLog.Info("account state upgraded",
		zap.String("from", org.AccountState.String()),
		zap.String("to", next.String()),
	)

	return &UpdateAccountStateResult{Updated: true, State: next}, nil
}

// CompleteOnboardingTask records a setup step. Completing the same task again
// refreshes completed_at and metadata instead of failing on the composite
// key.
func (s *Service) CompleteOnboardingTask(ctx context.Context, organizationID string, taskName TaskName, metadata datatypes.JSON) (*OnboardingTask, error) {
	if !taskName.Valid() {
		return nil, errutil.ValidationFailed("unknown onboarding task")
	}

	record := &OnboardingTask{
		OrganizationID: organizationID,
		Task:           taskName,
		CompletedAt:    time.Now().UTC(),
		Metadata:       metadata,
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "task"}},
			DoUpdates: clause.AssignmentColumns([]string{"completed_at", "metadata"}),
		}).
		Create(record).Error; err != nil {
		return nil, err
	}

	return record, nil
}

type SetupSnapshot struct {
	OrganizationID string
	AccountState   AccountState
	CompletedTasks []TaskName
	MemberCount    int64
}

func (s *Service) GetSetupSnapshot(ctx context.Context, organizationID string) (*SetupSnapshot, error) {
	org, err := s.orgs.FindOne(ctx, &Organization{ID: organizationID})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, &IdentityError{Reason: ReasonOrganizationNotFound}
	}

	tasks, err := s.tasks.Find(ctx, &OnboardingTask{OrganizationID: organizationID})
	if err != nil {
		return nil, err
	}

	members, err := s.users.Count(ctx, &OrganizationUser{OrganizationID: organizationID})
	if err != nil {
		return nil, err
	}

	snapshot := &SetupSnapshot{
		OrganizationID: org.ID,
		AccountState:   org.AccountState,
		MemberCount:    members,
	}
	for _, task := range tasks {
		snapshot.CompletedTasks = append(snapshot.CompletedTasks, task.Task)
	}

	return snapshot, nil
}

// AddMember binds an identity to the organization with a role. Used when
// inviting employees so their wallet or email resolves back to this
// organization.
func (s *Service) AddMember(ctx context.Context, organizationID string, identity Identity, role Role) (*OrganizationUser, error) {
	return s.addMember(ctx, s.users, organizationID, identity, role)
}

// AddMemberTx writes the membership through the caller's transaction so it
// commits or rolls back with the caller's other writes.
func (s *Service) AddMemberTx(ctx context.Context, tx *gorm.DB, organizationID string, identity Identity, role Role) (*OrganizationUser, error) {
	return s.addMember(ctx, s.users.WithTrx(tx), organizationID, identity, role)
}

func (s *Service) addMember(ctx context.Context, users repository.Repository[OrganizationUser], organizationID string, identity Identity, role Role) (*OrganizationUser, error) {
	identity = identity.normalized()
	if identity.Email == "" && identity.Wallet == "" {
		return nil, &IdentityError{Reason: ReasonIdentityRequired}
	}

	member := &OrganizationUser{
		ID:             s.node.Generate().String(),
		OrganizationID: organizationID,
		Email:          identity.Email,
		WalletAddress:  identity.Wallet,
		Role:           role,
	}

	if err := users.Create(ctx, member); err != nil {
		return nil, err
	}

	return member, nil
}
