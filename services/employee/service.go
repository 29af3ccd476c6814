package employee

import (
	"context"
	"time"

	"cascade-payroll/pkg/db/option"
	"cascade-payroll/pkg/errutil"
	"cascade-payroll/pkg/repository"
	"cascade-payroll/services/organization"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	orgs *organization.Service

	employees repository.Repository[Employee]
	history   repository.Repository[StatusHistory]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
	Orgs *organization.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		orgs: p.Orgs,

		employees: repository.ProvideStore[Employee](p.DB),
		history:   repository.ProvideStore[StatusHistory](p.DB),
	}
}

type InviteRequest struct {
	OrganizationID string
	Name           string
	Email          string
	WalletAddress  string
	EmploymentType EmploymentType
	Actor          string
}

// Invite creates the employee record and its organization membership in one
// transaction. The employee starts in draft and is transitioned to invited,
// leaving a history row for each hop.
func (s *Service) Invite(ctx context.Context, req *InviteRequest) (*Employee, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("organization_id", req.OrganizationID),
	)

	if req.OrganizationID == "" {
		return nil, errutil.ValidationFailed("organization id is required")
	}
	if req.Email == "" && req.WalletAddress == "" {
		return nil, errutil.ValidationFailed("email or wallet address is required")
	}

	if req.Email != "" {
		existing, err := s.employees.FindOne(ctx, &Employee{OrganizationID: req.OrganizationID, Email: req.Email})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, errutil.Conflict("an employee with this email already exists")
		}
	}

	employmentType := req.EmploymentType
	if employmentType == "" {
		employmentType = FullTime
	}

	emp := &Employee{
		ID:             s.node.Generate().String(),
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Email:          req.Email,
		WalletAddress:  req.WalletAddress,
		EmploymentType: employmentType,
		State:          StateDraft,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.employees.WithTrx(tx).Create(ctx, emp); err != nil {
			return err
		}

		if _, err := s.orgs.AddMemberTx(ctx, tx, req.OrganizationID, organization.Identity{
			Email:  req.Email,
			Wallet: req.WalletAddress,
		}, organization.RoleEmployee); err != nil {
			return err
		}

		if err := s.employees.WithTrx(tx).Update(ctx, emp.ID, &Employee{State: StateInvited}); err != nil {
			return err
		}

		return s.appendHistory(ctx, tx, emp.ID, StateDraft, StateInvited, req.Actor, "invited")
	}); err != nil {
		zapLog.Error("failed to invite employee", zap.Error(err))
		return nil, err
	}

	emp.State = StateInvited
	zapLog.Info("employee invited", zap.String("employee_id", emp.ID))
	return emp, nil
}

// ChangeState transitions an employee and appends the transition to the
// status history.
func (s *Service) ChangeState(ctx context.Context, employeeID string, next State, actor, note string) (*Employee, error) {
	if !next.Valid() {
		return nil, errutil.ValidationFailed("unknown employee state")
	}

	emp, err := s.employees.FindOne(ctx, &Employee{ID: employeeID})
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, errutil.NotFound("employee not found")
	}

	if emp.State == next {
		return emp, nil
	}

	from := emp.State
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := &Employee{State: next}
		if next == StateArchived {
			now := time.Now().UTC()
			update.ArchivedAt = &now
		}

		if err := s.employees.WithTrx(tx).Update(ctx, employeeID, update); err != nil {
			return err
		}

		return s.appendHistory(ctx, tx, employeeID, from, next, actor, note)
	}); err != nil {
		return nil, err
	}

	return s.employees.FindOne(ctx, &Employee{ID: employeeID})
}

// Archive is a convenience wrapper stamping archived_at.
func (s *Service) Archive(ctx context.Context, employeeID, actor, note string) (*Employee, error) {
	return s.ChangeState(ctx, employeeID, StateArchived, actor, note)
}

func (s *Service) Get(ctx context.Context, employeeID string) (*Employee, error) {
	emp, err := s.employees.FindOne(ctx, &Employee{ID: employeeID})
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, errutil.NotFound("employee not found")
	}
	return emp, nil
}

func (s *Service) List(ctx context.Context, organizationID string) ([]*Employee, error) {
	return s.employees.Find(ctx, &Employee{OrganizationID: organizationID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "asc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

// FindByWallet resolves an employee inside an organization by wallet address.
func (s *Service) FindByWallet(ctx context.Context, organizationID, wallet string) (*Employee, error) {
	emp, err := s.employees.FindOne(ctx, &Employee{OrganizationID: organizationID, WalletAddress: wallet})
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, &organization.IdentityError{Reason: organization.ReasonEmployeeNotFound}
	}
	return emp, nil
}

func (s *Service) History(ctx context.Context, employeeID string) ([]*StatusHistory, error) {
	return s.history.Find(ctx, &StatusHistory{EmployeeID: employeeID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "created_at",
		OrderBy: "desc",
		Allow:   map[string]bool{"created_at": true},
	}))
}

func (s *Service) appendHistory(ctx context.Context, tx *gorm.DB, employeeID string, from, to State, actor, note string) error {
	return s.history.WithTrx(tx).Create(ctx, &StatusHistory{
		ID:         s.node.Generate().String(),
		EmployeeID: employeeID,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		Note:       note,
	})
}
