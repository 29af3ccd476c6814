package stream

import (
	"context"
	"encoding/json"
	"time"

	"cascade-payroll/internal/chain"
	"cascade-payroll/pkg/config"
	"cascade-payroll/pkg/errutil"
	"cascade-payroll/pkg/repository"
	"cascade-payroll/services/activity"
	"cascade-payroll/services/employee"
	"cascade-payroll/services/organization"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	redis *goredis.Client

	chain     chain.Client
	deriver   *chain.Deriver
	submitter *chain.Submitter

	orgs       *organization.Service
	employees  *employee.Service
	activities *activity.Service

	databaseEnabled bool
	refetchDelay    time.Duration

	streams repository.Repository[Stream]
	events  repository.Repository[StreamEvent]
	intents repository.Repository[WithdrawalIntent]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Redis     *goredis.Client `optional:"true"`
	Config    *config.Config
	Chain     chain.Client
	Deriver   *chain.Deriver
	Submitter *chain.Submitter

	Orgs       *organization.Service
	Employees  *employee.Service
	Activities *activity.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		redis: p.Redis,

		chain:     p.Chain,
		deriver:   p.Deriver,
		submitter: p.Submitter,

		orgs:       p.Orgs,
		employees:  p.Employees,
		activities: p.Activities,

		databaseEnabled: p.Config.Database.Enabled,
		refetchDelay:    p.Config.Chain.RefetchDelay,

		streams: repository.ProvideStore[Stream](p.DB),
		events:  repository.ProvideStore[StreamEvent](p.DB),
		intents: repository.ProvideStore[WithdrawalIntent](p.DB),
	}
}

type WithdrawRequest struct {
	StreamID string
	Amount   float64

	Employer string
	Employee string
	Mint     string

	// Stream and Vault override derivation when the caller already knows
	// the addresses.
	Stream string
	Vault  string

	TokenAccount string
	Identity     organization.Identity

	Send chain.SendFunc
}

type WithdrawResult struct {
	Receipt *chain.Receipt
	Amount  int64

	// Mirrored is false when a graceful mirror failure left an overlay
	// behind; Notice then carries the user-facing explanation.
	Mirrored bool
	Notice   string
}

// Withdraw runs the full employee withdrawal: validate against the live
// on-chain account, submit and confirm the transaction, then mirror the
// result. A mirror failure after confirmation never rolls anything back.
func (s *Service) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("stream_id", req.StreamID),
	)

	if req.StreamID == "" {
		return nil, errutil.ValidationFailed("Invalid stream identifier.")
	}
	if req.Amount <= 0 {
		return nil, errutil.ValidationFailed("Withdrawal amount must be greater than 0.")
	}
	if req.Send == nil {
		return nil, errutil.ValidationFailed("transaction sender is required")
	}

	employer, err := chain.ParseAddress(req.Employer)
	if err != nil {
		return nil, err
	}
	employeeAddr, err := chain.ParseAddress(req.Employee)
	if err != nil {
		return nil, err
	}
	mint, err := chain.ParseAddress(req.Mint)
	if err != nil {
		return nil, err
	}

	streamAddr, err := s.resolveStreamAddress(req.Stream, employer, employeeAddr)
	if err != nil {
		return nil, err
	}
	vaultAddr, err := s.resolveVaultAddress(req.Vault, streamAddr)
	if err != nil {
		return nil, err
	}

	decimals, err := s.chain.FetchMintDecimals(ctx, mint)
	if err != nil {
		return nil, err
	}

	requested, err := chain.ToBaseUnits(req.Amount, decimals)
	if err != nil {
		return nil, err
	}

	account, err := s.chain.FetchStreamAccount(ctx, streamAddr)
	if err != nil {
		if err == chain.ErrAccountNotFound {
			return nil, errutil.NotFound("Stream not found on-chain for the connected cluster.")
		}
		return nil, err
	}

	if err := ValidateWithdrawal(account, employeeAddr, vaultAddr, mint, requested, time.Now()); err != nil {
		return nil, err
	}

	intent := &WithdrawalIntent{
		ID:       s.node.Generate().String(),
		StreamID: req.StreamID,
		Amount:   requested,
		Status:   IntentPending,
	}
	if s.databaseEnabled {
		if err := s.intents.Create(ctx, intent); err != nil {
			zapLog.Warn("failed to record withdrawal intent", zap.Error(err))
		}
	}

	receipt, err := s.submitter.Submit(ctx, req.Send)
	if err != nil {
		if s.databaseEnabled {
			_ = s.intents.Update(ctx, intent.ID, &WithdrawalIntent{Status: IntentFailed})
		}
		return nil, err
	}

	if s.databaseEnabled {
		_ = s.intents.Update(ctx, intent.ID, &WithdrawalIntent{Status: IntentConfirmed, Signature: receipt.Signature})
	}

	result := &WithdrawResult{Receipt: receipt, Amount: requested, Mirrored: true}

	mirrorErr := s.RecordWithdrawal(ctx, &WithdrawalRecord{
		StreamID:      req.StreamID,
		StreamAddress: streamAddr.String(),
		Amount:        requested,
		Signature:     receipt.Signature,
		TokenAccount:  req.TokenAccount,
		MintAddress:   mint.String(),
		Identity:      req.Identity,
	})
	if mirrorErr != nil {
		mirror, ok := mirrorErr.(*MirrorWriteError)
		if !ok || !mirror.Graceful() {
			return nil, mirrorErr
		}

		zapLog.Warn("mirror write deferred after confirmed withdrawal",
			zap.String("signature", receipt.Signature),
			zap.String("reason", string(mirror.Reason)),
		)

		result.Mirrored = false
		result.Notice = "Withdrawal confirmed on-chain. Dashboard will sync shortly."
		return result, nil
	}

	if s.databaseEnabled {
		_ = s.intents.Update(ctx, intent.ID, &WithdrawalIntent{Status: IntentMirrored})
	}

	zapLog.Info("withdrawal mirrored",
		zap.String("signature", receipt.Signature),
		zap.Int64("amount", requested),
	)

	return result, nil
}

func (s *Service) resolveStreamAddress(override string, employer, employeeAddr chain.Address) (chain.Address, error) {
	if override != "" {
		return chain.ParseAddress(override)
	}
	addr, _, err := s.deriver.DeriveStream(employer, employeeAddr)
	return addr, err
}

func (s *Service) resolveVaultAddress(override string, streamAddr chain.Address) (chain.Address, error) {
	if override != "" {
		return chain.ParseAddress(override)
	}
	addr, _, err := s.deriver.DeriveVault(streamAddr)
	return addr, err
}

type CreateStreamRequest struct {
	OrganizationID string
	EmployeeID     string
	StreamAddress  string
	VaultAddress   string
	MintAddress    string
	HourlyRate     int64
	Deposit        int64
	ActorAddress   string
	Signature      string
}

// CreateStream mirrors a newly created on-chain stream.
func (s *Service) CreateStream(ctx context.Context, req *CreateStreamRequest) (*Stream, error) {
	if req.OrganizationID == "" || req.EmployeeID == "" || req.StreamAddress == "" {
		return nil, errutil.ValidationFailed("organization, employee and stream address are required")
	}
	if req.HourlyRate <= 0 {
		return nil, errutil.ValidationFailed("hourly rate must be greater than 0")
	}

	now := time.Now().UTC()
	record := &Stream{
		ID:              s.node.Generate().String(),
		OrganizationID:  req.OrganizationID,
		EmployeeID:      req.EmployeeID,
		StreamAddress:   req.StreamAddress,
		VaultAddress:    req.VaultAddress,
		MintAddress:     req.MintAddress,
		HourlyRate:      req.HourlyRate,
		TotalDeposited:  req.Deposit,
		WithdrawnAmount: 0,
		State:           StateActive,
		LastActivityAt:  now,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.streams.WithTrx(tx).Create(ctx, record); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, record, activity.EventStreamCreated, activity.ActorEmployer, req.ActorAddress, req.Deposit, req.Signature)
	}); err != nil {
		return nil, err
	}

	return record, nil
}

// TopUp mirrors an employer deposit into the stream's vault.
func (s *Service) TopUp(ctx context.Context, streamID string, amount int64, actorAddress, signature string) (*Stream, error) {
	if amount <= 0 {
		return nil, errutil.ValidationFailed("top up amount must be greater than 0")
	}

	record, err := s.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Model(&Stream{}).
			Where("id = ?", streamID).
			Updates(map[string]interface{}{
				"total_deposited":  gorm.Expr("total_deposited + ?", amount),
				"last_activity_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		return s.appendEvent(ctx, tx, record, activity.EventStreamTopUp, activity.ActorEmployer, actorAddress, amount, signature)
	}); err != nil {
		return nil, err
	}

	return s.Get(ctx, streamID)
}

// ChangeState transitions the mirror's stream state, recording the matching
// lifecycle event.
func (s *Service) ChangeState(ctx context.Context, streamID string, next State, actorAddress, signature string) (*Stream, error) {
	if !next.Valid() {
		return nil, errutil.ValidationFailed("unknown stream state")
	}

	record, err := s.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if record.State == next {
		return record, nil
	}

	var eventType activity.EventType
	switch next {
	case StateClosed:
		eventType = activity.EventStreamClosed
	case StateActive:
		eventType = activity.EventStreamReactivated
	case StateSuspended:
		eventType = activity.EventStreamSuspended
	default:
		eventType = activity.EventStreamRefreshActivity
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.streams.WithTrx(tx).Update(ctx, streamID, &Stream{State: next, LastActivityAt: time.Now().UTC()}); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, record, eventType, activity.ActorEmployer, actorAddress, 0, signature)
	}); err != nil {
		return nil, err
	}

	return s.Get(ctx, streamID)
}

// EmergencyWithdraw mirrors an employer clawback: the remaining vault
// balance is returned to the employer and the stream is suspended.
func (s *Service) EmergencyWithdraw(ctx context.Context, streamID, actorAddress, signature string) (*Stream, error) {
	record, err := s.Get(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if record.State == StateClosed {
		return nil, errutil.Conflict("stream is already closed")
	}

	amount := record.VaultBalance()
	if amount <= 0 {
		return nil, errutil.Conflict("vault is already empty")
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Model(&Stream{}).
			Where("id = ?", streamID).
			Updates(map[string]interface{}{
				"total_deposited":  gorm.Expr("withdrawn_amount"),
				"state":            StateSuspended,
				"last_activity_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		return s.appendEvent(ctx, tx, record, activity.EventStreamEmergencyWithdraw, activity.ActorEmployer, actorAddress, amount, signature)
	}); err != nil {
		return nil, err
	}

	s.logEmergencyWithdrawActivity(ctx, record, amount, actorAddress, signature)

	return s.Get(ctx, streamID)
}

// logEmergencyWithdrawActivity is best-effort, matching the other feed
// writers.
func (s *Service) logEmergencyWithdrawActivity(ctx context.Context, record *Stream, amount int64, actorAddress, signature string) {
	meta, _ := json.Marshal(map[string]interface{}{
		"amount":        amount,
		"streamAddress": record.StreamAddress,
		"signature":     nullable(signature),
		"actor":         "employer",
	})
	if _, err := s.activities.Record(ctx, &activity.RecordRequest{
		OrganizationID: record.OrganizationID,
		StreamID:       record.ID,
		Title:          "Emergency withdrawal executed",
		Description:    "Employer withdrew funds from stream (emergency clawback)",
		ActivityType:   activity.EventStreamEmergencyWithdraw,
		ActorType:      activity.ActorEmployer,
		ActorAddress:   actorAddress,
		Metadata:       meta,
	}); err != nil {
		zap.L().Warn("failed to log emergency withdrawal activity", zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, streamID string) (*Stream, error) {
	record, err := s.streams.FindOne(ctx, &Stream{ID: streamID})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errutil.NotFound("stream not found")
	}
	return record, nil
}

func (s *Service) ListByOrganization(ctx context.Context, organizationID string) ([]*Stream, error) {
	return s.streams.Find(ctx, &Stream{OrganizationID: organizationID})
}

func (s *Service) EventsForStream(ctx context.Context, streamID string) ([]*StreamEvent, error) {
	return s.events.Find(ctx, &StreamEvent{StreamID: streamID})
}

func (s *Service) appendEvent(ctx context.Context, tx *gorm.DB, record *Stream, eventType activity.EventType, actorType activity.ActorType, actorAddress string, amount int64, signature string) error {
	return s.events.WithTrx(tx).Create(ctx, &StreamEvent{
		ID:             s.node.Generate().String(),
		StreamID:       record.ID,
		OrganizationID: record.OrganizationID,
		EventType:      eventType,
		ActorType:      actorType,
		ActorAddress:   actorAddress,
		Signature:      nullable(signature),
		Amount:         amount,
		OccurredAt:     time.Now().UTC(),
	})
}
