package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cascade-payroll/internal/chain"
	"cascade-payroll/pkg/repository"
	"cascade-payroll/services/activity"
	"cascade-payroll/services/organization"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MirrorReason string

const (
	MirrorInvalidInput      MirrorReason = "invalid-input"
	MirrorDatabaseDisabled  MirrorReason = "database-disabled"
	MirrorIdentityRequired  MirrorReason = "identity-required"
	MirrorEmployeeNotFound  MirrorReason = "employee-not-found"
	MirrorStreamNotFound    MirrorReason = "stream-not-found"
	MirrorInsufficientFunds MirrorReason = "insufficient-funds"
	MirrorDatabaseError     MirrorReason = "database-error"
)

// MirrorWriteError reports a failed mirror write after an on-chain action
// already succeeded. Graceful reasons mean the dashboard will catch up later;
// the on-chain action is never rolled back either way.
type MirrorWriteError struct {
	Reason MirrorReason
	Err    error
}

func (e *MirrorWriteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mirror write failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("mirror write failed (%s)", e.Reason)
}

func (e *MirrorWriteError) Unwrap() error { return e.Err }

func (e *MirrorWriteError) Graceful() bool {
	switch e.Reason {
	case MirrorDatabaseDisabled, MirrorIdentityRequired, MirrorEmployeeNotFound, MirrorStreamNotFound:
		return true
	default:
		return false
	}
}

const overlayTTL = 15 * time.Minute

func overlayKey(signature string) string {
	return "cascade:overlay:withdrawal:" + signature
}

// PendingOverlay is the optimistic patch stored while the mirror has not yet
// caught up with a confirmed withdrawal.
type PendingOverlay struct {
	StreamID   string    `json:"stream_id"`
	Amount     int64     `json:"amount"`
	Signature  string    `json:"signature"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (s *Service) storeOverlay(ctx context.Context, overlay *PendingOverlay) {
	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(overlay)
	if err != nil {
		return
	}

	if err := s.redis.Set(ctx, overlayKey(overlay.Signature), payload, overlayTTL).Err(); err != nil {
		zap.L().Warn("failed to store pending withdrawal overlay",
			zap.String("signature", overlay.Signature),
			zap.Error(err),
		)
	}
}

// PendingOverlayFor returns the optimistic patch for a signature, if one is
// still alive.
func (s *Service) PendingOverlayFor(ctx context.Context, signature string) (*PendingOverlay, error) {
	if s.redis == nil {
		return nil, nil
	}

	payload, err := s.redis.Get(ctx, overlayKey(signature)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var overlay PendingOverlay
	if err := json.Unmarshal(payload, &overlay); err != nil {
		return nil, err
	}
	return &overlay, nil
}

func (s *Service) clearOverlay(ctx context.Context, signature string) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, overlayKey(signature))
}

type WithdrawalRecord struct {
	StreamID      string
	StreamAddress string
	Amount        int64
	Signature     string
	TokenAccount  string
	MintAddress   string
	Identity      organization.Identity
}

// RecordWithdrawal mirrors a confirmed on-chain withdrawal into the
// relational store: the stream's withdrawn total, an idempotent stream event
// keyed by signature and two activity rows. Graceful failures leave a pending
// overlay behind instead of an inconsistent mirror.
func (s *Service) RecordWithdrawal(ctx context.Context, rec *WithdrawalRecord) error {
	if rec.StreamID == "" || rec.StreamAddress == "" || rec.Amount <= 0 {
		return &MirrorWriteError{Reason: MirrorInvalidInput, Err: fmt.Errorf("stream id, address and a positive amount are required")}
	}

	err := s.recordWithdrawal(ctx, rec)
	if err == nil {
		s.clearOverlay(ctx, rec.Signature)
		return nil
	}

	var mirrorErr *MirrorWriteError
	if errors.As(err, &mirrorErr) && mirrorErr.Graceful() && rec.Signature != "" {
		s.storeOverlay(ctx, &PendingOverlay{
			StreamID:   rec.StreamID,
			Amount:     rec.Amount,
			Signature:  rec.Signature,
			RecordedAt: time.Now().UTC(),
		})
	}

	return err
}

func (s *Service) recordWithdrawal(ctx context.Context, rec *WithdrawalRecord) error {
	if !s.databaseEnabled {
		return &MirrorWriteError{Reason: MirrorDatabaseDisabled}
	}

	orgCtx, err := s.orgs.ResolveContext(ctx, rec.Identity)
	if err != nil {
		return mirrorIdentityError(err)
	}

	emp, err := s.employees.FindByWallet(ctx, orgCtx.OrganizationID, rec.Identity.Wallet)
	if err != nil {
		return mirrorIdentityError(err)
	}

	record, err := s.streams.FindOne(ctx, &Stream{
		ID:             rec.StreamID,
		OrganizationID: orgCtx.OrganizationID,
		EmployeeID:     emp.ID,
	})
	if err != nil {
		return &MirrorWriteError{Reason: MirrorDatabaseError, Err: err}
	}
	if record == nil {
		return &MirrorWriteError{Reason: MirrorStreamNotFound}
	}

	// Replayed confirmations are a no-op once the signature is mirrored.
	if rec.Signature != "" {
		existing, err := s.events.FindOne(ctx, &StreamEvent{Signature: &rec.Signature})
		if err != nil {
			return &MirrorWriteError{Reason: MirrorDatabaseError, Err: err}
		}
		if existing != nil {
			return nil
		}
	}

	available := record.VaultBalance()
	if rec.Amount > available {
		return &MirrorWriteError{
			Reason: MirrorInsufficientFunds,
			Err:    fmt.Errorf("amount exceeds available balance"),
		}
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyWithdrawnIncrement(ctx, tx, record, rec.Amount); err != nil {
			return err
		}
		return s.insertWithdrawalEvent(ctx, s.events.WithTrx(tx), orgCtx.OrganizationID, rec)
	}); err != nil {
		if mirror, ok := err.(*MirrorWriteError); ok {
			return mirror
		}
		// A concurrent confirmation of the same signature wins the insert
		// race and rolls this transaction back whole. The event exists, so
		// the replay contract holds.
		if rec.Signature != "" {
			existing, findErr := s.events.FindOne(ctx, &StreamEvent{Signature: &rec.Signature})
			if findErr == nil && existing != nil {
				return nil
			}
		}
		return &MirrorWriteError{Reason: MirrorDatabaseError, Err: err}
	}

	s.logWithdrawalActivity(ctx, orgCtx.OrganizationID, rec)
	return nil
}

// applyWithdrawnIncrement bumps withdrawn_amount with a compare-and-swap on
// the prior value, retrying once when a concurrent withdrawal moved it.
func (s *Service) applyWithdrawnIncrement(ctx context.Context, tx *gorm.DB, record *Stream, amount int64) error {
	now := time.Now().UTC()

	for attempt := 0; attempt < 2; attempt++ {
		result := tx.WithContext(ctx).Model(&Stream{}).
			Where("id = ? AND withdrawn_amount = ?", record.ID, record.WithdrawnAmount).
			Updates(map[string]interface{}{
				"withdrawn_amount": record.WithdrawnAmount + amount,
				"last_activity_at": now,
			})
		if result.Error != nil {
			return &MirrorWriteError{Reason: MirrorDatabaseError, Err: result.Error}
		}
		if result.RowsAffected > 0 {
			return nil
		}

		fresh, err := s.streams.WithTrx(tx).FindOne(ctx, &Stream{ID: record.ID})
		if err != nil {
			return &MirrorWriteError{Reason: MirrorDatabaseError, Err: err}
		}
		if fresh == nil {
			return &MirrorWriteError{Reason: MirrorStreamNotFound}
		}
		if amount > fresh.VaultBalance() {
			return &MirrorWriteError{Reason: MirrorInsufficientFunds, Err: fmt.Errorf("amount exceeds available balance")}
		}
		record = fresh
	}

	return &MirrorWriteError{Reason: MirrorDatabaseError, Err: fmt.Errorf("withdrawn amount moved concurrently twice")}
}

func (s *Service) insertWithdrawalEvent(ctx context.Context, events repository.Repository[StreamEvent], organizationID string, rec *WithdrawalRecord) error {
	metadata, _ := json.Marshal(map[string]interface{}{
		"streamAddress": rec.StreamAddress,
		"amount":        rec.Amount,
		"signature":     nullable(rec.Signature),
		"mintAddress":   nullable(rec.MintAddress),
	})

	event := &StreamEvent{
		ID:             s.node.Generate().String(),
		StreamID:       rec.StreamID,
		OrganizationID: organizationID,
		EventType:      activity.EventStreamWithdrawn,
		ActorType:      activity.ActorEmployee,
		ActorAddress:   rec.Identity.Wallet,
		Signature:      nullable(rec.Signature),
		TokenAccount:   rec.TokenAccount,
		Amount:         rec.Amount,
		OccurredAt:     time.Now().UTC(),
		Metadata:       metadata,
	}

	return events.Create(ctx, event)
}

// logWithdrawalActivity writes the employee-framed feed row plus the
// employer-framed one flagged visibleToEmployer. Feed rows are best-effort:
// a failure never fails the mirror write.
func (s *Service) logWithdrawalActivity(ctx context.Context, organizationID string, rec *WithdrawalRecord) {
	amountLabel := chain.FormatBaseUnits(uint64(rec.Amount), chain.SupportedStablecoinDecimals)

	employeeMeta, _ := json.Marshal(map[string]interface{}{
		"amount":        rec.Amount,
		"streamAddress": rec.StreamAddress,
		"signature":     nullable(rec.Signature),
		"actor":         "employee",
	})
	if _, err := s.activities.Record(ctx, &activity.RecordRequest{
		OrganizationID: organizationID,
		StreamID:       rec.StreamID,
		Title:          "Withdrawal confirmed",
		Description:    fmt.Sprintf("Withdrew %s tokens", amountLabel),
		ActivityType:   activity.EventStreamWithdrawn,
		ActorType:      activity.ActorEmployee,
		ActorAddress:   rec.Identity.Wallet,
		Metadata:       employeeMeta,
	}); err != nil {
		zap.L().Warn("failed to log employee withdrawal activity", zap.Error(err))
	}

	employerMeta, _ := json.Marshal(map[string]interface{}{
		"amount":            rec.Amount,
		"streamAddress":     rec.StreamAddress,
		"signature":         nullable(rec.Signature),
		"actor":             "employee",
		"visibleToEmployer": true,
	})
	if _, err := s.activities.Record(ctx, &activity.RecordRequest{
		OrganizationID: organizationID,
		StreamID:       rec.StreamID,
		Title:          "Employee withdrew funds",
		Description:    fmt.Sprintf("An employee withdrew %s tokens", amountLabel),
		ActivityType:   activity.EventStreamWithdrawn,
		ActorType:      activity.ActorEmployee,
		ActorAddress:   rec.Identity.Wallet,
		Metadata:       employerMeta,
	}); err != nil {
		zap.L().Warn("failed to log employer-facing withdrawal activity", zap.Error(err))
	}
}

func mirrorIdentityError(err error) error {
	var identityErr *organization.IdentityError
	if !errors.As(err, &identityErr) {
		return &MirrorWriteError{Reason: MirrorDatabaseError, Err: err}
	}

	switch identityErr.Reason {
	case organization.ReasonDatabaseDisabled:
		return &MirrorWriteError{Reason: MirrorDatabaseDisabled, Err: err}
	case organization.ReasonIdentityRequired:
		return &MirrorWriteError{Reason: MirrorIdentityRequired, Err: err}
	case organization.ReasonEmployeeNotFound, organization.ReasonOrganizationNotFound:
		return &MirrorWriteError{Reason: MirrorEmployeeNotFound, Err: err}
	default:
		return &MirrorWriteError{Reason: MirrorDatabaseError, Err: err}
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
