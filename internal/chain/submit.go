package chain

import (
	"context"
	"fmt"
	"time"

	"cascade-payroll/pkg/config"

	"go.uber.org/zap"
)

type TxVersion string

const (
	TxLegacy TxVersion = "legacy"
	TxV0     TxVersion = "v0"
)

type SubmissionState int

const (
	StateBuilding SubmissionState = iota
	StateSigning
	StateSubmitted
	StateConfirmed
	StateFailed
	StateTimedOut
)

func (s SubmissionState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateSigning:
		return "signing"
	case StateSubmitted:
		return "submitted"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SendFunc builds, signs and broadcasts a transaction at the requested
// version, returning the signature.
type SendFunc func(ctx context.Context, version TxVersion) (string, error)

type Receipt struct {
	Signature string
	Slot      uint64
	State     SubmissionState
}

// Submitter drives a transaction from signing through confirmation. Legacy
// transactions are attempted first; when the wallet or RPC demands a
// versioned transaction the send is retried once as v0. A user declining the
// signature prompt short-circuits without the v0 retry.
type Submitter struct {
	client   Client
	attempts int
	delay    time.Duration
}

func NewSubmitter(cfg *config.Config, client Client) *Submitter {
	return &Submitter{
		client:   client,
		attempts: cfg.Chain.ConfirmAttempts,
		delay:    cfg.Chain.ConfirmDelay,
	}
}

func (s *Submitter) Submit(ctx context.Context, send SendFunc) (*Receipt, error) {
	signature, err := send(ctx, TxLegacy)
	if err != nil {
		message := err.Error()

		if IsUserCancellation(message) {
			return nil, &UserCancelledError{Cause: message}
		}

		if !ShouldRetryWithV0(message) {
			return nil, err
		}

		zap.L().Warn("legacy sign-and-send failed, retrying v0 transaction", zap.String("cause", message))

		signature, err = send(ctx, TxV0)
		if err != nil {
			if IsUserCancellation(err.Error()) {
				return nil, &UserCancelledError{Cause: err.Error()}
			}
			return nil, err
		}
	}

	zap.L().Info("transaction submitted",
		zap.String("signature", signature),
		zap.String("state", StateSubmitted.String()),
	)

	return s.awaitConfirmation(ctx, signature)
}

func (s *Submitter) awaitConfirmation(ctx context.Context, signature string) (*Receipt, error) {
	for attempt := 0; attempt < s.attempts; attempt++ {
		statuses, err := s.client.GetSignatureStatuses(ctx, signature)
		if err != nil {
			// Network hiccups while polling retry until attempts are exhausted.
			if attempt == s.attempts-1 {
				return nil, fmt.Errorf("unable to verify transaction %s: %w", signature, err)
			}
		} else if len(statuses) > 0 && statuses[0] != nil {
			status := statuses[0]

			if status.Failed() {
				zap.L().Error("transaction failed on-chain",
					zap.String("signature", signature),
					zap.String("state", StateFailed.String()),
					zap.ByteString("chain_err", status.Err),
				)
				return nil, &OnChainError{Signature: signature, Detail: string(status.Err)}
			}

			// Any reported confirmation status or landed slot counts as
			// confirmed.
			if status.ConfirmationStatus != "" || status.Slot > 0 {
				zap.L().Info("transaction confirmed",
					zap.String("signature", signature),
					zap.String("state", StateConfirmed.String()),
					zap.Uint64("slot", status.Slot),
					zap.String("confirmation_status", status.ConfirmationStatus),
				)
				return &Receipt{Signature: signature, Slot: status.Slot, State: StateConfirmed}, nil
			}
		}

		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	zap.L().Warn("confirmation polling exhausted",
		zap.String("signature", signature),
		zap.String("state", StateTimedOut.String()),
	)

	return nil, &ConfirmationTimeoutError{Signature: signature}
}
