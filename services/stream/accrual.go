package stream

import (
	"fmt"
	"time"

	"cascade-payroll/internal/chain"
	"cascade-payroll/pkg/errutil"
)

// Accrual is the earnings math for one stream at one instant. Earnings vest
// on whole-hour boundaries and never exceed what was deposited.
type Accrual struct {
	SecondsElapsed int64
	HoursElapsed   int64
	TotalEarned    int64
	Available      int64
}

func ComputeAccrual(account *chain.PaymentStream, now time.Time) Accrual {
	secondsElapsed := now.Unix() - account.CreatedAt
	if secondsElapsed < 0 {
		secondsElapsed = 0
	}
	hoursElapsed := secondsElapsed / 3600

	totalEarned := hoursElapsed * int64(account.HourlyRate)
	if totalEarned > int64(account.TotalDeposited) {
		totalEarned = int64(account.TotalDeposited)
	}

	return Accrual{
		SecondsElapsed: secondsElapsed,
		HoursElapsed:   hoursElapsed,
		TotalEarned:    totalEarned,
		Available:      totalEarned - int64(account.WithdrawnAmount),
	}
}

// AvailableForDisplay clamps a negative available balance to zero for
// rendering. Validation keeps the raw value.
func (a Accrual) AvailableForDisplay() int64 {
	if a.Available < 0 {
		return 0
	}
	return a.Available
}

// MinutesUntilNextVest reports roughly how long until the next hourly unlock,
// always at least one minute.
func (a Accrual) MinutesUntilNextVest() int64 {
	secondsUntilNextHour := 3600 - a.SecondsElapsed%3600
	if secondsUntilNextHour < 0 {
		secondsUntilNextHour = 0
	}
	minutes := (secondsUntilNextHour + 59) / 60
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

type InsufficientKind int

const (
	KindNoRemainingBalance InsufficientKind = iota
	KindNothingVestedYet
	KindInsufficientVested
)

type InsufficientFundsError struct {
	Kind    InsufficientKind
	message string
}

func (e *InsufficientFundsError) Error() string { return e.message }

// ValidateWithdrawal runs the pre-submission checks against the live on-chain
// account, in the order the wallet flow reports them.
func ValidateWithdrawal(account *chain.PaymentStream, employee, vault, mint chain.Address, requested int64, now time.Time) error {
	if account.Employee != employee {
		return errutil.Forbidden("Connected wallet does not match the employee on this stream.")
	}
	if !account.IsActive {
		return errutil.ValidationFailed("Stream is not active. Withdrawals are disabled.")
	}
	if account.Vault != vault {
		return errutil.ValidationFailed("Stream vault mismatch. Please refresh and try again.")
	}
	if account.Mint != mint {
		return errutil.ValidationFailed("Stream mint mismatch. Please refresh and try again.")
	}

	accrual := ComputeAccrual(account, now)
	if requested <= accrual.Available {
		return nil
	}

	decimals := chain.SupportedStablecoinDecimals

	if account.TotalDeposited <= account.WithdrawnAmount {
		return &InsufficientFundsError{
			Kind: KindNoRemainingBalance,
			message: fmt.Sprintf(
				"Stream has no remaining balance to withdraw. Deposited %s tokens and already withdrawn %s tokens.",
				chain.FormatBaseUnits(account.TotalDeposited, decimals),
				chain.FormatBaseUnits(account.WithdrawnAmount, decimals),
			),
		}
	}

	if accrual.HoursElapsed <= 0 {
		minutes := accrual.MinutesUntilNextVest()
		plural := "s"
		if minutes == 1 {
			plural = ""
		}
		return &InsufficientFundsError{
			Kind: KindNothingVestedYet,
			message: fmt.Sprintf(
				"No earnings vested yet. Earnings unlock hourly; try again in about %d minute%s.",
				minutes, plural,
			),
		}
	}

	return &InsufficientFundsError{
		Kind: KindInsufficientVested,
		message: fmt.Sprintf(
			"Insufficient vested balance. Requested %s tokens, but only %s tokens are available right now.",
			chain.FormatBaseUnits(uint64(requested), decimals),
			chain.FormatBaseUnits(uint64(accrual.AvailableForDisplay()), decimals),
		),
	}
}
