package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cascade-payroll/internal/chain"
)

func baseAccount() *chain.PaymentStream {
	return &chain.PaymentStream{
		Employee:        addrFromByte(2),
		Vault:           addrFromByte(4),
		Mint:            addrFromByte(3),
		HourlyRate:      1_000_000,
		TotalDeposited:  10_000_000,
		WithdrawnAmount: 0,
		CreatedAt:       1_700_000_000,
		IsActive:        true,
	}
}

func addrFromByte(b byte) chain.Address {
	var a chain.Address
	for i := range a {
		a[i] = b
	}
	return a
}

func at(account *chain.PaymentStream, secondsAfterCreate int64) time.Time {
	return time.Unix(account.CreatedAt+secondsAfterCreate, 0)
}

func TestComputeAccrualVestsHourly(t *testing.T) {
	account := baseAccount()

	// Nothing vests inside the first hour.
	accrual := ComputeAccrual(account, at(account, 3599))
	require.Equal(t, int64(0), accrual.HoursElapsed)
	require.Equal(t, int64(0), accrual.TotalEarned)
	require.Equal(t, int64(0), accrual.Available)

	accrual = ComputeAccrual(account, at(account, 3600))
	require.Equal(t, int64(1), accrual.HoursElapsed)
	require.Equal(t, int64(1_000_000), accrual.Available)

	// Monotonic over time.
	previous := int64(0)
	for _, seconds := range []int64{0, 1800, 3600, 7200, 10800, 36000} {
		accrual = ComputeAccrual(account, at(account, seconds))
		require.GreaterOrEqual(t, accrual.TotalEarned, previous)
		previous = accrual.TotalEarned
	}
}

func TestComputeAccrualCapsAtDeposit(t *testing.T) {
	account := baseAccount()

	// 100 hours at 1 token/hour against a 10 token deposit.
	accrual := ComputeAccrual(account, at(account, 100*3600))
	require.Equal(t, int64(10_000_000), accrual.TotalEarned)

	account.WithdrawnAmount = 4_000_000
	accrual = ComputeAccrual(account, at(account, 100*3600))
	require.Equal(t, int64(6_000_000), accrual.Available)
}

func TestComputeAccrualClockSkew(t *testing.T) {
	account := baseAccount()

	accrual := ComputeAccrual(account, at(account, -120))
	require.Equal(t, int64(0), accrual.SecondsElapsed)
	require.Equal(t, int64(0), accrual.Available)
}

func TestAvailableForDisplayClampsNegative(t *testing.T) {
	account := baseAccount()
	account.WithdrawnAmount = 11_000_000

	accrual := ComputeAccrual(account, at(account, 100*3600))
	require.Negative(t, accrual.Available)
	require.Equal(t, int64(0), accrual.AvailableForDisplay())
}

func TestValidateWithdrawalOrdering(t *testing.T) {
	account := baseAccount()
	now := at(account, 2*3600)

	err := ValidateWithdrawal(account, addrFromByte(9), account.Vault, account.Mint, 1, now)
	require.EqualError(t, err, "[FORBIDDEN] Connected wallet does not match the employee on this stream.")

	inactive := baseAccount()
	inactive.IsActive = false
	err = ValidateWithdrawal(inactive, inactive.Employee, inactive.Vault, inactive.Mint, 1, now)
	require.ErrorContains(t, err, "Stream is not active. Withdrawals are disabled.")

	err = ValidateWithdrawal(account, account.Employee, addrFromByte(9), account.Mint, 1, now)
	require.ErrorContains(t, err, "Stream vault mismatch. Please refresh and try again.")

	err = ValidateWithdrawal(account, account.Employee, account.Vault, addrFromByte(9), 1, now)
	require.ErrorContains(t, err, "Stream mint mismatch. Please refresh and try again.")

	require.NoError(t, ValidateWithdrawal(account, account.Employee, account.Vault, account.Mint, 2_000_000, now))
}

func TestValidateWithdrawalInsufficientVariants(t *testing.T) {
	// Exhausted stream: deposited <= withdrawn.
	drained := baseAccount()
	drained.WithdrawnAmount = drained.TotalDeposited
	err := ValidateWithdrawal(drained, drained.Employee, drained.Vault, drained.Mint, 1, at(drained, 100*3600))
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, KindNoRemainingBalance, insufficient.Kind)
	require.EqualError(t, err,
		"Stream has no remaining balance to withdraw. Deposited 10.000000 tokens and already withdrawn 10.000000 tokens.")

	// Nothing vested yet: 30 minutes in, next unlock in 30 minutes.
	fresh := baseAccount()
	err = ValidateWithdrawal(fresh, fresh.Employee, fresh.Vault, fresh.Mint, 1_000_000, at(fresh, 1800))
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, KindNothingVestedYet, insufficient.Kind)
	require.EqualError(t, err, "No earnings vested yet. Earnings unlock hourly; try again in about 30 minutes.")

	// Singular minute.
	err = ValidateWithdrawal(fresh, fresh.Employee, fresh.Vault, fresh.Mint, 1_000_000, at(fresh, 3599))
	require.ErrorAs(t, err, &insufficient)
	require.EqualError(t, err, "No earnings vested yet. Earnings unlock hourly; try again in about 1 minute.")

	// Generic insufficient vested balance.
	err = ValidateWithdrawal(fresh, fresh.Employee, fresh.Vault, fresh.Mint, 5_000_000, at(fresh, 2*3600))
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, KindInsufficientVested, insufficient.Kind)
	require.EqualError(t, err,
		"Insufficient vested balance. Requested 5.000000 tokens, but only 2.000000 tokens are available right now.")
}
