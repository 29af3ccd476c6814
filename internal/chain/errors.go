package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAccountNotFound is returned when an RPC lookup resolves to no account on
// the connected cluster.
var ErrAccountNotFound = errors.New("account not found on-chain for the connected cluster")

type InvalidAddressError struct {
	Input string
	Err   error
}

func (e *InvalidAddressError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid address %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("invalid address %q", e.Input)
}

func (e *InvalidAddressError) Unwrap() error { return e.Err }

type UnsupportedMintError struct {
	Decimals uint8
}

func (e *UnsupportedMintError) Error() string {
	return fmt.Sprintf("Unsupported mint decimals: %d. Cascade currently supports 6-decimal mints only.", e.Decimals)
}

type UserCancelledError struct {
	Cause string
}

func (e *UserCancelledError) Error() string {
	return fmt.Sprintf("transaction cancelled by user: %s", e.Cause)
}

type ConfirmationTimeoutError struct {
	Signature string
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("Confirmation timeout for %s: the network has not recorded this transaction yet.", e.Signature)
}

type OnChainError struct {
	Signature string
	Detail    string
}

func (e *OnChainError) Error() string {
	return fmt.Sprintf("Transaction failed on-chain (%s): %s", e.Signature, e.Detail)
}

// IsUserCancellation reports whether a wallet error message describes the user
// declining the signature prompt. Matching is keyword-based because wallet
// extensions do not share an error taxonomy.
func IsUserCancellation(message string) bool {
	normalized := strings.ToLower(message)
	return strings.Contains(normalized, "user rejected") ||
		strings.Contains(normalized, "user declined") ||
		strings.Contains(normalized, "user canceled") ||
		strings.Contains(normalized, "user cancelled") ||
		strings.Contains(normalized, "rejected the request")
}

// ShouldRetryWithV0 reports whether a send failure indicates the RPC or wallet
// requires a versioned transaction.
func ShouldRetryWithV0(message string) bool {
	normalized := strings.ToLower(message)
	return strings.Contains(normalized, "versioned") ||
		strings.Contains(normalized, "transaction version") ||
		strings.Contains(normalized, "address lookup") ||
		strings.Contains(normalized, "lookup table")
}
