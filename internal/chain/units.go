package chain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cascade-payroll/pkg/errutil"
)

const (
	// DefaultTokenDecimals matches USDC/USDT/EURC style SPL stablecoins.
	DefaultTokenDecimals uint8 = 6

	// SupportedStablecoinDecimals is the only mint precision the payroll
	// program accepts.
	SupportedStablecoinDecimals uint8 = 6
)

// ToBaseUnits converts a display amount to integer base units at the given
// mint precision. Fractional digits beyond the precision are rounded the way
// a fixed-point render would, sign is preserved.
func ToBaseUnits(value float64, decimals uint8) (int64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errutil.ValidationFailed("Numeric values must be finite.")
	}

	negative := value < 0
	normalized := strconv.FormatFloat(math.Abs(value), 'f', int(decimals), 64)

	whole := normalized
	fraction := ""
	if idx := strings.IndexByte(normalized, '.'); idx >= 0 {
		whole = normalized[:idx]
		fraction = normalized[idx+1:]
	}

	if len(fraction) < int(decimals) {
		fraction += strings.Repeat("0", int(decimals)-len(fraction))
	}
	fraction = fraction[:decimals]

	wholeValue, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, errutil.ValidationFailed("amount is out of range", errutil.WithErr(err))
	}

	var fractionValue uint64
	if fraction != "" {
		fractionValue, err = strconv.ParseUint(fraction, 10, 64)
		if err != nil {
			return 0, errutil.ValidationFailed("amount is out of range", errutil.WithErr(err))
		}
	}

	scale := pow10(decimals)
	if wholeValue > (math.MaxInt64-fractionValue)/scale {
		return 0, errutil.ValidationFailed("amount is out of range")
	}
	result := int64(wholeValue*scale + fractionValue)
	if negative {
		result = -result
	}

	return result, nil
}

// FormatBaseUnits renders base units as a fixed-point decimal string with the
// full mint precision, e.g. 1500000 at 6 decimals renders "1.500000".
func FormatBaseUnits(value uint64, decimals uint8) string {
	scale := pow10(decimals)
	whole := value / scale
	fraction := fmt.Sprintf("%0*d", decimals, value%scale)
	return fmt.Sprintf("%d.%s", whole, fraction)
}

// ValidateMintDecimals rejects any mint precision the program does not
// support.
func ValidateMintDecimals(decimals uint8) error {
	if decimals != SupportedStablecoinDecimals {
		return &UnsupportedMintError{Decimals: decimals}
	}
	return nil
}

func pow10(decimals uint8) uint64 {
	result := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		result *= 10
	}
	return result
}
