package chain

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"cascade-payroll/pkg/errutil"
)

func TestToBaseUnits(t *testing.T) {
	v, err := ToBaseUnits(1.5, 6)
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), v)

	v, err = ToBaseUnits(0.000001, 6)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = ToBaseUnits(12, 6)
	require.NoError(t, err)
	require.Equal(t, int64(12_000_000), v)

	v, err = ToBaseUnits(-2.25, 6)
	require.NoError(t, err)
	require.Equal(t, int64(-2_250_000), v)

	v, err = ToBaseUnits(0, 6)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)
}

func TestToBaseUnitsRejectsNonFinite(t *testing.T) {
	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := ToBaseUnits(value, 6)
		require.Error(t, err)
		require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))
		require.Contains(t, err.Error(), "Numeric values must be finite.")
	}
}

func TestToBaseUnitsRejectsOverflow(t *testing.T) {
	// MaxInt64 at 6 decimals tops out around 9.22e12 whole tokens.
	_, err := ToBaseUnits(9.3e12, 6)
	require.Error(t, err)
	require.True(t, errutil.HasStatus(err, errutil.StatusValidationFailed))

	_, err = ToBaseUnits(-9.3e12, 6)
	require.Error(t, err)

	v, err := ToBaseUnits(9e12, 6)
	require.NoError(t, err)
	require.Equal(t, int64(9_000_000_000_000_000_000), v)
}

func TestFormatBaseUnits(t *testing.T) {
	require.Equal(t, "1.500000", FormatBaseUnits(1_500_000, 6))
	require.Equal(t, "0.000001", FormatBaseUnits(1, 6))
	require.Equal(t, "0.000000", FormatBaseUnits(0, 6))
	require.Equal(t, "42.000000", FormatBaseUnits(42_000_000, 6))
}

func TestRoundTripWithinPrecision(t *testing.T) {
	for _, value := range []float64{0.5, 1.25, 100.000001, 7} {
		base, err := ToBaseUnits(value, 6)
		require.NoError(t, err)

		rendered := FormatBaseUnits(uint64(base), 6)
		back, err := ToBaseUnits(mustParseFloat(t, rendered), 6)
		require.NoError(t, err)
		require.Equal(t, base, back)
	}
}

func mustParseFloat(t *testing.T, s string) float64 {
	t.Helper()
	v, err := strconv.ParseFloat(s, 64)
	require.NoError(t, err)
	return v
}

func TestValidateMintDecimals(t *testing.T) {
	require.NoError(t, ValidateMintDecimals(6))

	err := ValidateMintDecimals(9)
	require.Error(t, err)
	require.EqualError(t, err, "Unsupported mint decimals: 9. Cascade currently supports 6-decimal mints only.")

	var unsupported *UnsupportedMintError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, uint8(9), unsupported.Decimals)
}
