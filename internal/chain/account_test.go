package chain

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePaymentStream(ps *PaymentStream) []byte {
	buf := make([]byte, 0, paymentStreamDataLen)
	buf = append(buf, make([]byte, accountDiscriminatorLen)...)
	buf = append(buf, ps.Employer[:]...)
	buf = append(buf, ps.Employee[:]...)
	buf = append(buf, ps.Mint[:]...)
	buf = append(buf, ps.Vault[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, ps.HourlyRate)
	buf = binary.LittleEndian.AppendUint64(buf, ps.TotalDeposited)
	buf = binary.LittleEndian.AppendUint64(buf, ps.WithdrawnAmount)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ps.CreatedAt))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ps.EmployeeLastActivityAt))
	active := byte(0)
	if ps.IsActive {
		active = 1
	}
	buf = append(buf, active, ps.Bump)
	return buf
}

func TestDecodePaymentStream(t *testing.T) {
	want := &PaymentStream{
		Employer:               addressFromByte(1),
		Employee:               addressFromByte(2),
		Mint:                   addressFromByte(3),
		Vault:                  addressFromByte(4),
		HourlyRate:             2_500_000,
		TotalDeposited:         100_000_000,
		WithdrawnAmount:        7_500_000,
		CreatedAt:              1_700_000_000,
		EmployeeLastActivityAt: 1_700_003_600,
		IsActive:               true,
		Bump:                   254,
	}

	got, err := DecodePaymentStream(encodePaymentStream(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodePaymentStreamRejectsShortPayload(t *testing.T) {
	_, err := DecodePaymentStream(make([]byte, 16))
	require.Error(t, err)
	require.Contains(t, err.Error(), "too short")
}
