package chain

import (
	"encoding/binary"
	"fmt"
)

// accountDiscriminatorLen is the 8-byte anchor discriminator preceding every
// program account's payload.
const accountDiscriminatorLen = 8

const paymentStreamDataLen = accountDiscriminatorLen + 32*4 + 8*3 + 8*2 + 1 + 1

// PaymentStream mirrors the on-chain payment stream account layout.
type PaymentStream struct {
	Employer               Address
	Employee               Address
	Mint                   Address
	Vault                  Address
	HourlyRate             uint64
	TotalDeposited         uint64
	WithdrawnAmount        uint64
	CreatedAt              int64
	EmployeeLastActivityAt int64
	IsActive               bool
	Bump                   uint8
}

// DecodePaymentStream parses the borsh-encoded account payload, skipping the
// anchor discriminator.
func DecodePaymentStream(data []byte) (*PaymentStream, error) {
	if len(data) < paymentStreamDataLen {
		return nil, fmt.Errorf("payment stream account too short: %d bytes", len(data))
	}

	var ps PaymentStream
	offset := accountDiscriminatorLen

	readAddress := func() Address {
		var a Address
		copy(a[:], data[offset:offset+32])
		offset += 32
		return a
	}
	readU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(data[offset : offset+8])
		offset += 8
		return v
	}

	ps.Employer = readAddress()
	ps.Employee = readAddress()
	ps.Mint = readAddress()
	ps.Vault = readAddress()
	ps.HourlyRate = readU64()
	ps.TotalDeposited = readU64()
	ps.WithdrawnAmount = readU64()
	ps.CreatedAt = int64(readU64())
	ps.EmployeeLastActivityAt = int64(readU64())
	ps.IsActive = data[offset] != 0
	offset++
	ps.Bump = data[offset]

	return &ps, nil
}
