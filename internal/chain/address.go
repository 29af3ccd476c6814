package chain

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

var (
	streamSeed = []byte("stream")
	vaultSeed  = []byte("vault")

	pdaMarker = []byte("ProgramDerivedAddress")
)

// Address is a 32-byte ed25519 public key rendered in base58.
type Address [32]byte

func ParseAddress(s string) (Address, error) {
	var a Address

	raw, err := base58.Decode(s)
	if err != nil {
		return a, &InvalidAddressError{Input: s, Err: err}
	}
	if len(raw) != 32 {
		return a, &InvalidAddressError{Input: s, Err: fmt.Errorf("expected 32 bytes, got %d", len(raw))}
	}

	copy(a[:], raw)
	return a, nil
}

// MustAddress parses s or panics. Intended for constants and tests.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// isOnCurve reports whether the bytes decode to a valid ed25519 curve point.
// Program-derived addresses must be off-curve so no private key exists for
// them.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// FindProgramAddress searches bump seeds 255 down to 0 and returns the first
// derived address that falls off the ed25519 curve, together with the bump
// that produced it.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{uint8(bump)})
		h.Write(programID[:])
		h.Write(pdaMarker)

		digest := h.Sum(nil)
		if !isOnCurve(digest) {
			var a Address
			copy(a[:], digest)
			return a, uint8(bump), nil
		}
	}

	return Address{}, 0, fmt.Errorf("unable to find a viable program address bump seed")
}

type derived struct {
	addr Address
	bump uint8
}

// Deriver computes the program-derived addresses for payment streams and
// their vaults. Results are memoized: derivation input never changes meaning,
// and the bump search is the expensive part.
type Deriver struct {
	programID Address

	mu    sync.RWMutex
	cache map[string]derived
}

func NewDeriver(programID Address) *Deriver {
	return &Deriver{
		programID: programID,
		cache:     make(map[string]derived),
	}
}

func (d *Deriver) ProgramID() Address { return d.programID }

// DeriveStream returns the payment-stream address for an employer/employee
// pair.
func (d *Deriver) DeriveStream(employer, employee Address) (Address, uint8, error) {
	key := "stream:" + employer.String() + ":" + employee.String()
	if hit, ok := d.lookup(key); ok {
		return hit.addr, hit.bump, nil
	}

	addr, bump, err := FindProgramAddress([][]byte{streamSeed, employer[:], employee[:]}, d.programID)
	if err != nil {
		return Address{}, 0, err
	}

	d.store(key, derived{addr: addr, bump: bump})
	return addr, bump, nil
}

// DeriveVault returns the vault address holding a stream's deposited tokens.
func (d *Deriver) DeriveVault(stream Address) (Address, uint8, error) {
	key := "vault:" + stream.String()
	if hit, ok := d.lookup(key); ok {
		return hit.addr, hit.bump, nil
	}

	addr, bump, err := FindProgramAddress([][]byte{vaultSeed, stream[:]}, d.programID)
	if err != nil {
		return Address{}, 0, err
	}

	d.store(key, derived{addr: addr, bump: bump})
	return addr, bump, nil
}

func (d *Deriver) lookup(key string) (derived, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hit, ok := d.cache[key]
	return hit, ok
}

func (d *Deriver) store(key string, val derived) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[key] = val
}
