package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds how many seed components a derived address may use.
	MaxSeeds = 16
	// MaxSeedLen bounds the length of every individual seed.
	MaxSeedLen = 64
)

var derivedDomain = []byte("usv/derived")

// ErrInvalidSeeds is returned when the seed list is too long or a seed exceeds
// MaxSeedLen bytes.
var ErrInvalidSeeds = errors.New("crypto: invalid derivation seeds")

// DeriveAddress computes the deterministic record address owned by program
// for the supplied seeds. Each seed is length-prefixed so ("ab","c") and
// ("a","bc") derive different addresses.
func DeriveAddress(program [20]byte, seeds ...[]byte) ([20]byte, error) {
	var out [20]byte
	if len(seeds) > MaxSeeds {
		return out, fmt.Errorf("%w: %d seeds exceeds limit of %d", ErrInvalidSeeds, len(seeds), MaxSeeds)
	}
	buf := make([]byte, 0, len(derivedDomain)+len(program)+len(seeds)*(MaxSeedLen+1))
	buf = append(buf, derivedDomain...)
	buf = append(buf, program[:]...)
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return out, fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(seed))
		}
		buf = append(buf, byte(len(seed)))
		buf = append(buf, seed...)
	}
	digest := ethcrypto.Keccak256(buf)
	copy(out[:], digest[len(digest)-20:])
	return out, nil
}

// MustDeriveAddress is DeriveAddress for seed sets known to be valid at
// compile time. It panics on invalid seeds.
func MustDeriveAddress(program [20]byte, seeds ...[]byte) [20]byte {
	addr, err := DeriveAddress(program, seeds...)
	if err != nil {
		panic(err)
	}
	return addr
}

// Uint64Seed encodes v as an 8-byte little-endian seed.
func Uint64Seed(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// ProgramAddress returns a fixed identity for a named program.
func ProgramAddress(name string) [20]byte {
	var out [20]byte
	digest := ethcrypto.Keccak256([]byte("usv/program"), []byte(name))
	copy(out[:], digest[len(digest)-20:])
	return out
}
