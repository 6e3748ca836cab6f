package rewards

import (
	"encoding/binary"
	"encoding/hex"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"usvchain/crypto"
)

// ModuleName is the pause-guard module identifier of the reward program.
const ModuleName = "rewards"

var (
	stateSeed         = []byte("usv_state")
	mintSeed          = []byte("mint")
	mintAuthoritySeed = []byte("mint_authority")
	batchSeed         = []byte("qr_batch")
	claimSeed         = []byte("qr_claim")
	issuedSeed        = []byte("qr_issued")

	codeHashDomain = []byte("usv/qr")
)

// ProgramID is the identity owning every reward program record.
var ProgramID = crypto.ProgramAddress("usv-rewards")

// StateAddress returns the address of the ProgramState singleton.
func StateAddress() [20]byte {
	return crypto.MustDeriveAddress(ProgramID, stateSeed)
}

// MintAddress returns the address of the reward token mint.
func MintAddress() [20]byte {
	return crypto.MustDeriveAddress(ProgramID, mintSeed)
}

// MintAuthority returns the program-controlled identity allowed to mint.
func MintAuthority() [20]byte {
	return crypto.MustDeriveAddress(ProgramID, mintAuthoritySeed)
}

// BatchAddress returns the address of the batch generated by authority when
// the program counter equalled sequence.
func BatchAddress(authority [20]byte, sequence uint64) [20]byte {
	return crypto.MustDeriveAddress(ProgramID, batchSeed, authority[:], crypto.Uint64Seed(sequence))
}

// ClaimAddress returns the address of the claim record for a normalised
// reward code hash.
func ClaimAddress(qrHash string) ([20]byte, error) {
	return crypto.DeriveAddress(ProgramID, claimSeed, []byte(qrHash))
}

func issuedAddress(qrHash string) ([20]byte, error) {
	return crypto.DeriveAddress(ProgramID, issuedSeed, []byte(qrHash))
}

// CodeHash derives the reward code at index within the batch stored at
// batch. Distinct batch addresses or indices yield distinct hashes.
func CodeHash(batch [20]byte, index uint32) string {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	return hex.EncodeToString(ethcrypto.Keccak256(codeHashDomain, batch[:], idx[:]))
}
