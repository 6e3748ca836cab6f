package rewards

import (
	"github.com/holiman/uint256"

	"usvchain/core/types"
)

// Ledger record kinds owned by the reward program.
const (
	KindProgramState types.AccountKind = "rewards.state"
	KindBatch        types.AccountKind = "rewards.batch"
	KindClaim        types.AccountKind = "rewards.claim"
	kindIssued       types.AccountKind = "rewards.issued"
)

// ProgramState is the program singleton. Authority and TotalSupply never
// change after initialisation; TotalQrCodes and TokensClaimed only grow.
type ProgramState struct {
	Authority        [20]byte
	TokenMint        [20]byte
	AuthorityAccount [20]byte
	TotalSupply      *uint256.Int
	TokensClaimed    *uint256.Int
	TotalQrCodes     uint64
	Paused           bool
}

// IsPaused implements the native pause view for this program.
func (p *ProgramState) IsPaused(module string) bool {
	return p != nil && module == ModuleName && p.Paused
}

// Remaining returns TotalSupply - TokensClaimed.
func (p *ProgramState) Remaining() *uint256.Int {
	if p == nil || p.TotalSupply == nil {
		return uint256.NewInt(0)
	}
	claimed := p.TokensClaimed
	if claimed == nil {
		claimed = uint256.NewInt(0)
	}
	if claimed.Gt(p.TotalSupply) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(p.TotalSupply, claimed)
}

func (p *ProgramState) normalize() *ProgramState {
	if p.TotalSupply == nil {
		p.TotalSupply = uint256.NewInt(0)
	}
	if p.TokensClaimed == nil {
		p.TokensClaimed = uint256.NewInt(0)
	}
	return p
}

// Clone returns a deep copy.
func (p *ProgramState) Clone() *ProgramState {
	if p == nil {
		return nil
	}
	out := *p
	if p.TotalSupply != nil {
		out.TotalSupply = new(uint256.Int).Set(p.TotalSupply)
	}
	if p.TokensClaimed != nil {
		out.TokensClaimed = new(uint256.Int).Set(p.TokensClaimed)
	}
	return &out
}

// QrBatch is the immutable audit record of one generate_codes call.
type QrBatch struct {
	Sequence  uint64
	Authority [20]byte
	Count     uint32
	PartnerID string
	BatchInfo string
	QRHashes  []string
	CreatedAt uint64
}

// ClaimRecord attests that QRHash was redeemed. Its existence is the claimed
// flag; IsClaimed is always true.
type ClaimRecord struct {
	QRHash         string
	Claimer        [20]byte
	ClaimerAccount [20]byte
	UserEmail      string
	IsClaimed      bool
	Amount         *uint256.Int
	ClaimedAt      uint64
}

type issuedMarker struct {
	Batch [20]byte
	Index uint32
}

// Stats summarises the program for dashboards.
type Stats struct {
	Authority        [20]byte
	TokenMint        [20]byte
	TotalSupply      *uint256.Int
	TokensClaimed    *uint256.Int
	Remaining        *uint256.Int
	TotalQrCodes     uint64
	Paused           bool
	AuthorityBalance *uint256.Int
}

// GenerateParams are the inputs of generate_codes. Sequence must equal the
// current ProgramState.TotalQrCodes.
type GenerateParams struct {
	Sequence  uint64
	Count     uint32
	PartnerID string
	BatchInfo string
}

// ClaimParams are the inputs of claim_code. A zero Claimer pays the caller.
type ClaimParams struct {
	QRHash    string
	UserEmail string
	Claimer   [20]byte
}

// TransferParams are the inputs of transfer_to_partner.
type TransferParams struct {
	Partner     [20]byte
	Amount      *uint256.Int
	PartnerInfo string
}
