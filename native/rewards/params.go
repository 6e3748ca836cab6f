package rewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// Decimals is the precision of the reward token.
	Decimals uint8 = 6

	MinCodesPerBatch  uint32 = 1
	MaxCodesPerBatch  uint32 = 100
	MaxPartnerIDLen          = 64
	MaxBatchInfoLen          = 256
	MaxEmailLen              = 254
	MaxPartnerInfoLen        = 256
)

var (
	oneToken = uint256.NewInt(1_000_000)

	// DefaultTotalSupply is 1,000,000,000 tokens in base units.
	DefaultTotalSupply = new(uint256.Int).Mul(uint256.NewInt(1_000_000_000), oneToken)
	// DefaultRewardPerClaim is one token in base units.
	DefaultRewardPerClaim = new(uint256.Int).Set(oneToken)
	// DefaultMinimumPartnerTransfer is 1,000 tokens in base units.
	DefaultMinimumPartnerTransfer = new(uint256.Int).Mul(uint256.NewInt(1_000), oneToken)
)

// Params fixes the economic and validation constants of a deployment.
type Params struct {
	Decimals               uint8
	TotalSupply            *uint256.Int
	RewardPerClaim         *uint256.Int
	MinimumPartnerTransfer *uint256.Int
	MinCodesPerBatch       uint32
	MaxCodesPerBatch       uint32
	MaxPartnerIDLen        int
	MaxBatchInfoLen        int
	MaxEmailLen            int
	MaxPartnerInfoLen      int
	// Authority, when non-zero, is the only caller allowed to initialize
	// the program.
	Authority [20]byte
	// RequireIssuedCodes makes claim_code reject hashes that were never
	// emitted by a batch. Off by default: issuance is verified off-chain.
	RequireIssuedCodes bool
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		Decimals:               Decimals,
		TotalSupply:            new(uint256.Int).Set(DefaultTotalSupply),
		RewardPerClaim:         new(uint256.Int).Set(DefaultRewardPerClaim),
		MinimumPartnerTransfer: new(uint256.Int).Set(DefaultMinimumPartnerTransfer),
		MinCodesPerBatch:       MinCodesPerBatch,
		MaxCodesPerBatch:       MaxCodesPerBatch,
		MaxPartnerIDLen:        MaxPartnerIDLen,
		MaxBatchInfoLen:        MaxBatchInfoLen,
		MaxEmailLen:            MaxEmailLen,
		MaxPartnerInfoLen:      MaxPartnerInfoLen,
	}
}

// Validate rejects internally inconsistent parameters.
func (p Params) Validate() error {
	if p.TotalSupply == nil || p.TotalSupply.IsZero() {
		return fmt.Errorf("rewards: total supply must be positive")
	}
	if p.RewardPerClaim == nil || p.RewardPerClaim.IsZero() {
		return fmt.Errorf("rewards: reward per claim must be positive")
	}
	if p.RewardPerClaim.Gt(p.TotalSupply) {
		return fmt.Errorf("rewards: reward per claim exceeds total supply")
	}
	if p.MinimumPartnerTransfer == nil {
		return fmt.Errorf("rewards: minimum partner transfer must be set")
	}
	if p.MinCodesPerBatch == 0 || p.MaxCodesPerBatch < p.MinCodesPerBatch {
		return fmt.Errorf("rewards: invalid batch bounds %d..%d", p.MinCodesPerBatch, p.MaxCodesPerBatch)
	}
	if p.MaxPartnerIDLen <= 0 || p.MaxBatchInfoLen <= 0 || p.MaxEmailLen <= 0 || p.MaxPartnerInfoLen <= 0 {
		return fmt.Errorf("rewards: string limits must be positive")
	}
	return nil
}

func (p Params) clone() Params {
	out := p
	if p.TotalSupply != nil {
		out.TotalSupply = new(uint256.Int).Set(p.TotalSupply)
	}
	if p.RewardPerClaim != nil {
		out.RewardPerClaim = new(uint256.Int).Set(p.RewardPerClaim)
	}
	if p.MinimumPartnerTransfer != nil {
		out.MinimumPartnerTransfer = new(uint256.Int).Set(p.MinimumPartnerTransfer)
	}
	return out
}
