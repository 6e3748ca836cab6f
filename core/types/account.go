package types

import "github.com/holiman/uint256"

// AccountKind tags the record stored at a ledger address.
type AccountKind string

const (
	KindMint         AccountKind = "mint"
	KindTokenAccount AccountKind = "token"
)

// Mint describes a fungible token. Only Authority may mint new units.
type Mint struct {
	Authority [20]byte
	Decimals  uint8
	Supply    *uint256.Int
}

// TokenAccount holds the balance of one owner for one mint.
type TokenAccount struct {
	Mint   [20]byte
	Owner  [20]byte
	Amount *uint256.Int
}

// Balance returns a copy of the account balance, treating nil as zero.
func (a *TokenAccount) Balance() *uint256.Int {
	if a == nil || a.Amount == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(a.Amount)
}
