package events

import (
	"github.com/holiman/uint256"

	"usvchain/core/types"
	"usvchain/crypto"
)

const (
	TypeTokenMinted   = "token.minted"
	TypeTokenTransfer = "token.transfer"
)

// TokenMinted is emitted when new units are created in a token account.
type TokenMinted struct {
	Mint    [20]byte
	Account [20]byte
	Amount  *uint256.Int
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"mint":    crypto.FormatAccount(e.Mint),
			"account": crypto.FormatAccount(e.Account),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// TokenTransfer is emitted for every ledger balance movement.
type TokenTransfer struct {
	Mint   [20]byte
	From   [20]byte
	To     [20]byte
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"mint":   crypto.FormatAccount(e.Mint),
			"from":   crypto.FormatAccount(e.From),
			"to":     crypto.FormatAccount(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}
