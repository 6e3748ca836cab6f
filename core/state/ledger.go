package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"usvchain/core/events"
	"usvchain/core/types"
	"usvchain/crypto"
)

var (
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	ErrNotMintAuthority  = errors.New("state: caller is not the mint authority")
	ErrNotAccountOwner   = errors.New("state: caller does not own the source account")
	ErrMintMismatch      = errors.New("state: token accounts belong to different mints")
	ErrSupplyOverflow    = errors.New("state: supply overflow")
	ErrInvalidAmount     = errors.New("state: amount must be positive")
)

// AssociatedTokenProgram owns the canonical per-(owner, mint) token accounts.
var AssociatedTokenProgram = crypto.ProgramAddress("associated-token")

// AssociatedAccountAddress returns the canonical token account address for
// owner and mint.
func AssociatedAccountAddress(owner, mint [20]byte) [20]byte {
	return crypto.MustDeriveAddress(AssociatedTokenProgram, []byte("ata"), owner[:], mint[:])
}

// CreateMint registers a new token mint at addr with zero supply.
func (s *StateDB) CreateMint(addr, authority [20]byte, decimals uint8) error {
	return s.CreateAccount(addr, types.KindMint, &types.Mint{
		Authority: authority,
		Decimals:  decimals,
		Supply:    uint256.NewInt(0),
	})
}

// LoadMint returns the mint stored at addr.
func (s *StateDB) LoadMint(addr [20]byte) (*types.Mint, error) {
	mint := new(types.Mint)
	ok, err := s.LoadAccount(addr, types.KindMint, mint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: mint %s", ErrAccountNotFound, crypto.FormatAccount(addr))
	}
	if mint.Supply == nil {
		mint.Supply = uint256.NewInt(0)
	}
	return mint, nil
}

// TokenAccount returns the token account stored at addr.
func (s *StateDB) TokenAccount(addr [20]byte) (*types.TokenAccount, error) {
	acct := new(types.TokenAccount)
	ok, err := s.LoadAccount(addr, types.KindTokenAccount, acct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: token account %s", ErrAccountNotFound, crypto.FormatAccount(addr))
	}
	if acct.Amount == nil {
		acct.Amount = uint256.NewInt(0)
	}
	return acct, nil
}

// GetOrCreateAssociatedAccount returns the associated token account of owner
// for mint, creating an empty one when absent.
func (s *StateDB) GetOrCreateAssociatedAccount(owner, mint [20]byte) ([20]byte, error) {
	addr := AssociatedAccountAddress(owner, mint)
	existing := new(types.TokenAccount)
	ok, err := s.LoadAccount(addr, types.KindTokenAccount, existing)
	if err != nil {
		return addr, err
	}
	if ok {
		if existing.Mint != mint || existing.Owner != owner {
			return addr, fmt.Errorf("%w: associated account mismatch", ErrMintMismatch)
		}
		return addr, nil
	}
	if _, err := s.LoadMint(mint); err != nil {
		return addr, err
	}
	err = s.CreateAccount(addr, types.KindTokenAccount, &types.TokenAccount{
		Mint:   mint,
		Owner:  owner,
		Amount: uint256.NewInt(0),
	})
	return addr, err
}

// BalanceOf returns owner's balance of mint held in the associated account.
// A missing account has a zero balance.
func (s *StateDB) BalanceOf(owner, mint [20]byte) (*uint256.Int, error) {
	acct, err := s.TokenAccount(AssociatedAccountAddress(owner, mint))
	if errors.Is(err, ErrAccountNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return acct.Balance(), nil
}

// Mint creates amount new units of mint in dest. authority must match the
// mint authority.
func (s *StateDB) Mint(mintAddr, dest, authority [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	mint, err := s.LoadMint(mintAddr)
	if err != nil {
		return err
	}
	if mint.Authority != authority {
		return ErrNotMintAuthority
	}
	acct, err := s.TokenAccount(dest)
	if err != nil {
		return err
	}
	if acct.Mint != mintAddr {
		return ErrMintMismatch
	}
	supply, overflow := new(uint256.Int).AddOverflow(mint.Supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	balance, overflow := new(uint256.Int).AddOverflow(acct.Amount, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	mint.Supply = supply
	acct.Amount = balance
	if err := s.StoreAccount(mintAddr, types.KindMint, mint); err != nil {
		return err
	}
	if err := s.StoreAccount(dest, types.KindTokenAccount, acct); err != nil {
		return err
	}
	s.AppendEvent(events.TokenMinted{Mint: mintAddr, Account: dest, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Transfer moves amount from src to dst. owner must own src and both accounts
// must share a mint. Either the whole amount moves or nothing does.
func (s *StateDB) Transfer(src, dst, owner [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	from, err := s.TokenAccount(src)
	if err != nil {
		return err
	}
	if from.Owner != owner {
		return ErrNotAccountOwner
	}
	to, err := s.TokenAccount(dst)
	if err != nil {
		return err
	}
	if from.Mint != to.Mint {
		return ErrMintMismatch
	}
	if from.Amount.Lt(amount) {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, from.Amount.Dec(), amount.Dec())
	}
	if src == dst {
		return nil
	}
	credited, overflow := new(uint256.Int).AddOverflow(to.Amount, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	from.Amount = new(uint256.Int).Sub(from.Amount, amount)
	to.Amount = credited
	if err := s.StoreAccount(src, types.KindTokenAccount, from); err != nil {
		return err
	}
	if err := s.StoreAccount(dst, types.KindTokenAccount, to); err != nil {
		return err
	}
	s.AppendEvent(events.TokenTransfer{Mint: from.Mint, From: src, To: dst, Amount: new(uint256.Int).Set(amount)})
	return nil
}
