package rewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

// ProgramState returns the committed program singleton.
func (e *Engine) ProgramState(st Ledger) (*ProgramState, error) {
	return e.loadState(st)
}

// Batch returns the batch generated by authority at sequence.
func (e *Engine) Batch(st Ledger, authority [20]byte, sequence uint64) (*QrBatch, [20]byte, error) {
	addr := BatchAddress(authority, sequence)
	batch, err := e.BatchByAddress(st, addr)
	return batch, addr, err
}

// BatchByAddress returns the batch stored at addr, or nil when absent.
func (e *Engine) BatchByAddress(st Ledger, addr [20]byte) (*QrBatch, error) {
	batch := new(QrBatch)
	ok, err := st.LoadAccount(addr, KindBatch, batch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return batch, nil
}

// Claim returns the claim record for qrHash, or nil when the code has not
// been claimed.
func (e *Engine) Claim(st Ledger, qrHash string) (*ClaimRecord, error) {
	hash, err := NormalizeQRHash(qrHash)
	if err != nil {
		return nil, err
	}
	addr, err := ClaimAddress(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	record := new(ClaimRecord)
	ok, err := st.LoadAccount(addr, KindClaim, record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if record.Amount == nil {
		record.Amount = uint256.NewInt(0)
	}
	return record, nil
}

// Stats summarises supply, claims and the authority balance.
func (e *Engine) Stats(st Ledger) (*Stats, error) {
	ps, err := e.loadState(st)
	if err != nil {
		return nil, err
	}
	balance, err := st.BalanceOf(ps.Authority, ps.TokenMint)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Authority:        ps.Authority,
		TokenMint:        ps.TokenMint,
		TotalSupply:      new(uint256.Int).Set(ps.TotalSupply),
		TokensClaimed:    new(uint256.Int).Set(ps.TokensClaimed),
		Remaining:        ps.Remaining(),
		TotalQrCodes:     ps.TotalQrCodes,
		Paused:           ps.Paused,
		AuthorityBalance: balance,
	}, nil
}
