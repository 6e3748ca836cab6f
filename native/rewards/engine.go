package rewards

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"

	"usvchain/core/events"
	"usvchain/core/state"
	"usvchain/core/types"
	nativecommon "usvchain/native/common"
)

// Ledger describes the ledger operations the reward program needs. It is
// satisfied by *state.StateDB inside a state.Manager update.
type Ledger interface {
	Now() time.Time
	CreateAccount(addr [20]byte, kind types.AccountKind, value interface{}) error
	LoadAccount(addr [20]byte, kind types.AccountKind, out interface{}) (bool, error)
	StoreAccount(addr [20]byte, kind types.AccountKind, value interface{}) error
	CreateMint(addr, authority [20]byte, decimals uint8) error
	Mint(mint, dest, authority [20]byte, amount *uint256.Int) error
	Transfer(src, dst, owner [20]byte, amount *uint256.Int) error
	GetOrCreateAssociatedAccount(owner, mint [20]byte) ([20]byte, error)
	BalanceOf(owner, mint [20]byte) (*uint256.Int, error)
	AppendEvent(evt events.Event)
}

var _ Ledger = (*state.StateDB)(nil)

// Engine executes the five reward instructions against a Ledger. Every method
// is expected to run inside a single state.Manager update so that a returned
// error discards all of its writes.
type Engine struct {
	params Params
}

// NewEngine returns an engine using params. Invalid params fall back to
// DefaultParams.
func NewEngine(params Params) *Engine {
	if err := params.Validate(); err != nil {
		params = DefaultParams()
	}
	return &Engine{params: params.clone()}
}

// Params returns a copy of the engine constants.
func (e *Engine) Params() Params {
	return e.params.clone()
}

func (e *Engine) loadState(st Ledger) (*ProgramState, error) {
	ps := new(ProgramState)
	ok, err := st.LoadAccount(StateAddress(), KindProgramState, ps)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return ps.normalize(), nil
}

func (e *Engine) storeState(st Ledger, ps *ProgramState) error {
	return st.StoreAccount(StateAddress(), KindProgramState, ps)
}

func requireAuthority(ps *ProgramState, caller [20]byte) error {
	if ps.Authority != caller {
		return ErrUnauthorized
	}
	return nil
}

func wrapLedgerError(err error) error {
	if errors.Is(err, state.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return err
}

// Initialize creates the program state with caller as authority, the reward
// mint and the authority payout account, then mints the whole supply into it.
// When Params.Authority is set only that address may initialize.
func (e *Engine) Initialize(st Ledger, caller [20]byte) (*ProgramState, error) {
	if caller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: authority address required", ErrInvalidInput)
	}
	if pinned := e.params.Authority; pinned != ([20]byte{}) && caller != pinned {
		return nil, fmt.Errorf("%w: caller is not the genesis authority", ErrUnauthorized)
	}
	mint := MintAddress()
	ps := &ProgramState{
		Authority:     caller,
		TokenMint:     mint,
		TotalSupply:   new(uint256.Int).Set(e.params.TotalSupply),
		TokensClaimed: uint256.NewInt(0),
	}
	if err := st.CreateAccount(StateAddress(), KindProgramState, ps); err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			return nil, ErrAlreadyInitialized
		}
		return nil, err
	}
	if err := st.CreateMint(mint, MintAuthority(), e.params.Decimals); err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			return nil, fmt.Errorf("%w: mint already exists", ErrAlreadyInitialized)
		}
		return nil, err
	}
	payout, err := st.GetOrCreateAssociatedAccount(caller, mint)
	if err != nil {
		return nil, err
	}
	if err := st.Mint(mint, payout, MintAuthority(), e.params.TotalSupply); err != nil {
		return nil, err
	}
	ps.AuthorityAccount = payout
	if err := e.storeState(st, ps); err != nil {
		return nil, err
	}
	st.AppendEvent(events.RewardsInitialized{
		Authority:        caller,
		Mint:             mint,
		AuthorityAccount: payout,
		TotalSupply:      new(uint256.Int).Set(ps.TotalSupply),
		Decimals:         e.params.Decimals,
	})
	return ps.Clone(), nil
}

// GenerateCodes issues a batch of params.Count reward codes. The batch address
// is derived from the authority and params.Sequence, which must equal the
// current code counter; a stale sequence or an occupied address fails with
// ErrSequenceConflict.
func (e *Engine) GenerateCodes(st Ledger, caller [20]byte, params GenerateParams) (*QrBatch, [20]byte, error) {
	var batchAddr [20]byte
	ps, err := e.loadState(st)
	if err != nil {
		return nil, batchAddr, err
	}
	if err := requireAuthority(ps, caller); err != nil {
		return nil, batchAddr, err
	}
	params, err = e.validateGenerate(params)
	if err != nil {
		return nil, batchAddr, err
	}
	if params.Sequence != ps.TotalQrCodes {
		return nil, batchAddr, fmt.Errorf("%w: sequence %d, counter %d", ErrSequenceConflict, params.Sequence, ps.TotalQrCodes)
	}
	if ps.TotalQrCodes > math.MaxUint64-uint64(params.Count) {
		return nil, batchAddr, fmt.Errorf("%w: code counter overflow", ErrInvalidInput)
	}

	batchAddr = BatchAddress(ps.Authority, params.Sequence)
	hashes := make([]string, params.Count)
	for i := range hashes {
		hashes[i] = CodeHash(batchAddr, uint32(i))
	}
	batch := &QrBatch{
		Sequence:  params.Sequence,
		Authority: ps.Authority,
		Count:     params.Count,
		PartnerID: params.PartnerID,
		BatchInfo: params.BatchInfo,
		QRHashes:  hashes,
		CreatedAt: unixSeconds(st.Now()),
	}
	if err := st.CreateAccount(batchAddr, KindBatch, batch); err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			return nil, batchAddr, fmt.Errorf("%w: batch %d already exists", ErrSequenceConflict, params.Sequence)
		}
		return nil, batchAddr, err
	}
	if e.params.RequireIssuedCodes {
		for i, hash := range hashes {
			marker, err := issuedAddress(hash)
			if err != nil {
				return nil, batchAddr, err
			}
			if err := st.CreateAccount(marker, kindIssued, &issuedMarker{Batch: batchAddr, Index: uint32(i)}); err != nil {
				return nil, batchAddr, err
			}
		}
	}
	ps.TotalQrCodes += uint64(params.Count)
	if err := e.storeState(st, ps); err != nil {
		return nil, batchAddr, err
	}
	st.AppendEvent(events.RewardsCodesGenerated{
		Authority:    ps.Authority,
		Batch:        batchAddr,
		Sequence:     batch.Sequence,
		Count:        batch.Count,
		PartnerID:    batch.PartnerID,
		BatchInfo:    batch.BatchInfo,
		Hashes:       append([]string(nil), hashes...),
		TotalQrCodes: ps.TotalQrCodes,
		CreatedAt:    int64(batch.CreatedAt),
	})
	return batch, batchAddr, nil
}

// ClaimCode redeems one reward code. The claim record is created at an
// address derived from the hash alone, so a second claim of the same code
// fails with ErrAlreadyClaimed before any balance changes.
func (e *Engine) ClaimCode(st Ledger, caller [20]byte, params ClaimParams) (*ClaimRecord, error) {
	ps, err := e.loadState(st)
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(ps, ModuleName); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProgramPaused, err)
	}
	params, err = e.validateClaim(params)
	if err != nil {
		return nil, err
	}
	claimer := params.Claimer
	if claimer == ([20]byte{}) {
		claimer = caller
	}
	if claimer == ([20]byte{}) {
		return nil, fmt.Errorf("%w: claimer address required", ErrInvalidInput)
	}
	claimAddr, err := ClaimAddress(params.QRHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if e.params.RequireIssuedCodes {
		marker, err := issuedAddress(params.QRHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		ok, err := st.LoadAccount(marker, kindIssued, nil)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: code was never issued", ErrInvalidInput)
		}
	}

	amount := new(uint256.Int).Set(e.params.RewardPerClaim)
	record := &ClaimRecord{
		QRHash:         params.QRHash,
		Claimer:        claimer,
		ClaimerAccount: state.AssociatedAccountAddress(claimer, ps.TokenMint),
		UserEmail:      params.UserEmail,
		IsClaimed:      true,
		Amount:         amount,
		ClaimedAt:      unixSeconds(st.Now()),
	}
	if err := st.CreateAccount(claimAddr, KindClaim, record); err != nil {
		if errors.Is(err, state.ErrAccountExists) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	claimed, overflow := new(uint256.Int).AddOverflow(ps.TokensClaimed, amount)
	if overflow || claimed.Gt(ps.TotalSupply) {
		return nil, fmt.Errorf("%w: reward supply exhausted", ErrInsufficientFunds)
	}
	dest, err := st.GetOrCreateAssociatedAccount(claimer, ps.TokenMint)
	if err != nil {
		return nil, err
	}
	if err := st.Transfer(ps.AuthorityAccount, dest, ps.Authority, amount); err != nil {
		return nil, wrapLedgerError(err)
	}
	ps.TokensClaimed = claimed
	if err := e.storeState(st, ps); err != nil {
		return nil, err
	}
	st.AppendEvent(events.RewardsCodeClaimed{
		QRHash:         record.QRHash,
		Claimer:        claimer,
		ClaimerAccount: dest,
		UserEmail:      record.UserEmail,
		Amount:         new(uint256.Int).Set(amount),
		TokensClaimed:  new(uint256.Int).Set(claimed),
		ClaimedAt:      int64(record.ClaimedAt),
	})
	return record, nil
}

// TransferToPartner pays params.Amount from the authority payout account to
// the partner's payout account. TokensClaimed is unaffected.
func (e *Engine) TransferToPartner(st Ledger, caller [20]byte, params TransferParams) error {
	ps, err := e.loadState(st)
	if err != nil {
		return err
	}
	if err := requireAuthority(ps, caller); err != nil {
		return err
	}
	if err := nativecommon.Guard(ps, ModuleName); err != nil {
		return fmt.Errorf("%w: %w", ErrProgramPaused, err)
	}
	if params.Amount == nil || params.Amount.Lt(e.params.MinimumPartnerTransfer) {
		return fmt.Errorf("%w: minimum is %s base units", ErrBelowMinimumTransfer, e.params.MinimumPartnerTransfer.Dec())
	}
	params, err = e.validateTransfer(params)
	if err != nil {
		return err
	}
	if params.Partner == ps.Authority {
		return fmt.Errorf("%w: partner must differ from authority", ErrInvalidInput)
	}
	dest, err := st.GetOrCreateAssociatedAccount(params.Partner, ps.TokenMint)
	if err != nil {
		return err
	}
	if err := st.Transfer(ps.AuthorityAccount, dest, ps.Authority, params.Amount); err != nil {
		return wrapLedgerError(err)
	}
	st.AppendEvent(events.RewardsPartnerTransfer{
		Authority:      ps.Authority,
		Partner:        params.Partner,
		PartnerAccount: dest,
		Amount:         new(uint256.Int).Set(params.Amount),
		PartnerInfo:    params.PartnerInfo,
	})
	return nil
}

// SetPause overwrites the pause flag. Setting the current value is a no-op
// that still succeeds.
func (e *Engine) SetPause(st Ledger, caller [20]byte, paused bool) error {
	ps, err := e.loadState(st)
	if err != nil {
		return err
	}
	if err := requireAuthority(ps, caller); err != nil {
		return err
	}
	ps.Paused = paused
	if err := e.storeState(st, ps); err != nil {
		return err
	}
	st.AppendEvent(events.RewardsPauseUpdated{Authority: ps.Authority, Paused: paused})
	return nil
}

func unixSeconds(t time.Time) uint64 {
	if t.IsZero() || t.Unix() < 0 {
		return 0
	}
	return uint64(t.Unix())
}
