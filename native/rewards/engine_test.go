package rewards

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"usvchain/core/events"
	"usvchain/core/state"
	"usvchain/storage"
)

type harness struct {
	t         *testing.T
	mgr       *state.Manager
	engine    *Engine
	authority [20]byte
}

func testAddr(b byte) [20]byte {
	var out [20]byte
	out[0] = 0xaa
	out[19] = b
	return out
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	mgr.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return &harness{t: t, mgr: mgr, engine: NewEngine(params), authority: testAddr(1)}
}

func (h *harness) init() {
	h.t.Helper()
	if _, err := h.mgr.Update(func(st *state.StateDB) error {
		_, err := h.engine.Initialize(st, h.authority)
		return err
	}); err != nil {
		h.t.Fatalf("initialize: %v", err)
	}
}

func (h *harness) generate(count uint32, partner string) (*QrBatch, [20]byte, error) {
	h.t.Helper()
	seq := h.programState().TotalQrCodes
	var (
		batch *QrBatch
		addr  [20]byte
	)
	_, err := h.mgr.Update(func(st *state.StateDB) error {
		var err error
		batch, addr, err = h.engine.GenerateCodes(st, h.authority, GenerateParams{Sequence: seq, Count: count, PartnerID: partner})
		return err
	})
	return batch, addr, err
}

func (h *harness) claim(caller [20]byte, hash, email string) ([]events.Event, error) {
	return h.mgr.Update(func(st *state.StateDB) error {
		_, err := h.engine.ClaimCode(st, caller, ClaimParams{QRHash: hash, UserEmail: email})
		return err
	})
}

func (h *harness) transfer(caller, partner [20]byte, amount *uint256.Int) error {
	_, err := h.mgr.Update(func(st *state.StateDB) error {
		return h.engine.TransferToPartner(st, caller, TransferParams{Partner: partner, Amount: amount, PartnerInfo: "bulk"})
	})
	return err
}

func (h *harness) setPause(caller [20]byte, paused bool) error {
	_, err := h.mgr.Update(func(st *state.StateDB) error {
		return h.engine.SetPause(st, caller, paused)
	})
	return err
}

func (h *harness) programState() *ProgramState {
	h.t.Helper()
	var ps *ProgramState
	if err := h.mgr.View(func(st *state.StateDB) error {
		var err error
		ps, err = h.engine.ProgramState(st)
		return err
	}); err != nil {
		h.t.Fatalf("program state: %v", err)
	}
	return ps
}

func (h *harness) balance(owner [20]byte) *uint256.Int {
	h.t.Helper()
	var bal *uint256.Int
	if err := h.mgr.View(func(st *state.StateDB) error {
		var err error
		bal, err = st.BalanceOf(owner, MintAddress())
		return err
	}); err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func scenarioParams() Params {
	params := DefaultParams()
	params.TotalSupply = uint256.NewInt(1_000_000_000_000)
	return params
}

func TestConcreteScenario(t *testing.T) {
	h := newHarness(t, scenarioParams())
	h.init()
	if got := h.balance(h.authority); got.Uint64() != 1_000_000_000_000 {
		t.Fatalf("unexpected authority balance %s", got.Dec())
	}

	batch, _, err := h.generate(5, "P1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ps := h.programState()
	if ps.TotalQrCodes != 5 {
		t.Fatalf("expected 5 codes, got %d", ps.TotalQrCodes)
	}
	if len(batch.QRHashes) != 5 || batch.PartnerID != "P1" {
		t.Fatalf("unexpected batch %+v", batch)
	}
	seen := make(map[string]struct{})
	for _, hash := range batch.QRHashes {
		if _, dup := seen[hash]; dup {
			t.Fatalf("duplicate hash %s", hash)
		}
		seen[hash] = struct{}{}
	}

	claimer := testAddr(2)
	if _, err := h.claim(claimer, batch.QRHashes[0], "a@x.com"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	ps = h.programState()
	if ps.TokensClaimed.Uint64() != 1_000_000 {
		t.Fatalf("unexpected tokens claimed %s", ps.TokensClaimed.Dec())
	}
	if got := h.balance(claimer); got.Uint64() != 1_000_000 {
		t.Fatalf("unexpected claimer balance %s", got.Dec())
	}
	if got := h.balance(h.authority); got.Uint64() != 1_000_000_000_000-1_000_000 {
		t.Fatalf("unexpected authority balance %s", got.Dec())
	}

	if _, err := h.claim(claimer, batch.QRHashes[0], "a@x.com"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if got := h.balance(claimer); got.Uint64() != 1_000_000 {
		t.Fatalf("re-claim changed claimer balance to %s", got.Dec())
	}
	if got := h.programState().TokensClaimed.Uint64(); got != 1_000_000 {
		t.Fatalf("re-claim changed tokens claimed to %d", got)
	}
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := h.balance(h.authority)

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.claim(testAddr(byte(10+i)), batch.QRHashes[0], "racer@example.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyClaimed):
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d/%d", attempts-1, successes, conflicts)
	}
	after := h.balance(h.authority)
	spent := new(uint256.Int).Sub(before, after)
	if !spent.Eq(DefaultRewardPerClaim) {
		t.Fatalf("authority spent %s, want %s", spent.Dec(), DefaultRewardPerClaim.Dec())
	}
}

func TestSupplyConservation(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(10, "P")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	successes := 0
	for i, hash := range batch.QRHashes {
		if _, err := h.claim(testAddr(byte(20+i%3)), hash, "user@example.com"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		successes++
		// replays never count
		if _, err := h.claim(testAddr(99), hash, "user@example.com"); !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("expected replay to fail, got %v", err)
		}
	}
	ps := h.programState()
	want := new(uint256.Int).Mul(DefaultRewardPerClaim, uint256.NewInt(uint64(successes)))
	if !ps.TokensClaimed.Eq(want) {
		t.Fatalf("tokens claimed %s, want %s", ps.TokensClaimed.Dec(), want.Dec())
	}
	if ps.TokensClaimed.Gt(ps.TotalSupply) {
		t.Fatalf("tokens claimed exceeds supply")
	}
}

func TestClaimRejectedWhenSupplyExhausted(t *testing.T) {
	params := DefaultParams()
	params.TotalSupply = new(uint256.Int).Mul(DefaultRewardPerClaim, uint256.NewInt(2))
	h := newHarness(t, params)
	h.init()
	batch, _, err := h.generate(3, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.claim(testAddr(5), batch.QRHashes[i], "u@x.io"); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
	}
	if _, err := h.claim(testAddr(5), batch.QRHashes[2], "u@x.io"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	var record *ClaimRecord
	if err := h.mgr.View(func(st *state.StateDB) error {
		var err error
		record, err = h.engine.Claim(st, batch.QRHashes[2])
		return err
	}); err != nil {
		t.Fatalf("claim lookup: %v", err)
	}
	if record != nil {
		t.Fatalf("failed claim must not leave a claim record")
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	before := h.programState()

	_, err := h.mgr.Update(func(st *state.StateDB) error {
		_, err := h.engine.Initialize(st, testAddr(7))
		return err
	})
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	after := h.programState()
	if after.Authority != before.Authority || !after.TotalSupply.Eq(before.TotalSupply) || after.TotalQrCodes != before.TotalQrCodes {
		t.Fatalf("program state changed: %+v -> %+v", before, after)
	}
	if got := h.balance(testAddr(7)); !got.IsZero() {
		t.Fatalf("second initializer received %s", got.Dec())
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	h := newHarness(t, DefaultParams())
	_, _, err := h.generateWithoutSequence(1)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := h.setPause(h.authority, true); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func (h *harness) generateWithoutSequence(count uint32) (*QrBatch, [20]byte, error) {
	var (
		batch *QrBatch
		addr  [20]byte
	)
	_, err := h.mgr.Update(func(st *state.StateDB) error {
		var err error
		batch, addr, err = h.engine.GenerateCodes(st, h.authority, GenerateParams{Count: count})
		return err
	})
	return batch, addr, err
}

func TestMonotonicCounterAndUniqueHashes(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	counts := []uint32{3, 1, 100, 7}
	var total uint64
	seen := make(map[string]struct{})
	for _, c := range counts {
		batch, addr, err := h.generate(c, "partner")
		if err != nil {
			t.Fatalf("generate %d: %v", c, err)
		}
		if batch.Sequence != total {
			t.Fatalf("batch sequence %d, want %d", batch.Sequence, total)
		}
		if addr != BatchAddress(h.authority, total) {
			t.Fatalf("unexpected batch address")
		}
		total += uint64(c)
		if uint32(len(batch.QRHashes)) != c {
			t.Fatalf("batch has %d hashes, want %d", len(batch.QRHashes), c)
		}
		for _, hash := range batch.QRHashes {
			if _, dup := seen[hash]; dup {
				t.Fatalf("hash %s issued twice", hash)
			}
			seen[hash] = struct{}{}
		}
	}
	if got := h.programState().TotalQrCodes; got != total {
		t.Fatalf("total codes %d, want %d", got, total)
	}
}

func TestGenerateStaleSequenceConflicts(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	if _, _, err := h.generate(2, ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err := h.mgr.Update(func(st *state.StateDB) error {
		_, _, err := h.engine.GenerateCodes(st, h.authority, GenerateParams{Sequence: 0, Count: 1})
		return err
	})
	if !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict, got %v", err)
	}
	if !Retryable(err) {
		t.Fatalf("sequence conflicts must be retryable")
	}
	if got := h.programState().TotalQrCodes; got != 2 {
		t.Fatalf("counter changed to %d", got)
	}
}

func TestGenerateValidation(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	cases := []GenerateParams{
		{Count: 0},
		{Count: 101},
		{Count: 1, PartnerID: string(make([]byte, MaxPartnerIDLen+1))},
		{Count: 1, BatchInfo: "bad\x00info"},
	}
	for i, params := range cases {
		_, err := h.mgr.Update(func(st *state.StateDB) error {
			_, _, err := h.engine.GenerateCodes(st, h.authority, params)
			return err
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	_, err := h.mgr.Update(func(st *state.StateDB) error {
		_, _, err := h.engine.GenerateCodes(st, testAddr(9), GenerateParams{Count: 1})
		return err
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPauseGatesClaimsAndTransfers(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	partner := testAddr(30)
	claimer := testAddr(31)

	if err := h.setPause(testAddr(9), true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.setPause(h.authority, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := h.setPause(h.authority, true); err != nil {
		t.Fatalf("pause must be idempotent: %v", err)
	}
	before := h.programState()
	authorityBefore := h.balance(h.authority)

	if _, err := h.claim(claimer, batch.QRHashes[0], "p@x.com"); !errors.Is(err, ErrProgramPaused) {
		t.Fatalf("expected ErrProgramPaused, got %v", err)
	}
	if err := h.transfer(h.authority, partner, DefaultMinimumPartnerTransfer); !errors.Is(err, ErrProgramPaused) {
		t.Fatalf("expected ErrProgramPaused, got %v", err)
	}
	if UserMessage(ErrProgramPaused) != "rewards temporarily paused" {
		t.Fatalf("unexpected paused message")
	}
	after := h.programState()
	if !after.TokensClaimed.Eq(before.TokensClaimed) || !h.balance(h.authority).Eq(authorityBefore) {
		t.Fatalf("paused calls mutated state")
	}
	if !h.balance(partner).IsZero() || !h.balance(claimer).IsZero() {
		t.Fatalf("paused calls credited balances")
	}

	if err := h.setPause(h.authority, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := h.claim(claimer, batch.QRHashes[0], "p@x.com"); err != nil {
		t.Fatalf("claim after unpause: %v", err)
	}
	if err := h.transfer(h.authority, partner, DefaultMinimumPartnerTransfer); err != nil {
		t.Fatalf("transfer after unpause: %v", err)
	}
}

func TestMinimumPartnerTransfer(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	partner := testAddr(40)
	below := new(uint256.Int).Sub(DefaultMinimumPartnerTransfer, uint256.NewInt(1))
	if err := h.transfer(h.authority, partner, below); !errors.Is(err, ErrBelowMinimumTransfer) {
		t.Fatalf("expected ErrBelowMinimumTransfer, got %v", err)
	}
	if !h.balance(partner).IsZero() {
		t.Fatalf("rejected transfer credited partner")
	}
	claimedBefore := h.programState().TokensClaimed
	if err := h.transfer(h.authority, partner, DefaultMinimumPartnerTransfer); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := h.balance(partner); !got.Eq(DefaultMinimumPartnerTransfer) {
		t.Fatalf("partner balance %s, want %s", got.Dec(), DefaultMinimumPartnerTransfer.Dec())
	}
	if !h.programState().TokensClaimed.Eq(claimedBefore) {
		t.Fatalf("partner transfer must not change tokens claimed")
	}
	if err := h.transfer(testAddr(41), partner, DefaultMinimumPartnerTransfer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	params := DefaultParams()
	params.TotalSupply = new(uint256.Int).Set(DefaultMinimumPartnerTransfer)
	h := newHarness(t, params)
	h.init()
	more := new(uint256.Int).Add(DefaultMinimumPartnerTransfer, uint256.NewInt(1))
	err := h.transfer(h.authority, testAddr(50), more)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !h.balance(h.authority).Eq(DefaultMinimumPartnerTransfer) {
		t.Fatalf("failed transfer changed authority balance")
	}
}

func TestClaimValidation(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	valid := CodeHash(testAddr(1), 0)
	cases := []struct {
		hash  string
		email string
	}{
		{hash: "short", email: "a@b.c"},
		{hash: valid[:63] + "z", email: "a@b.c"},
		{hash: valid, email: "   "},
		{hash: valid, email: string(make([]byte, MaxEmailLen+1))},
	}
	for i, tc := range cases {
		if _, err := h.claim(testAddr(2), tc.hash, tc.email); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestClaimNormalizesHashCase(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	upper := []byte(batch.QRHashes[0])
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 'a' + 'A'
		}
	}
	if _, err := h.claim(testAddr(3), string(upper), "a@b.c"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.claim(testAddr(3), batch.QRHashes[0], "a@b.c"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed for differently cased hash, got %v", err)
	}
}

func TestClaimOfUnissuedHashAllowedByDefault(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	unissued := CodeHash(testAddr(200), 0)
	if _, err := h.claim(testAddr(4), unissued, "a@b.c"); err != nil {
		t.Fatalf("default params should not verify issuance: %v", err)
	}
}

func TestRequireIssuedCodes(t *testing.T) {
	params := DefaultParams()
	params.RequireIssuedCodes = true
	h := newHarness(t, params)
	h.init()
	unissued := CodeHash(testAddr(200), 0)
	if _, err := h.claim(testAddr(4), unissued, "a@b.c"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unissued code, got %v", err)
	}
	batch, _, err := h.generate(2, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := h.claim(testAddr(4), batch.QRHashes[1], "a@b.c"); err != nil {
		t.Fatalf("claim issued code: %v", err)
	}
}

func TestRelayedClaimPaysNamedClaimer(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	wallet := testAddr(60)
	evts, err := h.mgr.Update(func(st *state.StateDB) error {
		_, err := h.engine.ClaimCode(st, h.authority, ClaimParams{QRHash: batch.QRHashes[0], UserEmail: "w@x.com", Claimer: wallet})
		return err
	})
	if err != nil {
		t.Fatalf("relayed claim: %v", err)
	}
	if got := h.balance(wallet); !got.Eq(DefaultRewardPerClaim) {
		t.Fatalf("wallet balance %s", got.Dec())
	}
	var claimed *events.RewardsCodeClaimed
	for _, evt := range evts {
		if c, ok := evt.(events.RewardsCodeClaimed); ok {
			claimed = &c
		}
	}
	if claimed == nil || claimed.Claimer != wallet {
		t.Fatalf("expected claim event for wallet, got %v", evts)
	}
	var record *ClaimRecord
	if err := h.mgr.View(func(st *state.StateDB) error {
		var err error
		record, err = h.engine.Claim(st, batch.QRHashes[0])
		return err
	}); err != nil {
		t.Fatalf("claim lookup: %v", err)
	}
	if record == nil || !record.IsClaimed || record.Claimer != wallet || record.ClaimerAccount != state.AssociatedAccountAddress(wallet, MintAddress()) {
		t.Fatalf("unexpected claim record %+v", record)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t, scenarioParams())
	h.init()
	batch, _, err := h.generate(2, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := h.claim(testAddr(2), batch.QRHashes[0], "a@x.com"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	var stats *Stats
	if err := h.mgr.View(func(st *state.StateDB) error {
		var err error
		stats, err = h.engine.Stats(st)
		return err
	}); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalQrCodes != 2 || stats.TokensClaimed.Uint64() != 1_000_000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Remaining.Uint64() != 1_000_000_000_000-1_000_000 {
		t.Fatalf("unexpected remaining %s", stats.Remaining.Dec())
	}
	if !stats.AuthorityBalance.Eq(stats.Remaining) {
		t.Fatalf("authority balance %s should equal remaining %s", stats.AuthorityBalance.Dec(), stats.Remaining.Dec())
	}
}

func TestErrorCodesAndMessages(t *testing.T) {
	if Code(nil) != "" || UserMessage(nil) != "" {
		t.Fatalf("nil error must map to empty code and message")
	}
	if Code(ErrAlreadyClaimed) != CodeAlreadyClaimed {
		t.Fatalf("unexpected code %q", Code(ErrAlreadyClaimed))
	}
	if UserMessage(ErrAlreadyClaimed) != "this code has already been redeemed" {
		t.Fatalf("unexpected message %q", UserMessage(ErrAlreadyClaimed))
	}
	if Code(errors.New("boom")) != CodeInternal {
		t.Fatalf("unknown errors must map to internal")
	}
	wrapped := wrapLedgerError(state.ErrInsufficientFunds)
	if Code(wrapped) != CodeInsufficientFunds {
		t.Fatalf("ledger insufficient funds must surface as insufficient_funds, got %q", Code(wrapped))
	}
}

func TestInitializeRespectsPinnedAuthority(t *testing.T) {
	params := DefaultParams()
	params.Authority = testAddr(1)
	h := newHarness(t, params)

	_, err := h.mgr.Update(func(st *state.StateDB) error {
		_, err := h.engine.Initialize(st, testAddr(66))
		return err
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.mgr.View(func(st *state.StateDB) error {
		_, err := h.engine.ProgramState(st)
		return err
	}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("rejected initialize must leave program uninitialized, got %v", err)
	}

	h.init()
	if ps := h.programState(); ps.Authority != testAddr(1) {
		t.Fatalf("unexpected authority %x", ps.Authority)
	}
	if got := h.balance(testAddr(1)); !got.Eq(DefaultTotalSupply) {
		t.Fatalf("authority balance %s", got.Dec())
	}
}

func TestClaimFailsWhenAuthorityBalanceDrained(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	partner := testAddr(70)
	if err := h.transfer(h.authority, partner, new(uint256.Int).Set(DefaultTotalSupply)); err != nil {
		t.Fatalf("transfer whole supply: %v", err)
	}
	if ps := h.programState(); !ps.TokensClaimed.IsZero() {
		t.Fatalf("tokens claimed %s", ps.TokensClaimed.Dec())
	}

	if _, err := h.claim(testAddr(5), batch.QRHashes[0], "u@x.io"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	var record *ClaimRecord
	if err := h.mgr.View(func(st *state.StateDB) error {
		var err error
		record, err = h.engine.Claim(st, batch.QRHashes[0])
		return err
	}); err != nil {
		t.Fatalf("claim lookup: %v", err)
	}
	if record != nil {
		t.Fatalf("failed claim must not leave a claim record")
	}
	if ps := h.programState(); !ps.TokensClaimed.IsZero() {
		t.Fatalf("failed claim changed tokens claimed to %s", ps.TokensClaimed.Dec())
	}
	if got := h.balance(partner); !got.Eq(DefaultTotalSupply) {
		t.Fatalf("partner balance %s", got.Dec())
	}
}

func TestAuthoritySelfClaimCountsWithoutMovingTokens(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.init()
	batch, _, err := h.generate(1, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	evts, err := h.claim(h.authority, batch.QRHashes[0], "ops@x.io")
	if err != nil {
		t.Fatalf("self claim: %v", err)
	}
	if got := h.balance(h.authority); !got.Eq(DefaultTotalSupply) {
		t.Fatalf("authority balance moved to %s", got.Dec())
	}
	if ps := h.programState(); !ps.TokensClaimed.Eq(DefaultRewardPerClaim) {
		t.Fatalf("tokens claimed %s", ps.TokensClaimed.Dec())
	}
	for _, evt := range evts {
		if _, ok := evt.(events.TokenTransfer); ok {
			t.Fatalf("self claim must not emit a token transfer: %v", evts)
		}
	}
}
