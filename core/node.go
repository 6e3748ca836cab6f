package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"usvchain/core/events"
	"usvchain/core/state"
	"usvchain/core/types"
	"usvchain/crypto"
	"usvchain/native/rewards"
	"usvchain/observability"
	"usvchain/observability/logging"
	"usvchain/storage"
)

var (
	// ErrNonceMismatch is returned when a transaction nonce differs from the
	// sender's next expected nonce.
	ErrNonceMismatch = errors.New("core: nonce mismatch")
	// ErrInvalidChainID is returned for transactions signed for another chain.
	ErrInvalidChainID = errors.New("core: invalid chain id")
	// ErrUnknownInstruction is returned for transaction types the node does not execute.
	ErrUnknownInstruction = errors.New("core: unknown instruction")
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Receipt reports the outcome of one executed instruction.
type Receipt struct {
	TxHash      string            `json:"txHash,omitempty"`
	Instruction string            `json:"instruction"`
	Caller      string            `json:"caller"`
	Nonce       uint64            `json:"nonce"`
	Status      string            `json:"status"`
	Code        string            `json:"code,omitempty"`
	Message     string            `json:"message,omitempty"`
	Retryable   bool              `json:"retryable,omitempty"`
	Events      []*types.Event    `json:"events,omitempty"`
	Batch       *BatchView        `json:"batch,omitempty"`
	Claim       *ClaimView        `json:"claim,omitempty"`
	State       *ProgramStateView `json:"state,omitempty"`
}

// Node executes reward instructions against the ledger and fans committed
// events out to subscribers.
type Node struct {
	state   *state.Manager
	engine  *rewards.Engine
	chainID uint64
	emitter *events.Multi
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.RewardsMetrics

	subMu  sync.Mutex
	subs   map[int]chan events.Event
	nextID int
}

// Option customises a Node.
type Option func(*Node)

func WithChainID(id uint64) Option {
	return func(n *Node) { n.chainID = id }
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithEmitter registers an additional downstream emitter such as an indexer
// or webhook dispatcher.
func WithEmitter(e events.Emitter) Option {
	return func(n *Node) { n.emitter.Add(e) }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(fn func() time.Time) Option {
	return func(n *Node) { n.state.SetNowFunc(fn) }
}

// NewNode opens the ledger stored in db and prepares the rewards engine.
func NewNode(db storage.Database, params rewards.Params, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, errors.New("core: nil database")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	mgr := state.NewManager(db)
	if err := mgr.EnsureStateVersion(); err != nil {
		return nil, err
	}
	n := &Node{
		state:   mgr,
		engine:  rewards.NewEngine(params),
		emitter: events.NewMulti(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("usvchain/core"),
		metrics: observability.Rewards(),
		subs:    make(map[int]chan events.Event),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.emitter.Add(events.EmitterFunc(n.broadcast))
	return n, nil
}

func (n *Node) ChainID() uint64 { return n.chainID }

func (n *Node) Params() rewards.Params { return n.engine.Params() }

// AddEmitter registers a downstream emitter after construction.
func (n *Node) AddEmitter(e events.Emitter) { n.emitter.Add(e) }

// Submit verifies the signature, chain id and nonce of tx and executes its
// instruction. The sender nonce advances only when the instruction succeeds,
// in the same commit as its state changes. A failed receipt is returned
// alongside the error whenever the instruction itself was rejected.
func (n *Node) Submit(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", rewards.ErrInvalidInput)
	}
	if tx.ChainID != n.chainID {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInvalidChainID, tx.ChainID, n.chainID)
	}
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: type %d", ErrUnknownInstruction, tx.Type)
	}
	from, err := tx.From()
	if err != nil {
		return nil, err
	}
	var caller [20]byte
	copy(caller[:], from)
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	ins, err := DecodeInstruction(tx)
	if err != nil {
		receipt := n.failedReceipt(ins, caller, tx.Nonce, err)
		receipt.Instruction = tx.Type.String()
		receipt.TxHash = "0x" + hex.EncodeToString(hash)
		return receipt, err
	}
	nonce := tx.Nonce
	receipt, err := n.execute(ctx, caller, ins, &nonce)
	if receipt != nil {
		receipt.TxHash = "0x" + hex.EncodeToString(hash)
	}
	return receipt, err
}

// Execute runs ins on behalf of caller without signature or nonce checks.
// It is intended for trusted in-process callers.
func (n *Node) Execute(ctx context.Context, caller [20]byte, ins Instruction) (*Receipt, error) {
	return n.execute(ctx, caller, ins, nil)
}

func (n *Node) execute(ctx context.Context, caller [20]byte, ins Instruction, nonce *uint64) (*Receipt, error) {
	name := ins.Type.String()
	start := time.Now()
	ctx, span := n.tracer.Start(ctx, "rewards."+name,
		trace.WithAttributes(
			attribute.String("rewards.instruction", name),
			attribute.String("rewards.caller", common.BytesToAddress(caller[:]).Hex()),
		))
	defer span.End()

	receipt := &Receipt{Instruction: name, Caller: formatCaller(caller)}
	if nonce != nil {
		receipt.Nonce = *nonce
	}

	var (
		batch     *rewards.QrBatch
		batchAddr [20]byte
		claim     *rewards.ClaimRecord
		program   *rewards.ProgramState
	)
	committed, err := n.state.Update(func(st *state.StateDB) error {
		if nonce != nil {
			current, err := st.Nonce(caller)
			if err != nil {
				return err
			}
			if current != *nonce {
				return fmt.Errorf("%w: got %d want %d", ErrNonceMismatch, *nonce, current)
			}
		}
		var execErr error
		switch ins.Type {
		case types.TxTypeInitialize:
			program, execErr = n.engine.Initialize(st, caller)
		case types.TxTypeGenerateCodes:
			batch, batchAddr, execErr = n.engine.GenerateCodes(st, caller, ins.Generate)
		case types.TxTypeClaimCode:
			claim, execErr = n.engine.ClaimCode(st, caller, ins.Claim)
		case types.TxTypeTransferToPartner:
			execErr = n.engine.TransferToPartner(st, caller, ins.Transfer)
		case types.TxTypeSetPause:
			execErr = n.engine.SetPause(st, caller, ins.Paused)
		default:
			execErr = fmt.Errorf("%w: type %d", ErrUnknownInstruction, ins.Type)
		}
		if execErr != nil {
			return execErr
		}
		if nonce != nil {
			return st.SetNonce(caller, *nonce+1)
		}
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.metrics.ObserveInstruction(name, errorCode(err), duration)
		n.logger.WarnContext(ctx, "rewards instruction rejected",
			slog.String("instruction", name),
			slog.String("caller", receipt.Caller),
			slog.String("code", errorCode(err)),
			slog.Any("error", err))
		failed := n.failedReceipt(ins, caller, receipt.Nonce, err)
		return failed, err
	}

	n.metrics.ObserveInstruction(name, StatusSuccess, duration)
	receipt.Status = StatusSuccess
	for _, evt := range committed {
		if rendered := events.Render(evt); rendered != nil {
			receipt.Events = append(receipt.Events, rendered)
		}
		n.emitter.Emit(evt)
	}
	attrs := []any{
		slog.String("instruction", name),
		slog.String("caller", receipt.Caller),
		slog.Duration("duration", duration),
	}
	switch {
	case program != nil:
		receipt.State = NewProgramStateView(program)
	case batch != nil:
		receipt.Batch = NewBatchView(batchAddr, batch)
		n.metrics.RecordCodesGenerated(len(batch.QRHashes))
		attrs = append(attrs, slog.Uint64("sequence", batch.Sequence), slog.Int("count", len(batch.QRHashes)))
	case claim != nil:
		receipt.Claim = NewClaimView(claim)
		n.metrics.RecordClaim(amountFloat(claim.Amount))
		attrs = append(attrs,
			slog.String("qr_hash", claim.QRHash),
			logging.MaskEmail("email", claim.UserEmail))
	}
	if ins.Type == types.TxTypeTransferToPartner {
		n.metrics.RecordPartnerTransfer(amountFloat(ins.Transfer.Amount))
	}
	span.SetStatus(codes.Ok, "")
	n.logger.InfoContext(ctx, "rewards instruction executed", attrs...)
	return receipt, nil
}

func (n *Node) failedReceipt(ins Instruction, caller [20]byte, nonce uint64, err error) *Receipt {
	return &Receipt{
		Instruction: ins.Type.String(),
		Caller:      formatCaller(caller),
		Nonce:       nonce,
		Status:      StatusFailed,
		Code:        errorCode(err),
		Message:     userMessage(err),
		Retryable:   rewards.Retryable(err),
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNonceMismatch):
		return "nonce_mismatch"
	case errors.Is(err, ErrInvalidChainID):
		return "invalid_chain_id"
	case errors.Is(err, ErrUnknownInstruction):
		return rewards.CodeInvalidInput
	}
	return rewards.Code(err)
}

func userMessage(err error) string {
	if errors.Is(err, ErrNonceMismatch) {
		return "transaction nonce is out of date"
	}
	return rewards.UserMessage(err)
}

func formatCaller(addr [20]byte) string {
	return crypto.FormatAddress(addr)
}

func amountFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return v.Float64()
}

// ProgramState returns the committed program state or rewards.ErrNotInitialized.
func (n *Node) ProgramState() (*rewards.ProgramState, error) {
	var out *rewards.ProgramState
	err := n.state.View(func(st *state.StateDB) error {
		ps, err := n.engine.ProgramState(st)
		out = ps
		return err
	})
	return out, err
}

// Batch returns the batch issued by authority with the given sequence.
func (n *Node) Batch(authority [20]byte, sequence uint64) (*rewards.QrBatch, [20]byte, error) {
	var (
		out  *rewards.QrBatch
		addr [20]byte
	)
	err := n.state.View(func(st *state.StateDB) error {
		var err error
		out, addr, err = n.engine.Batch(st, authority, sequence)
		return err
	})
	return out, addr, err
}

func (n *Node) BatchByAddress(addr [20]byte) (*rewards.QrBatch, error) {
	var out *rewards.QrBatch
	err := n.state.View(func(st *state.StateDB) error {
		var err error
		out, err = n.engine.BatchByAddress(st, addr)
		return err
	})
	return out, err
}

// Claim returns the claim record for qrHash, or nil when it was never claimed.
func (n *Node) Claim(qrHash string) (*rewards.ClaimRecord, error) {
	var out *rewards.ClaimRecord
	err := n.state.View(func(st *state.StateDB) error {
		var err error
		out, err = n.engine.Claim(st, qrHash)
		return err
	})
	return out, err
}

func (n *Node) Stats() (*rewards.Stats, error) {
	var out *rewards.Stats
	err := n.state.View(func(st *state.StateDB) error {
		var err error
		out, err = n.engine.Stats(st)
		return err
	})
	return out, err
}

// Balance returns the reward token balance held by owner's associated account.
func (n *Node) Balance(owner [20]byte) (*uint256.Int, error) {
	var out *uint256.Int
	err := n.state.View(func(st *state.StateDB) error {
		var err error
		out, err = st.BalanceOf(owner, rewards.MintAddress())
		return err
	})
	return out, err
}

// Nonce returns the next nonce expected from addr.
func (n *Node) Nonce(addr [20]byte) (uint64, error) {
	var out uint64
	err := n.state.View(func(st *state.StateDB) error {
		var err error
		out, err = st.Nonce(addr)
		return err
	})
	return out, err
}

// Subscribe returns a channel receiving every committed event. Slow
// subscribers drop events rather than block execution. The returned function
// cancels the subscription and closes the channel.
func (n *Node) Subscribe(buffer int) (<-chan events.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan events.Event, buffer)
	n.subMu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.subMu.Lock()
			delete(n.subs, id)
			n.subMu.Unlock()
			close(ch)
		})
	}
}

func (n *Node) broadcast(evt events.Event) {
	observability.Events().RecordEvent(evt.EventType())
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
