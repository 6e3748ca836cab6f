package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"usvchain/core/events"
	"usvchain/core/types"
	"usvchain/crypto"
	"usvchain/native/rewards"
	"usvchain/storage"
)

const testChainID = 7811

func newTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	params := rewards.DefaultParams()
	params.TotalSupply = uint256.NewInt(1_000_000_000_000)
	base := []Option{
		WithChainID(testChainID),
		WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }),
	}
	node, err := NewNode(db, params, append(base, opts...)...)
	require.NoError(t, err)
	return node
}

func newKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key, key.PubKey().Address().Array()
}

func signedTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{ChainID: testChainID, Type: txType, Nonce: nonce}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		tx.Data = data
	}
	require.NoError(t, tx.Sign(key.PrivateKey))
	return tx
}

func TestSubmitFullFlow(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	authKey, authority := newKey(t)
	userKey, user := newKey(t)

	receipt, err := node.Submit(ctx, signedTx(t, authKey, types.TxTypeInitialize, 0, nil))
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, receipt.Status)
	require.NotNil(t, receipt.State)
	require.Equal(t, "1000000000000", receipt.State.TotalSupply)

	receipt, err = node.Submit(ctx, signedTx(t, authKey, types.TxTypeGenerateCodes, 1, types.GenerateCodesPayload{
		Sequence: 0, Count: 3, PartnerID: "cafe-42",
	}))
	require.NoError(t, err)
	require.NotNil(t, receipt.Batch)
	require.Len(t, receipt.Batch.QRHashes, 3)
	hash := receipt.Batch.QRHashes[1]

	receipt, err = node.Submit(ctx, signedTx(t, userKey, types.TxTypeClaimCode, 0, types.ClaimCodePayload{
		QRHash: hash, UserEmail: "alice@example.com",
	}))
	require.NoError(t, err)
	require.NotNil(t, receipt.Claim)
	require.Equal(t, "a***@example.com", receipt.Claim.UserEmail)
	require.Equal(t, "1000000", receipt.Claim.Amount)

	balance, err := node.Balance(user)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), balance.Uint64())

	receipt, err = node.Submit(ctx, signedTx(t, userKey, types.TxTypeClaimCode, 1, types.ClaimCodePayload{
		QRHash: hash, UserEmail: "alice@example.com",
	}))
	require.ErrorIs(t, err, rewards.ErrAlreadyClaimed)
	require.Equal(t, StatusFailed, receipt.Status)
	require.Equal(t, rewards.CodeAlreadyClaimed, receipt.Code)
	require.Equal(t, "this code has already been redeemed", receipt.Message)

	nonce, err := node.Nonce(user)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce, "failed instructions must not consume the nonce")

	nonce, err = node.Nonce(authority)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)

	stats, err := node.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(3), stats.TotalQrCodes)
	require.Equal(t, "999999000000", stats.Remaining.Dec())
}

func TestSubmitRejectsNonceMismatch(t *testing.T) {
	node := newTestNode(t)
	authKey, _ := newKey(t)
	receipt, err := node.Submit(context.Background(), signedTx(t, authKey, types.TxTypeInitialize, 5, nil))
	require.ErrorIs(t, err, ErrNonceMismatch)
	require.Equal(t, "nonce_mismatch", receipt.Code)

	_, err = node.ProgramState()
	require.ErrorIs(t, err, rewards.ErrNotInitialized)
}

func TestSubmitRejectsWrongChain(t *testing.T) {
	node := newTestNode(t)
	authKey, _ := newKey(t)
	tx := &types.Transaction{ChainID: testChainID + 1, Type: types.TxTypeInitialize}
	require.NoError(t, tx.Sign(authKey.PrivateKey))
	_, err := node.Submit(context.Background(), tx)
	require.ErrorIs(t, err, ErrInvalidChainID)
}

func TestSubmitRejectsUnsigned(t *testing.T) {
	node := newTestNode(t)
	_, err := node.Submit(context.Background(), &types.Transaction{ChainID: testChainID, Type: types.TxTypeInitialize})
	require.ErrorIs(t, err, types.ErrMissingSignature)
}

func TestSubmitRejectsUnknownPayloadFields(t *testing.T) {
	node := newTestNode(t)
	authKey, _ := newKey(t)
	tx := &types.Transaction{ChainID: testChainID, Type: types.TxTypeSetPause, Data: []byte(`{"paused":true,"extra":1}`)}
	require.NoError(t, tx.Sign(authKey.PrivateKey))
	receipt, err := node.Submit(context.Background(), tx)
	require.ErrorIs(t, err, rewards.ErrInvalidInput)
	require.Equal(t, "set_pause", receipt.Instruction)
	require.Equal(t, rewards.CodeInvalidInput, receipt.Code)
}

func TestExecuteTransferAndPause(t *testing.T) {
	node := newTestNode(t)
	ctx := context.Background()
	authority := [20]byte{1}
	partner := [20]byte{2}

	_, err := node.Execute(ctx, authority, InitializeInstruction())
	require.NoError(t, err)

	_, err = node.Execute(ctx, authority, SetPauseInstruction(true))
	require.NoError(t, err)
	_, err = node.Execute(ctx, authority, TransferToPartnerInstruction(rewards.TransferParams{
		Partner: partner, Amount: uint256.NewInt(5_000_000_000),
	}))
	require.ErrorIs(t, err, rewards.ErrProgramPaused)

	_, err = node.Execute(ctx, authority, SetPauseInstruction(false))
	require.NoError(t, err)
	receipt, err := node.Execute(ctx, authority, TransferToPartnerInstruction(rewards.TransferParams{
		Partner: partner, Amount: uint256.NewInt(5_000_000_000), PartnerInfo: "Q3 payout",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Events)

	balance, err := node.Balance(partner)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000_000), balance.Uint64())
}

func TestSubscribeReceivesCommittedEvents(t *testing.T) {
	var forwarded []string
	node := newTestNode(t, WithEmitter(events.EmitterFunc(func(evt events.Event) {
		forwarded = append(forwarded, evt.EventType())
	})))
	ch, cancel := node.Subscribe(16)
	defer cancel()

	authority := [20]byte{1}
	_, err := node.Execute(context.Background(), authority, InitializeInstruction())
	require.NoError(t, err)
	_, err = node.Execute(context.Background(), [20]byte{9}, SetPauseInstruction(true))
	require.ErrorIs(t, err, rewards.ErrUnauthorized)

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).EventType())
	}
	require.Contains(t, got, events.TypeRewardsInitialized)
	require.Equal(t, got, forwarded)
	require.NotContains(t, got, events.TypeRewardsPauseUpdated)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	node := newTestNode(t)
	ch, cancel := node.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	require.False(t, ok)
}

func TestDecodeInstructionClaimer(t *testing.T) {
	relayed := [20]byte{7}
	tx := &types.Transaction{Type: types.TxTypeClaimCode}
	data, err := json.Marshal(types.ClaimCodePayload{QRHash: "ab", UserEmail: "x@y.z", Claimer: crypto.FormatAddress(relayed)})
	require.NoError(t, err)
	tx.Data = data
	ins, err := DecodeInstruction(tx)
	require.NoError(t, err)
	require.Equal(t, relayed, ins.Claim.Claimer)

	tx.Data = []byte(`{"partner":"nope","amount":"1"}`)
	tx.Type = types.TxTypeTransferToPartner
	_, err = DecodeInstruction(tx)
	require.True(t, errors.Is(err, rewards.ErrInvalidInput))
}
