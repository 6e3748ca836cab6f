package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines which reward instruction a transaction carries.
type TxType byte

const (
	TxTypeInitialize        TxType = 0x01 // Create program state, mint and payout account
	TxTypeGenerateCodes     TxType = 0x02 // Issue a batch of reward codes
	TxTypeClaimCode         TxType = 0x03 // Redeem one reward code
	TxTypeTransferToPartner TxType = 0x04 // Authority payout to a partner
	TxTypeSetPause          TxType = 0x05 // Toggle the program pause flag
)

func (t TxType) String() string {
	switch t {
	case TxTypeInitialize:
		return "initialize"
	case TxTypeGenerateCodes:
		return "generate_codes"
	case TxTypeClaimCode:
		return "claim_code"
	case TxTypeTransferToPartner:
		return "transfer_to_partner"
	case TxTypeSetPause:
		return "set_pause"
	default:
		return "unknown"
	}
}

// Valid reports whether t names a known instruction.
func (t TxType) Valid() bool {
	return t >= TxTypeInitialize && t <= TxTypeSetPause
}

var ErrMissingSignature = errors.New("types: transaction is not signed")

// Transaction is a signed instruction submitted to the ledger. Data carries the
// JSON encoded payload for Type.
type Transaction struct {
	ChainID uint64 `json:"chainId"`
	Type    TxType `json:"type"`
	Nonce   uint64 `json:"nonce"`
	Data    []byte `json:"data,omitempty"`

	R, S, V *big.Int `json:"r,omitempty"`

	from []byte
}

// Hash covers every field except the signature.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		ChainID uint64
		Type    TxType
		Nonce   uint64
		Data    []byte
	}{tx.ChainID, tx.Type, tx.Nonce, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address from the signature.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, ErrMissingSignature
	}
	if len(tx.R.Bytes()) > 32 || len(tx.S.Bytes()) > 32 || tx.V.Uint64() < 27 {
		return nil, errors.New("types: malformed signature")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
