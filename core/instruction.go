package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"usvchain/core/types"
	"usvchain/crypto"
	"usvchain/native/rewards"
)

// Instruction is a decoded reward instruction ready for execution.
type Instruction struct {
	Type     types.TxType
	Generate rewards.GenerateParams
	Claim    rewards.ClaimParams
	Transfer rewards.TransferParams
	Paused   bool
}

func InitializeInstruction() Instruction {
	return Instruction{Type: types.TxTypeInitialize}
}

func GenerateCodesInstruction(params rewards.GenerateParams) Instruction {
	return Instruction{Type: types.TxTypeGenerateCodes, Generate: params}
}

func ClaimCodeInstruction(params rewards.ClaimParams) Instruction {
	return Instruction{Type: types.TxTypeClaimCode, Claim: params}
}

func TransferToPartnerInstruction(params rewards.TransferParams) Instruction {
	return Instruction{Type: types.TxTypeTransferToPartner, Transfer: params}
}

func SetPauseInstruction(paused bool) Instruction {
	return Instruction{Type: types.TxTypeSetPause, Paused: paused}
}

func decodeStrict(data []byte, out interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: missing payload", rewards.ErrInvalidInput)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode payload: %v", rewards.ErrInvalidInput, err)
	}
	return nil
}

// DecodeInstruction turns a transaction payload into an Instruction.
func DecodeInstruction(tx *types.Transaction) (Instruction, error) {
	if tx == nil {
		return Instruction{}, fmt.Errorf("%w: nil transaction", rewards.ErrInvalidInput)
	}
	switch tx.Type {
	case types.TxTypeInitialize:
		return InitializeInstruction(), nil
	case types.TxTypeGenerateCodes:
		var payload types.GenerateCodesPayload
		if err := decodeStrict(tx.Data, &payload); err != nil {
			return Instruction{}, err
		}
		return GenerateCodesInstruction(rewards.GenerateParams{
			Sequence:  payload.Sequence,
			Count:     payload.Count,
			PartnerID: payload.PartnerID,
			BatchInfo: payload.BatchInfo,
		}), nil
	case types.TxTypeClaimCode:
		var payload types.ClaimCodePayload
		if err := decodeStrict(tx.Data, &payload); err != nil {
			return Instruction{}, err
		}
		params := rewards.ClaimParams{QRHash: payload.QRHash, UserEmail: payload.UserEmail}
		if claimer := strings.TrimSpace(payload.Claimer); claimer != "" {
			addr, err := crypto.ParseAddress(claimer)
			if err != nil {
				return Instruction{}, fmt.Errorf("%w: claimer: %v", rewards.ErrInvalidInput, err)
			}
			params.Claimer = addr
		}
		return ClaimCodeInstruction(params), nil
	case types.TxTypeTransferToPartner:
		var payload types.TransferToPartnerPayload
		if err := decodeStrict(tx.Data, &payload); err != nil {
			return Instruction{}, err
		}
		partner, err := crypto.ParseAddress(payload.Partner)
		if err != nil {
			return Instruction{}, fmt.Errorf("%w: partner: %v", rewards.ErrInvalidInput, err)
		}
		amount, err := uint256.FromDecimal(strings.TrimSpace(payload.Amount))
		if err != nil {
			return Instruction{}, fmt.Errorf("%w: amount: %v", rewards.ErrInvalidInput, err)
		}
		return TransferToPartnerInstruction(rewards.TransferParams{
			Partner:     partner,
			Amount:      amount,
			PartnerInfo: payload.PartnerInfo,
		}), nil
	case types.TxTypeSetPause:
		var payload types.SetPausePayload
		if err := decodeStrict(tx.Data, &payload); err != nil {
			return Instruction{}, err
		}
		return SetPauseInstruction(payload.Paused), nil
	default:
		return Instruction{}, fmt.Errorf("%w: unknown transaction type %d", rewards.ErrInvalidInput, tx.Type)
	}
}
