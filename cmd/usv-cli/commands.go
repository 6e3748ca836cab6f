package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"

	"usvchain/core"
	"usvchain/core/types"
	"usvchain/crypto"
	"usvchain/native/rewards"
)

// maxSequenceRetries bounds how often generate re-reads the counter after
// losing a race with another issuer.
const maxSequenceRetries = 5

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the authority keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	receipt, err := sendInstruction(key, types.TxTypeInitialize, nil)
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the authority keystore")
	count := fs.Uint("count", 0, "Number of codes to issue")
	partner := fs.String("partner", "", "Partner identifier")
	info := fs.String("info", "", "Batch description")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n, err := batchCount(*count)
	if err != nil {
		return err
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	receipt, err := generateBatch(key, n, *partner, *info)
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func batchCount(count uint) (uint32, error) {
	if count == 0 {
		return 0, errors.New("--count must be positive")
	}
	if uint64(count) > math.MaxUint32 {
		return 0, fmt.Errorf("--count %d out of range", count)
	}
	return uint32(count), nil
}

// generateBatch reads the current code counter and submits a batch for it,
// retrying when another issuer consumed the sequence first.
func generateBatch(key *crypto.PrivateKey, count uint32, partner, info string) (*core.Receipt, error) {
	var lastErr error
	for attempt := 0; attempt < maxSequenceRetries; attempt++ {
		var state core.ProgramStateView
		if err := callInto("usv_getProgramState", nil, &state); err != nil {
			return nil, err
		}
		receipt, err := sendInstruction(key, types.TxTypeGenerateCodes, types.GenerateCodesPayload{
			Sequence:  state.TotalQrCodes,
			Count:     count,
			PartnerID: partner,
			BatchInfo: info,
		})
		if err == nil {
			return receipt, nil
		}
		if failureCode(err) != rewards.CodeSequenceConflict {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("gave up after %d sequence conflicts: %w", maxSequenceRetries, lastErr)
}

func runClaim(args []string) error {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the signing keystore")
	code := fs.String("code", "", "QR code hash")
	email := fs.String("email", "", "Claimant email")
	claimer := fs.String("claimer", "", "Recipient address when relaying a claim")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*code) == "" {
		return errors.New("--code is required")
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	receipt, err := sendInstruction(key, types.TxTypeClaimCode, types.ClaimCodePayload{
		QRHash:    *code,
		UserEmail: *email,
		Claimer:   strings.TrimSpace(*claimer),
	})
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func runTransfer(args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the authority keystore")
	partner := fs.String("partner", "", "Partner address")
	amount := fs.String("amount", "", "Amount in base units")
	info := fs.String("info", "", "Partner memo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := crypto.ParseAddress(*partner); err != nil {
		return fmt.Errorf("--partner: %w", err)
	}
	if strings.TrimSpace(*amount) == "" {
		return errors.New("--amount is required")
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	receipt, err := sendInstruction(key, types.TxTypeTransferToPartner, types.TransferToPartnerPayload{
		Partner:     strings.TrimSpace(*partner),
		Amount:      strings.TrimSpace(*amount),
		PartnerInfo: *info,
	})
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func runPause(args []string) error {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the authority keystore")
	resume := fs.Bool("resume", false, "Clear the pause flag instead of setting it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	receipt, err := sendInstruction(key, types.TxTypeSetPause, types.SetPausePayload{Paused: !*resume})
	if err != nil {
		return err
	}
	return printJSON(receipt)
}

func runState(args []string) error {
	if len(args) != 0 {
		return errors.New("state takes no arguments")
	}
	result, err := callRPC("usv_getProgramState", nil, false)
	if err != nil {
		return err
	}
	return printJSONResult(result)
}

func runStats(args []string) error {
	if len(args) != 0 {
		return errors.New("stats takes no arguments")
	}
	result, err := callRPC("usv_getStats", nil, false)
	if err != nil {
		return err
	}
	return printJSONResult(result)
}

type batchQuery struct {
	Address   string  `json:"address,omitempty"`
	Authority string  `json:"authority,omitempty"`
	Sequence  *uint64 `json:"sequence,omitempty"`
}

func batchFlags(fs *flag.FlagSet) func() (batchQuery, error) {
	address := fs.String("address", "", "Batch account address")
	authority := fs.String("authority", "", "Issuing authority (defaults to the program authority)")
	sequence := fs.Int64("sequence", -1, "Batch sequence")
	return func() (batchQuery, error) {
		q := batchQuery{Address: strings.TrimSpace(*address), Authority: strings.TrimSpace(*authority)}
		if *sequence >= 0 {
			seq := uint64(*sequence)
			q.Sequence = &seq
		}
		if q.Address == "" && q.Sequence == nil {
			return q, errors.New("either --address or --sequence is required")
		}
		return q, nil
	}
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	query := batchFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := query()
	if err != nil {
		return err
	}
	result, err := callRPC("usv_getBatch", q, false)
	if err != nil {
		return err
	}
	return printJSONResult(result)
}

func runClaimStatus(args []string) error {
	fs := flag.NewFlagSet("claim-status", flag.ContinueOnError)
	code := fs.String("code", "", "QR code hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*code) == "" {
		return errors.New("--code is required")
	}
	result, err := callRPC("usv_getClaim", map[string]string{"qrHash": strings.TrimSpace(*code)}, false)
	if err != nil {
		return err
	}
	return printJSONResult(result)
}

func runBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	owner := fs.String("owner", "", "Owner address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := crypto.ParseAddress(*owner); err != nil {
		return fmt.Errorf("--owner: %w", err)
	}
	result, err := callRPC("usv_getBalance", map[string]string{"owner": strings.TrimSpace(*owner)}, false)
	if err != nil {
		return err
	}
	return printJSONResult(result)
}
