package core

import (
	"usvchain/core/events"
	"usvchain/crypto"
	"usvchain/native/rewards"
)

// ProgramStateView is the JSON rendering of rewards.ProgramState.
type ProgramStateView struct {
	Address          string `json:"address"`
	Authority        string `json:"authority"`
	TokenMint        string `json:"tokenMint"`
	AuthorityAccount string `json:"authorityAccount"`
	TotalSupply      string `json:"totalSupply"`
	TokensClaimed    string `json:"tokensClaimed"`
	TotalQrCodes     uint64 `json:"totalQrCodes"`
	IsPaused         bool   `json:"isPaused"`
}

// BatchView is the JSON rendering of rewards.QrBatch.
type BatchView struct {
	Address   string   `json:"address"`
	Sequence  uint64   `json:"sequence"`
	Authority string   `json:"authority"`
	Count     uint32   `json:"count"`
	PartnerID string   `json:"partnerId,omitempty"`
	BatchInfo string   `json:"batchInfo,omitempty"`
	QRHashes  []string `json:"qrHashes"`
	CreatedAt uint64   `json:"createdAt"`
}

// ClaimView is the JSON rendering of rewards.ClaimRecord. The email is masked.
type ClaimView struct {
	Address        string `json:"address"`
	QRHash         string `json:"qrHash"`
	Claimer        string `json:"claimer"`
	ClaimerAccount string `json:"claimerAccount"`
	UserEmail      string `json:"userEmail"`
	IsClaimed      bool   `json:"isClaimed"`
	Amount         string `json:"amount"`
	ClaimedAt      uint64 `json:"claimedAt"`
}

// StatsView is the JSON rendering of rewards.Stats.
type StatsView struct {
	Authority        string `json:"authority"`
	TokenMint        string `json:"tokenMint"`
	TotalSupply      string `json:"totalSupply"`
	TokensClaimed    string `json:"tokensClaimed"`
	Remaining        string `json:"remaining"`
	TotalQrCodes     uint64 `json:"totalQrCodes"`
	IsPaused         bool   `json:"isPaused"`
	AuthorityBalance string `json:"authorityBalance"`
}

func NewProgramStateView(ps *rewards.ProgramState) *ProgramStateView {
	if ps == nil {
		return nil
	}
	return &ProgramStateView{
		Address:          crypto.FormatAccount(rewards.StateAddress()),
		Authority:        crypto.FormatAddress(ps.Authority),
		TokenMint:        crypto.FormatAccount(ps.TokenMint),
		AuthorityAccount: crypto.FormatAccount(ps.AuthorityAccount),
		TotalSupply:      ps.TotalSupply.Dec(),
		TokensClaimed:    ps.TokensClaimed.Dec(),
		TotalQrCodes:     ps.TotalQrCodes,
		IsPaused:         ps.Paused,
	}
}

func NewBatchView(addr [20]byte, batch *rewards.QrBatch) *BatchView {
	if batch == nil {
		return nil
	}
	return &BatchView{
		Address:   crypto.FormatAccount(addr),
		Sequence:  batch.Sequence,
		Authority: crypto.FormatAddress(batch.Authority),
		Count:     batch.Count,
		PartnerID: batch.PartnerID,
		BatchInfo: batch.BatchInfo,
		QRHashes:  append([]string(nil), batch.QRHashes...),
		CreatedAt: batch.CreatedAt,
	}
}

func NewClaimView(record *rewards.ClaimRecord) *ClaimView {
	if record == nil {
		return nil
	}
	addr, _ := rewards.ClaimAddress(record.QRHash)
	return &ClaimView{
		Address:        crypto.FormatAccount(addr),
		QRHash:         record.QRHash,
		Claimer:        crypto.FormatAddress(record.Claimer),
		ClaimerAccount: crypto.FormatAccount(record.ClaimerAccount),
		UserEmail:      events.MaskEmail(record.UserEmail),
		IsClaimed:      record.IsClaimed,
		Amount:         record.Amount.Dec(),
		ClaimedAt:      record.ClaimedAt,
	}
}

func NewStatsView(stats *rewards.Stats) *StatsView {
	if stats == nil {
		return nil
	}
	return &StatsView{
		Authority:        crypto.FormatAddress(stats.Authority),
		TokenMint:        crypto.FormatAccount(stats.TokenMint),
		TotalSupply:      stats.TotalSupply.Dec(),
		TokensClaimed:    stats.TokensClaimed.Dec(),
		Remaining:        stats.Remaining.Dec(),
		TotalQrCodes:     stats.TotalQrCodes,
		IsPaused:         stats.Paused,
		AuthorityBalance: stats.AuthorityBalance.Dec(),
	}
}
