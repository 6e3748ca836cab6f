package events

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"usvchain/core/types"
	"usvchain/crypto"
)

const (
	TypeRewardsInitialized     = "rewards.initialized"
	TypeRewardsCodesGenerated  = "rewards.codes.generated"
	TypeRewardsCodeClaimed     = "rewards.code.claimed"
	TypeRewardsPartnerTransfer = "rewards.partner.transfer"
	TypeRewardsPauseUpdated    = "rewards.pause.updated"
)

type RewardsInitialized struct {
	Authority        [20]byte
	Mint             [20]byte
	AuthorityAccount [20]byte
	TotalSupply      *uint256.Int
	Decimals         uint8
}

func (RewardsInitialized) EventType() string { return TypeRewardsInitialized }

func (e RewardsInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsInitialized,
		Attributes: map[string]string{
			"authority":        crypto.FormatAddress(e.Authority),
			"mint":             crypto.FormatAccount(e.Mint),
			"authorityAccount": crypto.FormatAccount(e.AuthorityAccount),
			"totalSupply":      formatAmount(e.TotalSupply),
			"decimals":         strconv.Itoa(int(e.Decimals)),
		},
	}
}

// RewardsCodesGenerated carries every hash of a freshly issued batch.
type RewardsCodesGenerated struct {
	Authority    [20]byte
	Batch        [20]byte
	Sequence     uint64
	Count        uint32
	PartnerID    string
	BatchInfo    string
	Hashes       []string
	TotalQrCodes uint64
	CreatedAt    int64
}

func (RewardsCodesGenerated) EventType() string { return TypeRewardsCodesGenerated }

func (e RewardsCodesGenerated) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsCodesGenerated,
		Attributes: map[string]string{
			"authority":    crypto.FormatAddress(e.Authority),
			"batch":        crypto.FormatAccount(e.Batch),
			"sequence":     uintToString(e.Sequence),
			"count":        uintToString(uint64(e.Count)),
			"partnerId":    e.PartnerID,
			"batchInfo":    e.BatchInfo,
			"hashes":       strings.Join(e.Hashes, ","),
			"totalQrCodes": uintToString(e.TotalQrCodes),
			"createdAt":    intToString(e.CreatedAt),
		},
	}
}

// RewardsCodeClaimed is emitted once per redeemed code. UserEmail is only
// rendered masked.
type RewardsCodeClaimed struct {
	QRHash         string
	Claimer        [20]byte
	ClaimerAccount [20]byte
	UserEmail      string
	Amount         *uint256.Int
	TokensClaimed  *uint256.Int
	ClaimedAt      int64
}

func (RewardsCodeClaimed) EventType() string { return TypeRewardsCodeClaimed }

func (e RewardsCodeClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsCodeClaimed,
		Attributes: map[string]string{
			"qrHash":         e.QRHash,
			"claimer":        crypto.FormatAddress(e.Claimer),
			"claimerAccount": crypto.FormatAccount(e.ClaimerAccount),
			"email":          MaskEmail(e.UserEmail),
			"amount":         formatAmount(e.Amount),
			"tokensClaimed":  formatAmount(e.TokensClaimed),
			"claimedAt":      intToString(e.ClaimedAt),
		},
	}
}

type RewardsPartnerTransfer struct {
	Authority      [20]byte
	Partner        [20]byte
	PartnerAccount [20]byte
	Amount         *uint256.Int
	PartnerInfo    string
}

func (RewardsPartnerTransfer) EventType() string { return TypeRewardsPartnerTransfer }

func (e RewardsPartnerTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsPartnerTransfer,
		Attributes: map[string]string{
			"authority":      crypto.FormatAddress(e.Authority),
			"partner":        crypto.FormatAddress(e.Partner),
			"partnerAccount": crypto.FormatAccount(e.PartnerAccount),
			"amount":         formatAmount(e.Amount),
			"partnerInfo":    e.PartnerInfo,
		},
	}
}

type RewardsPauseUpdated struct {
	Authority [20]byte
	Paused    bool
}

func (RewardsPauseUpdated) EventType() string { return TypeRewardsPauseUpdated }

func (e RewardsPauseUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardsPauseUpdated,
		Attributes: map[string]string{
			"authority": crypto.FormatAddress(e.Authority),
			"paused":    strconv.FormatBool(e.Paused),
		},
	}
}
