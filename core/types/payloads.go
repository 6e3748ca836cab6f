package types

// GenerateCodesPayload is the Data of a TxTypeGenerateCodes transaction.
// Sequence must equal the program's current code counter.
type GenerateCodesPayload struct {
	Sequence  uint64 `json:"sequence"`
	Count     uint32 `json:"count"`
	PartnerID string `json:"partnerId"`
	BatchInfo string `json:"batchInfo"`
}

// ClaimCodePayload is the Data of a TxTypeClaimCode transaction. Claimer is
// optional; when empty the signer receives the reward.
type ClaimCodePayload struct {
	QRHash    string `json:"qrHash"`
	UserEmail string `json:"userEmail"`
	Claimer   string `json:"claimer,omitempty"`
}

// TransferToPartnerPayload is the Data of a TxTypeTransferToPartner
// transaction. Amount is a base-unit decimal string.
type TransferToPartnerPayload struct {
	Partner     string `json:"partner"`
	Amount      string `json:"amount"`
	PartnerInfo string `json:"partnerInfo"`
}

// SetPausePayload is the Data of a TxTypeSetPause transaction.
type SetPausePayload struct {
	Paused bool `json:"paused"`
}
