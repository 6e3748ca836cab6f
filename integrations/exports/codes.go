package exports

import (
	"net/url"
	"strings"
	"time"

	"usvchain/crypto"
	"usvchain/native/rewards"
)

// CodeRow is one printable reward code.
type CodeRow struct {
	Batch     string `json:"batch"`
	Sequence  uint64 `json:"sequence"`
	Index     uint32 `json:"index"`
	Hash      string `json:"hash"`
	ClaimURL  string `json:"claimUrl,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
	BatchInfo string `json:"batchInfo,omitempty"`
	Reward    string `json:"reward"`
	CreatedAt string `json:"createdAt"`
}

// BuildRows expands a batch into printable rows. claimBase, when set, is the
// landing page the QR code points at; the hash is appended as the "code"
// query parameter.
func BuildRows(addr [20]byte, batch *rewards.QrBatch, reward string, claimBase string) []CodeRow {
	if batch == nil {
		return nil
	}
	created := time.Unix(int64(batch.CreatedAt), 0).UTC().Format(time.RFC3339)
	rows := make([]CodeRow, len(batch.QRHashes))
	for i, hash := range batch.QRHashes {
		rows[i] = CodeRow{
			Batch:     crypto.FormatAccount(addr),
			Sequence:  batch.Sequence,
			Index:     uint32(i),
			Hash:      hash,
			ClaimURL:  claimURL(claimBase, hash),
			PartnerID: batch.PartnerID,
			BatchInfo: batch.BatchInfo,
			Reward:    reward,
			CreatedAt: created,
		}
	}
	return rows
}

func claimURL(base, hash string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("code", hash)
	u.RawQuery = q.Encode()
	return u.String()
}
