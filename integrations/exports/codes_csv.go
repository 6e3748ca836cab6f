package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
)

var csvHeader = []string{"batch", "sequence", "index", "hash", "claim_url", "partner_id", "batch_info", "reward", "created_at"}

// CodesCSV builds a CSV export for the supplied rows and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func CodesCSV(rows []CodeRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			row.Batch,
			strconv.FormatUint(row.Sequence, 10),
			strconv.FormatUint(uint64(row.Index), 10),
			row.Hash,
			row.ClaimURL,
			row.PartnerID,
			row.BatchInfo,
			row.Reward,
			row.CreatedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
