package rewards

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// QRHashLen is the length of a hex encoded reward code.
const QRHashLen = 64

// NormalizeQRHash trims and lowercases raw and checks it is a 64 character
// hex string.
func NormalizeQRHash(raw string) (string, error) {
	hash := strings.ToLower(strings.TrimSpace(raw))
	if len(hash) != QRHashLen {
		return "", fmt.Errorf("%w: qr hash must be %d hex characters", ErrInvalidInput, QRHashLen)
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: qr hash must be hex encoded", ErrInvalidInput)
		}
	}
	return hash, nil
}

func validateText(field, value string, limit int, required bool) (string, error) {
	trimmed := strings.TrimSpace(value)
	if required && trimmed == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidInput, field)
	}
	if len(trimmed) > limit {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidInput, field, limit)
	}
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("%w: %s must be valid UTF-8", ErrInvalidInput, field)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: %s contains control characters", ErrInvalidInput, field)
		}
	}
	return trimmed, nil
}

func (e *Engine) validateGenerate(params GenerateParams) (GenerateParams, error) {
	if params.Count < e.params.MinCodesPerBatch || params.Count > e.params.MaxCodesPerBatch {
		return params, fmt.Errorf("%w: count must be between %d and %d", ErrInvalidInput, e.params.MinCodesPerBatch, e.params.MaxCodesPerBatch)
	}
	partnerID, err := validateText("partner id", params.PartnerID, e.params.MaxPartnerIDLen, false)
	if err != nil {
		return params, err
	}
	batchInfo, err := validateText("batch info", params.BatchInfo, e.params.MaxBatchInfoLen, false)
	if err != nil {
		return params, err
	}
	params.PartnerID = partnerID
	params.BatchInfo = batchInfo
	return params, nil
}

func (e *Engine) validateClaim(params ClaimParams) (ClaimParams, error) {
	hash, err := NormalizeQRHash(params.QRHash)
	if err != nil {
		return params, err
	}
	email, err := validateText("user email", params.UserEmail, e.params.MaxEmailLen, true)
	if err != nil {
		return params, err
	}
	params.QRHash = hash
	params.UserEmail = email
	return params, nil
}

func (e *Engine) validateTransfer(params TransferParams) (TransferParams, error) {
	if params.Partner == ([20]byte{}) {
		return params, fmt.Errorf("%w: partner address required", ErrInvalidInput)
	}
	info, err := validateText("partner info", params.PartnerInfo, e.params.MaxPartnerInfoLen, false)
	if err != nil {
		return params, err
	}
	params.PartnerInfo = info
	return params, nil
}
