package rewards

import "errors"

var (
	ErrAlreadyInitialized   = errors.New("rewards: already initialized")
	ErrNotInitialized       = errors.New("rewards: program not initialized")
	ErrUnauthorized         = errors.New("rewards: unauthorized")
	ErrAlreadyClaimed       = errors.New("rewards: code already claimed")
	ErrProgramPaused        = errors.New("rewards: program paused")
	ErrBelowMinimumTransfer = errors.New("rewards: amount below minimum partner transfer")
	ErrSequenceConflict     = errors.New("rewards: batch sequence conflict")
	ErrInsufficientFunds    = errors.New("rewards: insufficient funds")
	ErrInvalidInput         = errors.New("rewards: invalid input")
)

// Stable machine codes for the error taxonomy.
const (
	CodeAlreadyInitialized   = "already_initialized"
	CodeNotInitialized       = "not_initialized"
	CodeUnauthorized         = "unauthorized"
	CodeAlreadyClaimed       = "already_claimed"
	CodeProgramPaused        = "program_paused"
	CodeBelowMinimumTransfer = "below_minimum_transfer"
	CodeSequenceConflict     = "sequence_conflict"
	CodeInsufficientFunds    = "insufficient_funds"
	CodeInvalidInput         = "invalid_input"
	CodeInternal             = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrNotInitialized, CodeNotInitialized},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrAlreadyClaimed, CodeAlreadyClaimed},
	{ErrProgramPaused, CodeProgramPaused},
	{ErrBelowMinimumTransfer, CodeBelowMinimumTransfer},
	{ErrSequenceConflict, CodeSequenceConflict},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrInvalidInput, CodeInvalidInput},
}

// Code maps err onto its stable machine code. Nil maps to the empty string;
// errors outside the taxonomy map to CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// UserMessage returns the text shown to end users for err.
func UserMessage(err error) string {
	switch Code(err) {
	case "":
		return ""
	case CodeAlreadyClaimed:
		return "this code has already been redeemed"
	case CodeProgramPaused:
		return "rewards temporarily paused"
	default:
		return "something went wrong, please try again later or contact support"
	}
}

// Retryable reports whether resubmitting later (or with a refreshed counter)
// may succeed.
func Retryable(err error) bool {
	switch Code(err) {
	case CodeProgramPaused, CodeSequenceConflict:
		return true
	default:
		return false
	}
}
