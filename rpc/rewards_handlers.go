package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"usvchain/core"
	"usvchain/core/state"
	"usvchain/core/types"
	"usvchain/crypto"
	"usvchain/native/rewards"
)

// Error codes returned for rejected reward instructions.
const (
	codeAlreadyInitialized   = -32040
	codeNotInitialized       = -32041
	codeAlreadyClaimed       = -32042
	codeProgramPaused        = -32043
	codeBelowMinimumTransfer = -32044
	codeSequenceConflict     = -32045
	codeInsufficientFunds    = -32046
	codeNonceMismatch        = -32047
)

type instructionErrorData struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
	Receipt   *core.Receipt `json:"receipt,omitempty"`
}

func rpcErrorFor(err error) (int, int) {
	switch {
	case errors.Is(err, rewards.ErrAlreadyInitialized):
		return http.StatusConflict, codeAlreadyInitialized
	case errors.Is(err, rewards.ErrNotInitialized):
		return http.StatusConflict, codeNotInitialized
	case errors.Is(err, rewards.ErrUnauthorized):
		return http.StatusForbidden, codeUnauthorized
	case errors.Is(err, rewards.ErrAlreadyClaimed):
		return http.StatusConflict, codeAlreadyClaimed
	case errors.Is(err, rewards.ErrProgramPaused):
		return http.StatusServiceUnavailable, codeProgramPaused
	case errors.Is(err, rewards.ErrBelowMinimumTransfer):
		return http.StatusBadRequest, codeBelowMinimumTransfer
	case errors.Is(err, rewards.ErrSequenceConflict):
		return http.StatusConflict, codeSequenceConflict
	case errors.Is(err, rewards.ErrInsufficientFunds):
		return http.StatusConflict, codeInsufficientFunds
	case errors.Is(err, core.ErrNonceMismatch):
		return http.StatusConflict, codeNonceMismatch
	case errors.Is(err, rewards.ErrInvalidInput),
		errors.Is(err, core.ErrInvalidChainID),
		errors.Is(err, core.ErrUnknownInstruction),
		errors.Is(err, types.ErrMissingSignature):
		return http.StatusBadRequest, codeInvalidParams
	default:
		return http.StatusInternalServerError, codeServerError
	}
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}
	hashBytes, err := tx.Hash()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to hash transaction", err.Error())
		return
	}
	hash := "0x" + hex.EncodeToString(hashBytes)
	if !s.rememberTx(hash, s.now()) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "transaction has already been submitted", hash)
		return
	}
	receipt, err := s.node.Submit(r.Context(), &tx)
	if err != nil {
		s.forgetTx(hash)
		status, code := rpcErrorFor(err)
		data := &instructionErrorData{
			Code:      rewards.Code(err),
			Message:   rewards.UserMessage(err),
			Retryable: rewards.Retryable(err),
			Receipt:   receipt,
		}
		if receipt != nil {
			data.Code = receipt.Code
			data.Message = receipt.Message
		}
		writeError(w, status, req.ID, code, err.Error(), data)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetProgramState(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	ps, err := s.node.ProgramState()
	if err != nil {
		status, code := rpcErrorFor(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, core.NewProgramStateView(ps))
}

type paramsResult struct {
	ChainID                uint64 `json:"chainId"`
	TotalSupply            string `json:"totalSupply"`
	RewardPerClaim         string `json:"rewardPerClaim"`
	MinimumPartnerTransfer string `json:"minimumPartnerTransfer"`
	MaxCodesPerBatch       uint32 `json:"maxCodesPerBatch"`
	Decimals               uint8  `json:"decimals"`
	RequireIssuedCodes     bool   `json:"requireIssuedCodes"`
}

func (s *Server) handleGetParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params := s.node.Params()
	writeResult(w, req.ID, paramsResult{
		ChainID:                s.node.ChainID(),
		TotalSupply:            params.TotalSupply.Dec(),
		RewardPerClaim:         params.RewardPerClaim.Dec(),
		MinimumPartnerTransfer: params.MinimumPartnerTransfer.Dec(),
		MaxCodesPerBatch:       params.MaxCodesPerBatch,
		Decimals:               params.Decimals,
		RequireIssuedCodes:     params.RequireIssuedCodes,
	})
}

type batchParams struct {
	Address   string  `json:"address,omitempty"`
	Authority string  `json:"authority,omitempty"`
	Sequence  *uint64 `json:"sequence,omitempty"`
}

func (s *Server) handleGetBatch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params batchParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	var (
		batch *rewards.QrBatch
		addr  [20]byte
		err   error
	)
	switch {
	case strings.TrimSpace(params.Address) != "":
		addr, err = crypto.ParseAddress(params.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
			return
		}
		batch, err = s.node.BatchByAddress(addr)
	case params.Sequence != nil:
		var authority [20]byte
		if strings.TrimSpace(params.Authority) != "" {
			authority, err = crypto.ParseAddress(params.Authority)
			if err != nil {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid authority", err.Error())
				return
			}
		} else {
			ps, psErr := s.node.ProgramState()
			if psErr != nil {
				status, code := rpcErrorFor(psErr)
				writeError(w, status, req.ID, code, psErr.Error(), nil)
				return
			}
			authority = ps.Authority
		}
		batch, addr, err = s.node.Batch(authority, *params.Sequence)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address or sequence required", nil)
		return
	}
	if err != nil {
		status, code := rpcErrorFor(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	if batch == nil {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "batch not found", nil)
		return
	}
	writeResult(w, req.ID, core.NewBatchView(addr, batch))
}

type claimStatusResult struct {
	QRHash  string          `json:"qrHash"`
	Address string          `json:"address"`
	Claimed bool            `json:"claimed"`
	Claim   *core.ClaimView `json:"claim,omitempty"`
}

func parseStringParam(raw json.RawMessage, field string) (string, error) {
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return strings.TrimSpace(direct), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	value, ok := obj[field]
	if !ok {
		return "", errors.New(field + " required")
	}
	if err := json.Unmarshal(value, &direct); err != nil {
		return "", err
	}
	return strings.TrimSpace(direct), nil
}

func (s *Server) handleGetClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "qrHash parameter required", nil)
		return
	}
	raw, err := parseStringParam(req.Params[0], "qrHash")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid qrHash parameter", err.Error())
		return
	}
	hash, err := rewards.NormalizeQRHash(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	record, err := s.node.Claim(hash)
	if err != nil {
		status, code := rpcErrorFor(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	addr, _ := rewards.ClaimAddress(hash)
	writeResult(w, req.ID, claimStatusResult{
		QRHash:  hash,
		Address: crypto.FormatAccount(addr),
		Claimed: record != nil && record.IsClaimed,
		Claim:   core.NewClaimView(record),
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	stats, err := s.node.Stats()
	if err != nil {
		status, code := rpcErrorFor(err)
		writeError(w, status, req.ID, code, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, core.NewStatsView(stats))
}

type balanceResult struct {
	Address string `json:"address"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

func (s *Server) parseAddressParam(w http.ResponseWriter, req *RPCRequest, field string) ([20]byte, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address parameter required", nil)
		return [20]byte{}, false
	}
	raw, err := parseStringParam(req.Params[0], field)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", err.Error())
		return [20]byte{}, false
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.parseAddressParam(w, req, "owner")
	if !ok {
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load balance", err.Error())
		return
	}
	writeResult(w, req.ID, balanceResult{
		Address: crypto.FormatAddress(addr),
		Account: crypto.FormatAccount(state.AssociatedAccountAddress(addr, rewards.MintAddress())),
		Balance: balance.Dec(),
	})
}

type nonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

func (s *Server) handleGetNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := s.parseAddressParam(w, req, "address")
	if !ok {
		return
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load nonce", err.Error())
		return
	}
	writeResult(w, req.ID, nonceResult{Address: crypto.FormatAddress(addr), Nonce: nonce})
}

type deriveParams struct {
	Authority string  `json:"authority,omitempty"`
	Sequence  *uint64 `json:"sequence,omitempty"`
	QRHash    string  `json:"qrHash,omitempty"`
	Owner     string  `json:"owner,omitempty"`
}

type deriveResult struct {
	Program       string `json:"program"`
	State         string `json:"state"`
	Mint          string `json:"mint"`
	MintAuthority string `json:"mintAuthority"`
	Batch         string `json:"batch,omitempty"`
	Claim         string `json:"claim,omitempty"`
	OwnerAccount  string `json:"ownerAccount,omitempty"`
}

// handleDeriveAddresses lets clients resolve record addresses without
// reimplementing the derivation rules.
func (s *Server) handleDeriveAddresses(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params deriveParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return
		}
	}
	result := deriveResult{
		Program:       crypto.FormatAccount(rewards.ProgramID),
		State:         crypto.FormatAccount(rewards.StateAddress()),
		Mint:          crypto.FormatAccount(rewards.MintAddress()),
		MintAuthority: crypto.FormatAccount(rewards.MintAuthority()),
	}
	if params.Sequence != nil {
		if strings.TrimSpace(params.Authority) == "" {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "authority required with sequence", nil)
			return
		}
		authority, err := crypto.ParseAddress(params.Authority)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid authority", err.Error())
			return
		}
		result.Batch = crypto.FormatAccount(rewards.BatchAddress(authority, *params.Sequence))
	}
	if strings.TrimSpace(params.QRHash) != "" {
		hash, err := rewards.NormalizeQRHash(params.QRHash)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		addr, err := rewards.ClaimAddress(hash)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		result.Claim = crypto.FormatAccount(addr)
	}
	if strings.TrimSpace(params.Owner) != "" {
		owner, err := crypto.ParseAddress(params.Owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
			return
		}
		result.OwnerAccount = crypto.FormatAccount(state.AssociatedAccountAddress(owner, rewards.MintAddress()))
	}
	writeResult(w, req.ID, result)
}
