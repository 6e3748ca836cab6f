package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"usvchain/core"
	"usvchain/core/types"
	"usvchain/crypto"
)

// rpcError is a JSON-RPC error returned by the node.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if detail := instructionDetail(e); detail != "" {
		return fmt.Sprintf("error from node: %s (%s)", e.Message, detail)
	}
	return fmt.Sprintf("error from node: %s", e.Message)
}

type instructionFailure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func instructionDetail(e *rpcError) string {
	if len(e.Data) == 0 {
		return ""
	}
	var data instructionFailure
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Code == "" {
		return ""
	}
	return data.Code
}

// failureCode returns the instruction error code carried by err, if any.
func failureCode(err error) string {
	var re *rpcError
	if !errors.As(err, &re) {
		return ""
	}
	return instructionDetail(re)
}

func doRPCRequest(payload []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(rpcAuthToken); requireAuth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	return resp, nil
}

func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node (HTTP %d)", resp.StatusCode)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func callInto(method string, param interface{}, out interface{}) error {
	result, err := callRPC(method, param, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

type chainParams struct {
	ChainID          uint64 `json:"chainId"`
	RewardPerClaim   string `json:"rewardPerClaim"`
	MaxCodesPerBatch uint32 `json:"maxCodesPerBatch"`
}

// sendInstruction signs payload as a txType transaction with the signer's
// next nonce and submits it.
func sendInstruction(key *crypto.PrivateKey, txType types.TxType, payload interface{}) (*core.Receipt, error) {
	var params chainParams
	if err := callInto("usv_getParams", nil, &params); err != nil {
		return nil, err
	}
	signer := key.PubKey().Address().String()
	var nonce struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := callInto("usv_getNonce", map[string]string{"address": signer}, &nonce); err != nil {
		return nil, err
	}

	tx := &types.Transaction{ChainID: params.ChainID, Type: txType, Nonce: nonce.Nonce}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		tx.Data = data
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	result, err := callRPC("usv_sendTransaction", tx, true)
	if err != nil {
		return nil, err
	}
	var receipt core.Receipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}

func printJSONResult(result json.RawMessage) error {
	if len(result) == 0 {
		_, err := fmt.Fprintln(stdout, "No result.")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		_, err = fmt.Fprintln(stdout, string(result))
		return err
	}
	_, err := fmt.Fprintln(stdout, buf.String())
	return err
}
