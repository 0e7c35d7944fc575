package xelis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xelminer/xelminer/pkg/circuit"
	"github.com/xelminer/xelminer/pkg/errors"
	"github.com/xelminer/xelminer/pkg/retry"
)

// Contract storage keys read during a chain-state refresh.
const (
	keyBlockHeight  = "block"
	keyDifficulty   = "diff"
	keyPreviousHash = "prev_hash"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      int64  `json:"id"`
	Params  any    `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// typedParam is the chain's typed-parameter encoding for primitive values.
type typedParam struct {
	Type  string     `json:"type"`
	Value typedValue `json:"value"`
}

// typedValue carries the primitive's concrete type and string-encoded value.
type typedValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func stringParam(v string) typedParam {
	return typedParam{Type: "primitive", Value: typedValue{Type: "string", Value: v}}
}

func u64Param(v uint64) typedParam {
	return typedParam{Type: "primitive", Value: typedValue{Type: "u64", Value: strconv.FormatUint(v, 10)}}
}

// RPCConfig holds the endpoints and contract parameters for the RPC client.
type RPCConfig struct {
	// NodeURL is the chain node's JSON-RPC endpoint (contract state queries).
	NodeURL string
	// WalletURL is the wallet's JSON-RPC endpoint (transaction building).
	WalletURL string
	// WalletUser and WalletPassword are HTTP basic auth credentials for the wallet.
	WalletUser     string
	WalletPassword string
	// Contract is the hex hash of the mineable token contract.
	Contract string
	// SubmitEntryID is the contract entry point for solution submission.
	SubmitEntryID uint64
	// MaxGas is the gas ceiling attached to submission transactions.
	MaxGas uint64
	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout time.Duration
}

// RPCClient speaks JSON-RPC 2.0 over HTTP to the chain node and the wallet.
// Chain-state queries are wrapped in retry and circuit-breaker protection in
// the same way the pool wraps its upstream RPC; solution submission is a
// strict single attempt because the contract is the source of truth for
// acceptance.
type RPCClient struct {
	cfg        RPCConfig
	httpClient *http.Client

	nodeBreaker   *circuit.Breaker
	walletBreaker *circuit.Breaker
	retryConfig   *retry.Config
	submitConfig  *retry.Config

	reqID atomic.Int64
}

// NewRPCClient creates an RPC client for the given endpoints.
func NewRPCClient(cfg RPCConfig) *RPCClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &RPCClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		nodeBreaker: circuit.New(&circuit.Config{
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         10 * time.Second,
			ResetTimeout:    30 * time.Second,
		}),
		walletBreaker: circuit.New(circuit.DefaultConfig()),
		retryConfig:   retry.NetworkConfig(),
		submitConfig:  retry.SubmitConfig(),
	}
}

// call performs one JSON-RPC round trip against url.
func (c *RPCClient) call(ctx context.Context, url, method string, params any, walletAuth bool) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.reqID.Add(1),
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, method, "failed to encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, method, "failed to build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if walletAuth && c.cfg.WalletUser != "" {
		httpReq.SetBasicAuth(c.cfg.WalletUser, c.cfg.WalletPassword)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, method, "request failed").
			WithContext("url", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.ErrorTypeTransport, method,
			"unexpected HTTP status").
			WithContext("status", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, method, "failed to read response")
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, method, "malformed response")
	}
	if rpcResp.Error != nil {
		return nil, errors.Wrap(rpcResp.Error, errors.ErrorTypeTransport, method, "server returned error")
	}

	return rpcResp.Result, nil
}

// contractDataResult models the nested get_contract_data response shape.
type contractDataResult struct {
	Data struct {
		Value struct {
			Value json.RawMessage `json:"value"`
		} `json:"value"`
	} `json:"data"`
}

// GetContractData reads one named value from the contract's storage.
func (c *RPCClient) GetContractData(ctx context.Context, key string) (json.RawMessage, error) {
	params := map[string]any{
		"contract": c.cfg.Contract,
		"key":      stringParam(key),
	}

	return circuit.ExecuteWithResult(ctx, c.nodeBreaker, func() (json.RawMessage, error) {
		return retry.DoWithResult(ctx, c.retryConfig, func() (json.RawMessage, error) {
			result, err := c.call(ctx, c.cfg.NodeURL, "get_contract_data", params, false)
			if err != nil {
				return nil, err
			}

			var data contractDataResult
			if err := json.Unmarshal(result, &data); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "get_contract_data",
					"unexpected contract data shape").
					WithContext("key", key)
			}
			if len(data.Data.Value.Value) == 0 {
				return nil, errors.New(errors.ErrorTypeChainSync, "get_contract_data",
					"contract data value missing").
					WithContext("key", key)
			}

			return data.Data.Value.Value, nil
		})
	})
}

// SyncChainState queries block height, difficulty, and previous-solution hash
// and assembles a fresh MiningParameters snapshot stamped with the current
// wall-clock time in milliseconds. The three reads are not atomic with
// respect to each other; a solution built from an inconsistent snapshot is
// simply rejected by the contract.
func (c *RPCClient) SyncChainState(ctx context.Context) (*MiningParameters, error) {
	heightRaw, err := c.GetContractData(ctx, keyBlockHeight)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "sync_chain_state",
			"failed to read block height")
	}
	height, err := decodeUint(heightRaw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "sync_chain_state",
			"failed to parse block height")
	}

	diffRaw, err := c.GetContractData(ctx, keyDifficulty)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "sync_chain_state",
			"failed to read difficulty")
	}
	difficulty, err := decodeBig(diffRaw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "sync_chain_state",
			"failed to parse difficulty")
	}

	prevRaw, err := c.GetContractData(ctx, keyPreviousHash)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "sync_chain_state",
			"failed to read previous hash")
	}
	prevHash, err := decodeHash(prevRaw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeChainSync, "sync_chain_state",
			"failed to parse previous hash")
	}

	return &MiningParameters{
		BlockHeight:       height,
		Difficulty:        difficulty,
		PreviousHash:      prevHash,
		TemplateTimestamp: uint64(time.Now().UnixMilli()),
	}, nil
}

// SubmitSolution builds and broadcasts a contract invocation carrying the
// winning nonce and template timestamp, and returns the structured contract
// return code. The attempt is made exactly once.
func (c *RPCClient) SubmitSolution(ctx context.Context, nonce, timestamp uint64) (int64, error) {
	params := map[string]any{
		"invoke_contract": map[string]any{
			"contract":   c.cfg.Contract,
			"max_gas":    c.cfg.MaxGas,
			"entry_id":   c.cfg.SubmitEntryID,
			"parameters": []typedParam{u64Param(nonce), u64Param(timestamp)},
			"permission": "all",
		},
		"broadcast": true,
	}

	return circuit.ExecuteWithResult(ctx, c.walletBreaker, func() (int64, error) {
		return retry.DoWithResult(ctx, c.submitConfig, func() (int64, error) {
			result, err := c.call(ctx, c.cfg.WalletURL, "build_transaction", params, true)
			if err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeSubmission, "submit_solution",
					"failed to build and broadcast transaction").
					WithContext("nonce", nonce)
			}

			code, ok := parseReturnCode(result)
			if !ok {
				return 0, errors.New(errors.ErrorTypeSubmission, "submit_solution",
					"transaction result carries no return code")
			}

			return code, nil
		})
	})
}

// parseReturnCode extracts the contract's numeric return code from the known
// response shapes: tx.result, result, or return_value.
func parseReturnCode(result json.RawMessage) (int64, bool) {
	var envelope struct {
		Tx *struct {
			Result *int64 `json:"result"`
		} `json:"tx"`
		Result      *int64 `json:"result"`
		ReturnValue *int64 `json:"return_value"`
	}

	if err := json.Unmarshal(result, &envelope); err != nil {
		return 0, false
	}

	switch {
	case envelope.Tx != nil && envelope.Tx.Result != nil:
		return *envelope.Tx.Result, true
	case envelope.Result != nil:
		return *envelope.Result, true
	case envelope.ReturnValue != nil:
		return *envelope.ReturnValue, true
	}

	return 0, false
}

// decodeUint parses a contract scalar that may arrive as a JSON number or a
// string-encoded decimal.
func decodeUint(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseUint(s, 10, 64)
	}

	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("value is neither string nor integer: %s", raw)
	}
	return n, nil
}

// decodeBig parses an arbitrary-precision contract scalar.
func decodeBig(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("value is neither string nor number: %s", raw)
		}
		s = n.String()
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer value %q", s)
	}
	return v, nil
}

// decodeHash parses the hex-valued nested hash shape {"value": "<hex>"}.
func decodeHash(raw json.RawMessage) (Hash, error) {
	var nested struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Value != "" {
		return ParseHash(nested.Value)
	}

	// Some node versions return the hex string directly.
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Hash{}, fmt.Errorf("hash value has unexpected shape: %s", raw)
	}
	return ParseHash(s)
}
