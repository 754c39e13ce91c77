// Package rpcclient provides a JSON-RPC 2.0 client for the indexer's RPC
// server, used by the CLI and by operational tooling.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-indexer/internal/rpc"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the
// provided pointer. If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// GetBalance returns the balance of address at the given confirmation depth.
func (c *Client) GetBalance(address string, minConfirmations uint32) (*rpc.BalanceResult, error) {
	var out rpc.BalanceResult
	err := c.Call("btc_getBalance", rpc.BalanceParam{Address: address, MinConfirmations: minConfirmations}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUtxos returns one page of address UTXOs.
func (c *Client) GetUtxos(params rpc.UtxosParam) (*rpc.UtxosResult, error) {
	var out rpc.UtxosResult
	if err := c.Call("btc_getUtxos", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCurrentFeePercentiles returns the recent fee percentile table.
func (c *Client) GetCurrentFeePercentiles() ([]uint64, error) {
	var out []uint64
	if err := c.Call("btc_getCurrentFeePercentiles", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBlockHeaders returns hex-encoded canonical headers in [from, to].
func (c *Client) GetBlockHeaders(from, to uint32) ([]string, error) {
	var out []string
	if err := c.Call("btc_getBlockHeaders", rpc.HeadersParam{FromHeight: from, ToHeight: to}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendTransaction queues a hex-encoded raw transaction for broadcast.
func (c *Client) SendTransaction(rawTxHex string) error {
	return c.Call("btc_sendTransaction", rpc.SendTransactionParam{RawTx: rawTxHex}, nil)
}

// SetConfig applies an administrative configuration update.
func (c *Client) SetConfig(params rpc.SetConfigParam) error {
	return c.Call("admin_setConfig", params, nil)
}

// GetStats returns the indexer's operational counters.
func (c *Client) GetStats() (*rpc.StatsResult, error) {
	var out rpc.StatsResult
	if err := c.Call("indexer_getStats", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
