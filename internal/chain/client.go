// Package chain submits donation transactions to an Ethereum JSON-RPC node.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrRejected is returned when the node refuses a request.
var ErrRejected = errors.New("chain rejected request")

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Receipt is the subset of a transaction receipt the watcher needs.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Succeeded   bool
}

// Config configures the JSON-RPC client.
type Config struct {
	RPCURL          string
	ContractAddress string
	FromAddress     string
	Timeout         time.Duration
}

// Client talks to the donation contract through a node that holds the
// sending account (eth_sendTransaction).
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// New creates a chain client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RPCURL == "" {
		return nil, errors.New("missing CHAIN_RPC_URL")
	}
	if _, err := decodeAddress(cfg.ContractAddress); err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	if _, err := decodeAddress(cfg.FromAddress); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// SendDonation submits donate(recipient, message) carrying wei as value and
// returns the transaction hash. It does not wait for inclusion.
func (c *Client) SendDonation(ctx context.Context, recipient string, wei *big.Int, message string) (string, error) {
	data, err := EncodeDonate(recipient, message)
	if err != nil {
		return "", fmt.Errorf("encode donate: %w", err)
	}

	tx := map[string]string{
		"from":  c.cfg.FromAddress,
		"to":    c.cfg.ContractAddress,
		"value": HexBig(wei),
		"data":  HexBytes(data),
	}

	var hash string
	if err := c.call(ctx, "eth_sendTransaction", []any{tx}, &hash); err != nil {
		return "", fmt.Errorf("send donation: %w", err)
	}
	if hash == "" {
		return "", fmt.Errorf("send donation: %w: empty transaction hash", ErrRejected)
	}

	c.logger.Info("Donation transaction submitted",
		"tx_hash", hash,
		"recipient", recipient,
		"value_wei", wei.String(),
	)
	return hash, nil
}

// Receipt returns the receipt for hash, or nil while the transaction is pending.
func (c *Client) Receipt(ctx context.Context, hash string) (*Receipt, error) {
	var raw *struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		Status          string `json:"status"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &raw); err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	block, err := parseQuantity(raw.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("parse block number: %w", err)
	}
	status, err := parseQuantity(raw.Status)
	if err != nil {
		return nil, fmt.Errorf("parse receipt status: %w", err)
	}
	return &Receipt{
		TxHash:      raw.TransactionHash,
		BlockNumber: block,
		Succeeded:   status == 1,
	}, nil
}

// CheckBalance calls checkBalance() as account and returns the payout balance in wei.
func (c *Client) CheckBalance(ctx context.Context, account string) (*big.Int, error) {
	if _, err := decodeAddress(account); err != nil {
		return nil, err
	}
	call := map[string]string{
		"from": account,
		"to":   c.cfg.ContractAddress,
		"data": HexBytes(EncodeCheckBalance()),
	}

	var result string
	if err := c.call(ctx, "eth_call", []any{call, "latest"}, &result); err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	return DecodeUint256(result)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close rpc response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("%w: %w", ErrRejected, parsed.Error)
	}
	if out == nil || len(parsed.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func parseQuantity(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
