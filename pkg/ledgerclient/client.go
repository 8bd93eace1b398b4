/**
 * @description
 * This package provides a typed client for the remote chain node's REST
 * ledger API. It wraps the balance, stake, transaction, and mine endpoints,
 * owning the timeout policy for a single call. The client never retries:
 * retry policy belongs to the deployment, and a failed call must never be
 * treated as partially applied.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, net/url, time: Standard Go libraries.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// DefaultReward is credited when the chain node settles a mine call without
// reporting a reward amount.
const DefaultReward = 5.0

// Client is a client for the chain node's ledger API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new ledger API client with the standard 30s timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// RemoteError is returned for every failed ledger call: network errors,
// non-2xx statuses, and malformed response bodies. Status is zero when no
// HTTP response was received.
type RemoteError struct {
	Op     string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ledger %s failed: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("ledger %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// BalanceResult is the authoritative (balance, stake) pair for an address.
type BalanceResult struct {
	Balance float64 `json:"balance"`
	Stake   float64 `json:"stake"`
}

// MineResult is the chain node's settlement of a mine call.
type MineResult struct {
	Reward    float64
	BlockHash string
}

type stakeRequest struct {
	Amount  float64 `json:"amount"`
	Address string  `json:"address"`
}

type transactionRequest struct {
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Amount   float64 `json:"amount"`
}

type transactionResponse struct {
	TxID string `json:"tx_id"`
}

type mineRequest struct {
	Stake   float64 `json:"stake"`
	Address string  `json:"address"`
}

type mineResponse struct {
	Reward    *float64 `json:"reward"`
	BlockHash string   `json:"blockHash"`
}

// GetBalance fetches the authoritative balance and stake for an address.
func (c *Client) GetBalance(ctx context.Context, address string) (*BalanceResult, error) {
	endpoint := c.BaseURL + "/balance?address=" + url.QueryEscape(address)
	body, err := c.do(ctx, "get_balance", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result BalanceResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &RemoteError{Op: "get_balance", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &result, nil
}

// RegisterStake introduces an address to the chain (amount 0) or locks funds
// for mining. The node's ack body is not inspected beyond the status code.
func (c *Client) RegisterStake(ctx context.Context, address string, amount float64) error {
	payload := stakeRequest{Amount: amount, Address: address}
	_, err := c.do(ctx, "register_stake", http.MethodPost, c.BaseURL+"/stake", payload)
	return err
}

// SubmitTransaction submits a wallet-to-wallet transfer between two
// registered addresses and returns the chain transaction id.
func (c *Client) SubmitTransaction(ctx context.Context, sender, receiver string, amount float64) (string, error) {
	payload := transactionRequest{Sender: sender, Receiver: receiver, Amount: amount}
	body, err := c.do(ctx, "submit_transaction", http.MethodPost, c.BaseURL+"/transaction", payload)
	if err != nil {
		return "", err
	}

	var result transactionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &RemoteError{Op: "submit_transaction", Err: fmt.Errorf("decode response: %w", err)}
	}
	if result.TxID == "" {
		result.TxID = "unknown-tx-id"
	}
	return result.TxID, nil
}

// Mine asks the chain node to settle a mining operation against the given
// stake. A node that settles without reporting a reward yields DefaultReward.
func (c *Client) Mine(ctx context.Context, address string, stake float64) (*MineResult, error) {
	payload := mineRequest{Stake: stake, Address: address}
	body, err := c.do(ctx, "mine", http.MethodPost, c.BaseURL+"/mine", payload)
	if err != nil {
		return nil, err
	}

	var result mineResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &RemoteError{Op: "mine", Err: fmt.Errorf("decode response: %w", err)}
	}

	reward := DefaultReward
	if result.Reward != nil {
		reward = *result.Reward
	}
	blockHash := result.BlockHash
	if blockHash == "" {
		blockHash = "unknown"
	}
	return &MineResult{Reward: reward, BlockHash: blockHash}, nil
}

// do executes one request and returns the response body for 2xx statuses.
func (c *Client) do(ctx context.Context, op, method, endpoint string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &RemoteError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reqBody = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("non-2xx response: %s", truncate(body, 200))}
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
