// Package flowpay is a Go client for the FlowPay REST API. Write calls are
// signed with the configured key; read calls need no key.
package flowpay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"FlowPay-Chain/internal/auth"
	"FlowPay-Chain/internal/escrow"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/internal/platform"
	"FlowPay-Chain/pkg/amount"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// ErrNoKey is returned by write calls on a client without a signing key.
var ErrNoKey = errors.New("flowpay: signing key is not set")

// Client wraps the HTTP interactions with the FlowPay API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	now        func() time.Time
}

// APIError represents a server side error response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("flowpay api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("flowpay api error (%d): %s", e.StatusCode, e.Message)
}

// AmountResult is returned by writes that move funds.
type AmountResult struct {
	Amount  amount.Amount  `json:"amount"`
	Receipt ledger.Receipt `json:"receipt"`
}

// JobCreated is returned by CreateJob.
type JobCreated struct {
	JobID   common.Hash    `json:"job_id"`
	Receipt ledger.Receipt `json:"receipt"`
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, now: time.Now}, nil
}

// WithKey sets the key used to sign write calls and returns the client.
func (c *Client) WithKey(key *ecdsa.PrivateKey) *Client {
	c.key = key
	return c
}

// Address returns the signer address, or the zero address without a key.
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// CreateJob locks total of asset for freelancer, split into milestones.
func (c *Client) CreateJob(ctx context.Context, freelancer common.Address, total amount.Amount, asset common.Address, milestones uint32) (JobCreated, error) {
	var out JobCreated
	err := c.post(ctx, "/api/v1/jobs", map[string]any{
		"freelancer":      freelancer,
		"total_amount":    total,
		"asset":           asset,
		"milestone_count": milestones,
	}, &out)
	return out, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, jobID common.Hash) (escrow.Job, error) {
	var job escrow.Job
	err := c.get(ctx, "/api/v1/jobs/"+jobID.Hex(), &job)
	return job, err
}

// SubmitProof attaches proof to a milestone.
func (c *Client) SubmitProof(ctx context.Context, jobID common.Hash, milestoneID uint32, proof string) (ledger.Receipt, error) {
	var out struct {
		Receipt ledger.Receipt `json:"receipt"`
	}
	err := c.post(ctx, milestonePath(jobID, milestoneID, "proof"), map[string]any{"proof": proof}, &out)
	return out.Receipt, err
}

// ApproveMilestone approves a milestone for release.
func (c *Client) ApproveMilestone(ctx context.Context, jobID common.Hash, milestoneID uint32) (ledger.Receipt, error) {
	var out struct {
		Receipt ledger.Receipt `json:"receipt"`
	}
	err := c.post(ctx, milestonePath(jobID, milestoneID, "approve"), nil, &out)
	return out.Receipt, err
}

// ReleasePayment pays an approved milestone, converted into target when set.
func (c *Client) ReleasePayment(ctx context.Context, jobID common.Hash, milestoneID uint32, target *common.Address) (AmountResult, error) {
	var out AmountResult
	err := c.post(ctx, milestonePath(jobID, milestoneID, "release"), map[string]any{"target_asset": target}, &out)
	return out, err
}

// CancelJob refunds everything unpaid to the client.
func (c *Client) CancelJob(ctx context.Context, jobID common.Hash) (AmountResult, error) {
	var out AmountResult
	err := c.post(ctx, "/api/v1/jobs/"+jobID.Hex()+"/cancel", nil, &out)
	return out, err
}

// FinalizeJob closes a completed job.
func (c *Client) FinalizeJob(ctx context.Context, jobID common.Hash) (AmountResult, error) {
	var out AmountResult
	err := c.post(ctx, "/api/v1/jobs/"+jobID.Hex()+"/finalize", nil, &out)
	return out, err
}

// Quote returns the expected output of converting amt of from into to.
func (c *Client) Quote(ctx context.Context, from, to common.Address, amt amount.Amount) (platform.Quote, error) {
	var q platform.Quote
	query := url.Values{}
	query.Set("from", from.Hex())
	query.Set("to", to.Hex())
	query.Set("amount", amt.String())
	err := c.get(ctx, "/api/v1/quote?"+query.Encode(), &q)
	return q, err
}

// Swap converts amt of from into to and pays the caller.
func (c *Client) Swap(ctx context.Context, from, to common.Address, amt amount.Amount, maxSlippageBps uint32) (AmountResult, error) {
	var out AmountResult
	err := c.post(ctx, "/api/v1/swap", map[string]any{
		"from":             from,
		"to":               to,
		"amount":           amt,
		"max_slippage_bps": maxSlippageBps,
	}, &out)
	return out, err
}

// Deposit places amt of asset into yield custody.
func (c *Client) Deposit(ctx context.Context, amt amount.Amount, asset common.Address) (AmountResult, error) {
	var out AmountResult
	err := c.post(ctx, "/api/v1/custody/deposit", map[string]any{"amount": amt, "asset": asset}, &out)
	return out, err
}

// Position reads the custody position of owner.
func (c *Client) Position(ctx context.Context, owner common.Address) (platform.PositionView, error) {
	var pos platform.PositionView
	err := c.get(ctx, "/api/v1/custody/positions/"+owner.Hex(), &pos)
	return pos, err
}

// Balance reads the balance of account in asset.
func (c *Client) Balance(ctx context.Context, asset, account common.Address) (amount.Amount, error) {
	var out struct {
		Balance amount.Amount `json:"balance"`
	}
	err := c.get(ctx, "/api/v1/balances/"+asset.Hex()+"/"+account.Hex(), &out)
	return out.Balance, err
}

func milestonePath(jobID common.Hash, milestoneID uint32, action string) string {
	return "/api/v1/jobs/" + jobID.Hex() + "/milestones/" + strconv.FormatUint(uint64(milestoneID), 10) + "/" + action
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	if c.key == nil {
		return ErrNoKey
	}
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	ts := c.now().Unix()
	sig, err := auth.Sign(c.key, http.MethodPost, req.URL.Path, ts, body)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(auth.HeaderSigner, c.Address().Hex())
	req.Header.Set(auth.HeaderSignature, sig)
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
