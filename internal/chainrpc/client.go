// Package chainrpc implements the chain client capabilities over a plain
// HTTP+JSON bridge node API. The same client type serves as both the source
// and the target side of a lane, depending on which chain it is pointed at.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/metrics"
	"github.com/lanebridge/lane-relayer/internal/relay"
)

var (
	retryAttempts = retry.Attempts(3)
	retryDelay    = retry.Delay(500 * time.Millisecond)
	retryError    = retry.LastErrorOnly(true)
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = time.Second
)

// ProofJournal persists submission records so crash recovery can resume
// tracking in-flight transactions.
type ProofJournal interface {
	RecordSubmittedProof(info relay.SubmittedProofInfo) error
	SetProofStatus(lane relay.LaneID, txHash string, status relay.SubmissionStatus) error
}

// Config is the chain client configuration.
type Config struct {
	// BaseURL is the bridge node's HTTP API root, e.g. "http://localhost:9944".
	BaseURL string
	// Lane is the lane this client serves.
	Lane relay.LaneID
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// PollInterval is the transaction tracker poll cadence.
	PollInterval time.Duration
}

// Client talks to one chain's bridge node. It implements relay.SourceClient,
// relay.TargetClient and laneloop.DeliveryWeightProber.
type Client struct {
	cfg     Config
	http    *http.Client
	journal ProofJournal
	logger  *zap.Logger
}

// NewClient creates a chain client. journal may be nil to disable the
// submission journal.
func NewClient(cfg Config, journal ProofJournal, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		journal: journal,
		logger:  logger.With(zap.String("endpoint", cfg.BaseURL)),
	}
}

// Reconnect drops idle connections and verifies the node answers again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.http.CloseIdleConnections()
	c.http = &http.Client{Timeout: c.cfg.Timeout}
	_, err := c.State(ctx)
	return err
}

// State returns the chain's current state snapshot.
func (c *Client) State(ctx context.Context) (relay.ClientState, error) {
	var state relay.ClientState
	err := c.doJSON(ctx, http.MethodGet, "/state", "state", nil, &state)
	return state, err
}

type nonceResponse struct {
	At    relay.HeaderID     `json:"at"`
	Nonce relay.MessageNonce `json:"nonce"`
}

func (c *Client) LatestGeneratedNonce(ctx context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	var resp nonceResponse
	path := c.lanePath("outbound/latest_generated") + "?at=" + at.Hash
	if err := c.doJSON(ctx, http.MethodGet, path, "latest_generated_nonce", nil, &resp); err != nil {
		return relay.HeaderID{}, 0, err
	}
	return resp.At, resp.Nonce, nil
}

func (c *Client) LatestConfirmedReceivedNonce(ctx context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	var resp nonceResponse
	path := c.lanePath("outbound/latest_confirmed") + "?at=" + at.Hash
	if err := c.doJSON(ctx, http.MethodGet, path, "latest_confirmed_nonce", nil, &resp); err != nil {
		return relay.HeaderID{}, 0, err
	}
	return resp.At, resp.Nonce, nil
}

func (c *Client) LatestReceivedNonce(ctx context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	var resp nonceResponse
	path := c.lanePath("inbound/latest_received") + "?at=" + at.Hash
	if err := c.doJSON(ctx, http.MethodGet, path, "latest_received_nonce", nil, &resp); err != nil {
		return relay.HeaderID{}, 0, err
	}
	return resp.At, resp.Nonce, nil
}

func (c *Client) UnrewardedRelayersState(ctx context.Context, at relay.HeaderID) (relay.HeaderID, relay.UnrewardedRelayersState, error) {
	var resp struct {
		At    relay.HeaderID                `json:"at"`
		State relay.UnrewardedRelayersState `json:"state"`
	}
	path := c.lanePath("inbound/relayers_state") + "?at=" + at.Hash
	if err := c.doJSON(ctx, http.MethodGet, path, "unrewarded_relayers_state", nil, &resp); err != nil {
		return relay.HeaderID{}, relay.UnrewardedRelayersState{}, err
	}
	return resp.At, resp.State, nil
}

type messageDetailsRequest struct {
	At     relay.HeaderID   `json:"at"`
	Nonces relay.NonceRange `json:"nonces"`
}

func (c *Client) GeneratedMessageDetails(ctx context.Context, at relay.HeaderID, nonces relay.NonceRange) (relay.MessageDetailsMap, error) {
	var resp struct {
		Messages relay.MessageDetailsMap `json:"messages"`
	}
	req := messageDetailsRequest{At: at, Nonces: nonces}
	if err := c.doJSON(ctx, http.MethodPost, c.lanePath("outbound/message_details"), "message_details", req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

type proveMessagesRequest struct {
	At     relay.HeaderID               `json:"at"`
	Nonces relay.NonceRange             `json:"nonces"`
	Params relay.MessageProofParameters `json:"params"`
}

type proveMessagesResponse struct {
	At     relay.HeaderID      `json:"at"`
	Nonces relay.NonceRange    `json:"nonces"`
	Proof  relay.MessagesProof `json:"proof"`
}

func (c *Client) ProveMessages(ctx context.Context, at relay.HeaderID, nonces relay.NonceRange, params relay.MessageProofParameters) (relay.HeaderID, relay.NonceRange, relay.MessagesProof, error) {
	var resp proveMessagesResponse
	req := proveMessagesRequest{At: at, Nonces: nonces, Params: params}
	if err := c.doJSON(ctx, http.MethodPost, c.lanePath("outbound/prove_messages"), "prove_messages", req, &resp); err != nil {
		return relay.HeaderID{}, relay.NonceRange{}, nil, err
	}
	return resp.At, resp.Nonces, resp.Proof, nil
}

func (c *Client) ProveMessagesReceiving(ctx context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessagesReceivingProof, error) {
	var resp struct {
		At    relay.HeaderID               `json:"at"`
		Proof relay.MessagesReceivingProof `json:"proof"`
	}
	req := struct {
		At relay.HeaderID `json:"at"`
	}{At: at}
	if err := c.doJSON(ctx, http.MethodPost, c.lanePath("inbound/prove_receiving"), "prove_receiving", req, &resp); err != nil {
		return relay.HeaderID{}, nil, err
	}
	return resp.At, resp.Proof, nil
}

type submitProofRequest struct {
	BundledHeader *relay.HeaderID  `json:"bundled_header,omitempty"`
	GeneratedAt   relay.HeaderID   `json:"generated_at"`
	Nonces        relay.NonceRange `json:"nonces,omitempty"`
	Proof         []byte           `json:"proof"`
}

type submitProofResponse struct {
	TxHash string           `json:"tx_hash"`
	Nonces relay.NonceRange `json:"nonces"`
}

func (c *Client) SubmitMessagesProof(ctx context.Context, batch relay.BatchTransaction, generatedAt relay.HeaderID, nonces relay.NonceRange, proof relay.MessagesProof) (relay.NonceRange, relay.TransactionTracker, error) {
	req := submitProofRequest{GeneratedAt: generatedAt, Nonces: nonces, Proof: proof}
	if batch != nil {
		h := batch.RequiredHeaderID()
		req.BundledHeader = &h
	}
	var resp submitProofResponse
	if err := c.doJSON(ctx, http.MethodPost, c.lanePath("inbound/submit_delivery"), "submit_messages_proof", req, &resp); err != nil {
		return relay.NonceRange{}, nil, err
	}
	c.journalSubmission(resp.TxHash, relay.ProofKindDelivery, resp.Nonces)
	return resp.Nonces, c.newTracker(resp.TxHash), nil
}

func (c *Client) SubmitMessagesReceivingProof(ctx context.Context, batch relay.BatchTransaction, generatedAt relay.HeaderID, proof relay.MessagesReceivingProof) (relay.TransactionTracker, error) {
	req := submitProofRequest{GeneratedAt: generatedAt, Proof: proof}
	if batch != nil {
		h := batch.RequiredHeaderID()
		req.BundledHeader = &h
	}
	var resp submitProofResponse
	if err := c.doJSON(ctx, http.MethodPost, c.lanePath("outbound/submit_confirmation"), "submit_receiving_proof", req, &resp); err != nil {
		return nil, err
	}
	c.journalSubmission(resp.TxHash, relay.ProofKindReceiving, resp.Nonces)
	return c.newTracker(resp.TxHash), nil
}

type requireHeaderResponse struct {
	// Bundle is true when the node offers to bundle the header proof with the
	// caller's next proof submission instead of waiting for the header relay.
	Bundle bool `json:"bundle"`
}

func (c *Client) RequireSourceHeaderOnTarget(ctx context.Context, id relay.HeaderID) (relay.BatchTransaction, error) {
	return c.requireHeader(ctx, id)
}

func (c *Client) RequireTargetHeaderOnSource(ctx context.Context, id relay.HeaderID) (relay.BatchTransaction, error) {
	return c.requireHeader(ctx, id)
}

func (c *Client) requireHeader(ctx context.Context, id relay.HeaderID) (relay.BatchTransaction, error) {
	req := struct {
		Header relay.HeaderID `json:"header"`
	}{Header: id}
	var resp requireHeaderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/headers/require", "require_header", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Bundle {
		return nil, nil
	}
	return &headerBatch{header: id}, nil
}

// DeliveryTransactionWeight asks the node's weight model for the cost of a
// delivery transaction with the given shape.
func (c *Client) DeliveryTransactionWeight(ctx context.Context, messages uint64, dispatchWeight relay.Weight) (relay.Weight, error) {
	req := struct {
		Messages       uint64       `json:"messages"`
		DispatchWeight relay.Weight `json:"dispatch_weight"`
	}{Messages: messages, DispatchWeight: dispatchWeight}
	var resp struct {
		Weight relay.Weight `json:"weight"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/weights/delivery", "delivery_weight", req, &resp); err != nil {
		return 0, err
	}
	return resp.Weight, nil
}

// MaxExtrinsicWeight returns the chain's extrinsic weight limit.
func (c *Client) MaxExtrinsicWeight(ctx context.Context) (relay.Weight, error) {
	var resp struct {
		Weight relay.Weight `json:"weight"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/weights/max_extrinsic", "max_extrinsic_weight", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Weight, nil
}

type headerBatch struct {
	header relay.HeaderID
}

func (b *headerBatch) RequiredHeaderID() relay.HeaderID { return b.header }

func (c *Client) journalSubmission(txHash string, kind relay.ProofKind, nonces relay.NonceRange) {
	if c.journal == nil || txHash == "" {
		return
	}
	err := c.journal.RecordSubmittedProof(relay.SubmittedProofInfo{
		Lane:        c.cfg.Lane,
		Kind:        kind,
		Nonces:      nonces,
		TxHash:      txHash,
		Status:      relay.SubmissionSubmitted,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		c.logger.Error("failed to journal proof submission", zap.String("tx_hash", txHash), zap.Error(err))
	}
}

func (c *Client) lanePath(tail string) string {
	return "/lanes/" + c.cfg.Lane.String() + "/" + tail
}

// doJSON performs one API call with bounded retries on connection-class
// failures. Protocol errors (4xx) are returned immediately and unclassified.
func (c *Client) doJSON(ctx context.Context, method, path, op string, reqBody, respBody any) error {
	start := time.Now()
	err := retry.Do(func() error {
		return c.once(ctx, method, path, reqBody, respBody)
	}, retry.Context(ctx), retryAttempts, retryDelay, retryError, retry.RetryIf(relay.IsConnectionError))
	dur := time.Since(start).Seconds()
	if err != nil {
		metrics.AddFailedRequest(op, dur)
		return err
	}
	metrics.AddSuccessRequest(op, dur)
	return nil
}

func (c *Client) once(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return relay.NewConnectionError(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return relay.ConnectionErrorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
