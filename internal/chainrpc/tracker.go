package chainrpc

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

const (
	txStatusPending   = "pending"
	txStatusFinalized = "finalized"
	txStatusLost      = "lost"
)

type txStatusResponse struct {
	Status string         `json:"status"`
	At     relay.HeaderID `json:"at"`
}

// txTracker polls the node for a submitted transaction's status until it is
// finalized or lost.
type txTracker struct {
	c      *Client
	txHash string
}

func (c *Client) newTracker(txHash string) relay.TransactionTracker {
	return &txTracker{c: c, txHash: txHash}
}

func (t *txTracker) Wait(ctx context.Context) (relay.TrackedTransactionStatus, relay.HeaderID) {
	ticker := time.NewTicker(t.c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var resp txStatusResponse
		err := t.c.doJSON(ctx, http.MethodGet, "/txs/"+t.txHash, "tx_status", nil, &resp)
		switch {
		case ctx.Err() != nil:
			return relay.TrackedStatusLost, relay.HeaderID{}
		case err != nil && !relay.IsConnectionError(err):
			t.c.logger.Error("failed to track transaction", zap.String("tx_hash", t.txHash), zap.Error(err))
			t.setJournalStatus(relay.SubmissionLost)
			return relay.TrackedStatusLost, relay.HeaderID{}
		case err == nil && resp.Status == txStatusFinalized:
			t.setJournalStatus(relay.SubmissionCommitted)
			return relay.TrackedStatusFinalized, resp.At
		case err == nil && resp.Status == txStatusLost:
			t.setJournalStatus(relay.SubmissionLost)
			return relay.TrackedStatusLost, relay.HeaderID{}
		}

		select {
		case <-ctx.Done():
			return relay.TrackedStatusLost, relay.HeaderID{}
		case <-ticker.C:
		}
	}
}

func (t *txTracker) setJournalStatus(status relay.SubmissionStatus) {
	if t.c.journal == nil {
		return
	}
	if err := t.c.journal.SetProofStatus(t.c.cfg.Lane, t.txHash, status); err != nil {
		t.c.logger.Error("failed to update proof journal",
			zap.String("tx_hash", t.txHash),
			zap.Error(err),
		)
	}
}
