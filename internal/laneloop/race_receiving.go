package laneloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/metrics"
	"github.com/lanebridge/lane-relayer/internal/relay"
)

// receivingRace drives delivery confirmations from the target inbound lane
// back to the source chain, so that the source can reward relayers and prune
// confirmed messages. It is the mirror of the delivery race: the target chain
// plays the proof-producing role and the source the submitting one.
type receivingRace struct {
	lane relay.LaneID

	source relay.SourceClient
	target relay.TargetClient

	sourceStates *stateMailbox
	targetStates *stateMailbox

	sourceBackoff *expBackoff
	targetBackoff *expBackoff

	stallTimeout time.Duration
	logger       *zap.Logger

	sourceState *relay.ClientState
	targetState *relay.ClientState

	// Target-side view, read at proofHeader (target best finalized).
	proofHeader       relay.HeaderID
	receivedAtTarget  *relay.MessageNonce
	confirmedAtSource *relay.MessageNonce

	// submittedEnd guards against duplicate confirmation submission.
	submittedEnd relay.MessageNonce

	lastProgress time.Time
	lastObserved relay.MessageNonce
}

func newReceivingRace(
	params Params,
	source relay.SourceClient,
	target relay.TargetClient,
	sourceStates, targetStates *stateMailbox,
	logger *zap.Logger,
) *receivingRace {
	return &receivingRace{
		lane:          params.Lane,
		source:        source,
		target:        target,
		sourceStates:  sourceStates,
		targetStates:  targetStates,
		sourceBackoff: newBackoff(),
		targetBackoff: newBackoff(),
		stallTimeout:  params.StallTimeout,
		logger:        logger.With(zap.String("race", "receiving")),
	}
}

func (r *receivingRace) callSource(ctx context.Context, what string, fn func() error) error {
	return callWithRetry(ctx, r.logger, r.sourceBackoff, FailedSource, what, fn)
}

func (r *receivingRace) callTarget(ctx context.Context, what string, fn func() error) error {
	return callWithRetry(ctx, r.logger, r.targetBackoff, FailedTarget, what, fn)
}

func (r *receivingRace) run(ctx context.Context) error {
	r.lastProgress = time.Now()
	wakeup := time.NewTicker(stallCheckInterval(r.stallTimeout))
	defer wakeup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-r.targetStates.updates():
			if err := r.onTargetState(ctx, s); err != nil {
				return err
			}
		case s := <-r.sourceStates.updates():
			if err := r.onSourceState(ctx, s); err != nil {
				return err
			}
		case <-wakeup.C:
		}

		if err := r.checkStall(); err != nil {
			return err
		}
		for {
			acted, err := r.act(ctx)
			if err != nil {
				return err
			}
			if !acted {
				break
			}
		}
	}
}

// onTargetState refreshes the delivered nonce at the new best finalized target
// header, which becomes the header receiving proofs are generated at.
func (r *receivingRace) onTargetState(ctx context.Context, s relay.ClientState) error {
	r.targetState = &s
	at := s.BestFinalizedSelf
	if r.receivedAtTarget != nil && at == r.proofHeader {
		return nil
	}

	var received relay.MessageNonce
	err := r.callTarget(ctx, "reading finalized received nonce", func() error {
		_, n, err := r.target.LatestReceivedNonce(ctx, at)
		received = n
		return err
	})
	if err != nil {
		return err
	}

	r.proofHeader = at
	r.receivedAtTarget = &received
	return nil
}

// onSourceState refreshes the confirmed nonce at the new best source header.
func (r *receivingRace) onSourceState(ctx context.Context, s relay.ClientState) error {
	r.sourceState = &s
	at := s.BestSelf

	var confirmed relay.MessageNonce
	err := r.callSource(ctx, "reading confirmed nonce", func() error {
		_, n, err := r.source.LatestConfirmedReceivedNonce(ctx, at)
		confirmed = n
		return err
	})
	if err != nil {
		return err
	}

	r.confirmedAtSource = &confirmed
	metrics.SetLaneNonce("source_latest_confirmed", r.lane.String(), uint64(confirmed))
	return nil
}

// act performs at most one confirmation step and reports whether it did
// anything.
func (r *receivingRace) act(ctx context.Context) (bool, error) {
	if r.receivedAtTarget == nil || r.confirmedAtSource == nil {
		return false, nil
	}
	received, confirmed := *r.receivedAtTarget, *r.confirmedAtSource
	if r.submittedEnd > confirmed {
		return false, nil
	}
	if received <= confirmed {
		return false, nil
	}

	batch, ok, err := r.requireTargetHeader(ctx)
	if err != nil || !ok {
		return false, err
	}

	var provedAt relay.HeaderID
	var proof relay.MessagesReceivingProof
	err = r.callTarget(ctx, "proving messages receiving", func() error {
		at, p, err := r.target.ProveMessagesReceiving(ctx, r.proofHeader)
		provedAt, proof = at, p
		return err
	})
	if err != nil {
		return false, err
	}

	var tracker relay.TransactionTracker
	err = r.callSource(ctx, "submitting messages receiving proof", func() error {
		t, err := r.source.SubmitMessagesReceivingProof(ctx, batch, provedAt, proof)
		tracker = t
		return err
	})
	if err != nil {
		metrics.IncProofsSubmitted(r.lane.String(), "receiving", false)
		return false, err
	}
	metrics.IncProofsSubmitted(r.lane.String(), "receiving", true)
	r.submittedEnd = received
	r.logger.Info("messages receiving proof submitted",
		zap.Uint64("confirming_up_to", uint64(received)),
		zap.Uint64("proved_at", provedAt.Number),
	)

	return true, r.trackSubmitted(ctx, tracker, received)
}

// requireTargetHeader ensures the proof header is available at the source.
func (r *receivingRace) requireTargetHeader(ctx context.Context) (relay.BatchTransaction, bool, error) {
	known := r.sourceState != nil &&
		r.sourceState.BestFinalizedPeerAtBestSelf != nil &&
		r.sourceState.BestFinalizedPeerAtBestSelf.Number >= r.proofHeader.Number
	if known {
		return nil, true, nil
	}

	var batch relay.BatchTransaction
	err := r.callSource(ctx, "requiring target header at source", func() error {
		b, err := r.source.RequireTargetHeaderOnSource(ctx, r.proofHeader)
		batch = b
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if batch == nil {
		r.logger.Debug("waiting for target header at source",
			zap.Uint64("required", r.proofHeader.Number),
		)
		return nil, false, nil
	}
	return batch, true, nil
}

func (r *receivingRace) checkStall() error {
	if r.stallTimeout <= 0 || r.receivedAtTarget == nil || r.confirmedAtSource == nil {
		return nil
	}
	received, confirmed := *r.receivedAtTarget, *r.confirmedAtSource
	if received <= confirmed {
		r.lastProgress = time.Now()
		return nil
	}
	if confirmed > r.lastObserved {
		r.lastObserved = confirmed
		r.lastProgress = time.Now()
		return nil
	}
	if since := time.Since(r.lastProgress); since > r.stallTimeout {
		return fmt.Errorf("receiving race stalled: no progress for %s with confirmations up to %d outstanding",
			since.Truncate(time.Millisecond), received)
	}
	return nil
}

// trackSubmitted waits for the confirmation transaction and verifies the
// confirmed nonce advanced at the finalized header.
func (r *receivingRace) trackSubmitted(ctx context.Context, tracker relay.TransactionTracker, submitted relay.MessageNonce) error {
	wctx := ctx
	var cancel context.CancelFunc
	if r.stallTimeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, r.stallTimeout)
		defer cancel()
	}
	status, at := tracker.Wait(wctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if status != relay.TrackedStatusFinalized {
		r.logger.Warn("receiving proof transaction lost, will resubmit",
			zap.Uint64("confirming_up_to", uint64(submitted)),
		)
		r.submittedEnd = 0
		return nil
	}

	var confirmed relay.MessageNonce
	err := r.callSource(ctx, "verifying confirmed nonce", func() error {
		_, n, err := r.source.LatestConfirmedReceivedNonce(ctx, at)
		confirmed = n
		return err
	})
	if err != nil {
		return err
	}
	if confirmed < submitted {
		r.logger.Error("receiving proof transaction finalized but confirmed nonce did not advance",
			zap.Uint64("submitted", uint64(submitted)),
			zap.Uint64("confirmed", uint64(confirmed)),
			zap.Uint64("at", at.Number),
		)
		r.submittedEnd = 0
		return nil
	}

	r.logger.Info("messages confirmed", zap.Uint64("up_to", uint64(confirmed)))
	r.confirmedAtSource = &confirmed
	r.lastObserved = confirmed
	r.lastProgress = time.Now()
	return nil
}
