package laneloop

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/metrics"
	"github.com/lanebridge/lane-relayer/internal/relay"
)

// deliveryRace drives messages from the source outbound lane into the target
// inbound lane. It reacts to state updates of both chains, picks the next
// deliverable nonce range under the configured weight/size/window limits,
// proves it at a finalized source header and submits the proof to the target.
type deliveryRace struct {
	lane   relay.LaneID
	params DeliveryParams

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

	// Source-side view, read at proofHeader (source best finalized).
	proofHeader       relay.HeaderID
	latestGenerated   *relay.MessageNonce
	confirmedAtSource relay.MessageNonce

	// Target-side view, read at target best.
	latestReceived    *relay.MessageNonce
	confirmedAtTarget relay.MessageNonce
	relayersState     relay.UnrewardedRelayersState

	// submittedEnd guards against duplicate submission: while it is above the
	// latest received nonce, a delivery transaction is in flight (or awaiting
	// observation) and no new one may be built.
	submittedEnd relay.MessageNonce

	lastProgress time.Time
	lastObserved relay.MessageNonce
}

func newDeliveryRace(
	params Params,
	source relay.SourceClient,
	target relay.TargetClient,
	sourceStates, targetStates *stateMailbox,
	logger *zap.Logger,
) *deliveryRace {
	return &deliveryRace{
		lane:          params.Lane,
		params:        params.Delivery,
		source:        source,
		target:        target,
		sourceStates:  sourceStates,
		targetStates:  targetStates,
		sourceBackoff: newBackoff(),
		targetBackoff: newBackoff(),
		stallTimeout:  params.StallTimeout,
		logger:        logger.With(zap.String("race", "delivery")),
	}
}

func (d *deliveryRace) callSource(ctx context.Context, what string, fn func() error) error {
	return callWithRetry(ctx, d.logger, d.sourceBackoff, FailedSource, what, fn)
}

func (d *deliveryRace) callTarget(ctx context.Context, what string, fn func() error) error {
	return callWithRetry(ctx, d.logger, d.targetBackoff, FailedTarget, what, fn)
}

func (d *deliveryRace) run(ctx context.Context) error {
	d.lastProgress = time.Now()
	wakeup := time.NewTicker(stallCheckInterval(d.stallTimeout))
	defer wakeup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-d.sourceStates.updates():
			if err := d.onSourceState(ctx, s); err != nil {
				return err
			}
		case s := <-d.targetStates.updates():
			if err := d.onTargetState(ctx, s); err != nil {
				return err
			}
		case <-wakeup.C:
		}

		if err := d.checkStall(); err != nil {
			return err
		}
		for {
			acted, err := d.act(ctx)
			if err != nil {
				return err
			}
			if !acted {
				break
			}
		}
	}
}

// onSourceState refreshes the source-side nonces at the new best finalized
// source header.
func (d *deliveryRace) onSourceState(ctx context.Context, s relay.ClientState) error {
	d.sourceState = &s
	at := s.BestFinalizedSelf
	if d.latestGenerated != nil && at == d.proofHeader {
		return nil
	}

	var generated relay.MessageNonce
	err := d.callSource(ctx, "reading latest generated nonce", func() error {
		_, n, err := d.source.LatestGeneratedNonce(ctx, at)
		generated = n
		return err
	})
	if err != nil {
		return err
	}
	var confirmed relay.MessageNonce
	err = d.callSource(ctx, "reading source confirmed nonce", func() error {
		_, n, err := d.source.LatestConfirmedReceivedNonce(ctx, at)
		confirmed = n
		return err
	})
	if err != nil {
		return err
	}

	d.proofHeader = at
	d.latestGenerated = &generated
	d.confirmedAtSource = confirmed
	metrics.SetLaneNonce("source_latest_generated", d.lane.String(), uint64(generated))
	return nil
}

// onTargetState refreshes the target-side nonces at the new best target header.
func (d *deliveryRace) onTargetState(ctx context.Context, s relay.ClientState) error {
	d.targetState = &s
	at := s.BestSelf

	var received relay.MessageNonce
	err := d.callTarget(ctx, "reading latest received nonce", func() error {
		_, n, err := d.target.LatestReceivedNonce(ctx, at)
		received = n
		return err
	})
	if err != nil {
		return err
	}
	var confirmed relay.MessageNonce
	err = d.callTarget(ctx, "reading target confirmed nonce", func() error {
		_, n, err := d.target.LatestConfirmedReceivedNonce(ctx, at)
		confirmed = n
		return err
	})
	if err != nil {
		return err
	}
	var relayers relay.UnrewardedRelayersState
	err = d.callTarget(ctx, "reading unrewarded relayers state", func() error {
		_, rs, err := d.target.UnrewardedRelayersState(ctx, at)
		relayers = rs
		return err
	})
	if err != nil {
		return err
	}

	d.latestReceived = &received
	d.confirmedAtTarget = confirmed
	d.relayersState = relayers
	metrics.SetLaneNonce("target_latest_received", d.lane.String(), uint64(received))
	return nil
}

// act performs at most one delivery step and reports whether it did anything.
func (d *deliveryRace) act(ctx context.Context) (bool, error) {
	if d.latestGenerated == nil || d.latestReceived == nil {
		return false, nil
	}
	generated, received := *d.latestGenerated, *d.latestReceived
	if d.submittedEnd > received {
		// A submitted transaction has not been observed in target state yet.
		return false, nil
	}
	if generated <= received {
		return false, nil
	}

	// Proofs are generated at the source best finalized header; the target must
	// have that header (or a descendant) imported before it can verify them.
	batch, ok, err := d.requireSourceHeader(ctx)
	if err != nil || !ok {
		return false, err
	}

	nonces, proofParams, ok, err := d.selectNonces(ctx, generated, received)
	if err != nil || !ok {
		return false, err
	}

	var provedAt relay.HeaderID
	var proved relay.NonceRange
	var proof relay.MessagesProof
	err = d.callSource(ctx, "proving messages", func() error {
		at, rng, p, err := d.source.ProveMessages(ctx, d.proofHeader, nonces, proofParams)
		provedAt, proved, proof = at, rng, p
		return err
	})
	if err != nil {
		return false, err
	}
	if proved.IsEmpty() {
		return false, nil
	}

	var submitted relay.NonceRange
	var tracker relay.TransactionTracker
	err = d.callTarget(ctx, "submitting messages proof", func() error {
		rng, t, err := d.target.SubmitMessagesProof(ctx, batch, provedAt, proved, proof)
		submitted, tracker = rng, t
		return err
	})
	if err != nil {
		metrics.IncProofsSubmitted(d.lane.String(), "delivery", false)
		return false, err
	}
	metrics.IncProofsSubmitted(d.lane.String(), "delivery", true)
	d.submittedEnd = submitted.End
	d.logger.Info("messages proof submitted",
		zap.String("nonces", submitted.String()),
		zap.Uint64("proved_at", provedAt.Number),
	)

	return true, d.trackSubmitted(ctx, tracker, submitted)
}

// requireSourceHeader ensures the proof header is available at the target,
// requesting a header relay when it is not. ok is false when delivery must
// wait for the header to be imported.
func (d *deliveryRace) requireSourceHeader(ctx context.Context) (relay.BatchTransaction, bool, error) {
	known := d.targetState != nil &&
		d.targetState.BestFinalizedPeerAtBestSelf != nil &&
		d.targetState.BestFinalizedPeerAtBestSelf.Number >= d.proofHeader.Number
	if known {
		return nil, true, nil
	}

	var batch relay.BatchTransaction
	err := d.callTarget(ctx, "requiring source header at target", func() error {
		b, err := d.target.RequireSourceHeaderOnTarget(ctx, d.proofHeader)
		batch = b
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if batch == nil {
		d.logger.Debug("waiting for source header at target",
			zap.Uint64("required", d.proofHeader.Number),
		)
		return nil, false, nil
	}
	return batch, true, nil
}

// selectNonces picks the nonce range for the next delivery transaction under
// the lane window and per-transaction limits.
func (d *deliveryRace) selectNonces(ctx context.Context, generated, received relay.MessageNonce) (relay.NonceRange, relay.MessageProofParameters, bool, error) {
	// Delivering the outbound lane state along with messages prunes confirmed
	// entries from the unrewarded relayers window.
	outboundStateRequired := d.confirmedAtSource > d.confirmedAtTarget

	if d.relayersState.UnrewardedRelayerEntries >= d.params.MaxUnrewardedRelayerEntriesAtTarget && !outboundStateRequired {
		return relay.NonceRange{}, relay.MessageProofParameters{}, false, nil
	}
	confirmedAfterDelivery := d.confirmedAtTarget
	if outboundStateRequired {
		confirmedAfterDelivery = d.confirmedAtSource
	}
	unconfirmed := uint64(received - confirmedAfterDelivery)
	if unconfirmed >= d.params.MaxUnconfirmedNoncesAtTarget && !outboundStateRequired {
		return relay.NonceRange{}, relay.MessageProofParameters{}, false, nil
	}

	budget := d.params.MaxMessagesInSingleBatch
	if window := d.params.MaxUnconfirmedNoncesAtTarget - unconfirmed; window < budget {
		budget = window
	}
	if budget == 0 {
		budget = 1
	}

	begin := received + 1
	end := generated
	if relay.MessageNonce(budget) < end-begin+1 {
		end = begin + relay.MessageNonce(budget) - 1
	}
	nonces := relay.NonceRange{Begin: begin, End: end}

	nonces, weight, ok, err := d.capByWeightAndSize(ctx, nonces)
	if err != nil || !ok {
		return relay.NonceRange{}, relay.MessageProofParameters{}, false, err
	}
	return nonces, relay.MessageProofParameters{
		OutboundStateProofRequired: outboundStateRequired,
		DispatchWeight:             weight,
	}, true, nil
}

// capByWeightAndSize trims the candidate range so cumulative dispatch weight
// and payload size stay within per-transaction limits. The first message is
// always included, even an oversized one: otherwise the lane would wedge on it.
func (d *deliveryRace) capByWeightAndSize(ctx context.Context, nonces relay.NonceRange) (relay.NonceRange, relay.Weight, bool, error) {
	var details relay.MessageDetailsMap
	err := d.callSource(ctx, "reading generated message details", func() error {
		m, err := d.source.GeneratedMessageDetails(ctx, d.proofHeader, nonces)
		details = m
		return err
	})
	if err != nil {
		return relay.NonceRange{}, 0, false, err
	}

	var weight relay.Weight
	var size uint64
	selectedEnd := nonces.Begin - 1
	for n := nonces.Begin; n <= nonces.End; n++ {
		det, ok := details[n]
		if !ok {
			// Pruned messages cannot be proved; stop at the gap.
			break
		}
		if n > nonces.Begin &&
			(weight+det.DispatchWeight > d.params.MaxMessagesWeightInSingleBatch ||
				size+uint64(det.Size) > d.params.MaxMessagesSizeInSingleBatch) {
			break
		}
		weight += det.DispatchWeight
		size += uint64(det.Size)
		selectedEnd = n
	}
	if selectedEnd < nonces.Begin {
		return relay.NonceRange{}, 0, false, nil
	}
	return relay.NonceRange{Begin: nonces.Begin, End: selectedEnd}, weight, true, nil
}

func (d *deliveryRace) checkStall() error {
	if d.stallTimeout <= 0 || d.latestGenerated == nil || d.latestReceived == nil {
		return nil
	}
	generated, received := *d.latestGenerated, *d.latestReceived
	if generated <= received {
		d.lastProgress = time.Now()
		return nil
	}
	if received > d.lastObserved {
		d.lastObserved = received
		d.lastProgress = time.Now()
		return nil
	}
	if since := time.Since(d.lastProgress); since > d.stallTimeout {
		return fmt.Errorf("delivery race stalled: no progress for %s with nonces %s outstanding",
			since.Truncate(time.Millisecond), relay.NonceRange{Begin: received + 1, End: generated})
	}
	return nil
}

// trackSubmitted waits for the transaction's terminal status and verifies the
// delivered nonce actually advanced at the finalized header.
func (d *deliveryRace) trackSubmitted(ctx context.Context, tracker relay.TransactionTracker, submitted relay.NonceRange) error {
	wctx := ctx
	var cancel context.CancelFunc
	if d.stallTimeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, d.stallTimeout)
		defer cancel()
	}
	status, at := tracker.Wait(wctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if status != relay.TrackedStatusFinalized {
		d.logger.Warn("messages delivery transaction lost, will resubmit",
			zap.String("nonces", submitted.String()),
		)
		d.submittedEnd = 0
		return nil
	}

	var received relay.MessageNonce
	err := d.callTarget(ctx, "verifying delivered nonces", func() error {
		_, n, err := d.target.LatestReceivedNonce(ctx, at)
		received = n
		return err
	})
	if err != nil {
		return err
	}
	if received < submitted.End {
		d.logger.Error("messages delivery transaction finalized but nonces did not advance",
			zap.String("nonces", submitted.String()),
			zap.Uint64("received", uint64(received)),
			zap.Uint64("at", at.Number),
		)
		d.submittedEnd = 0
		return nil
	}

	d.logger.Info("messages delivered", zap.String("nonces", submitted.String()))
	d.latestReceived = &received
	d.lastObserved = received
	d.lastProgress = time.Now()
	return nil
}

func stallCheckInterval(stallTimeout time.Duration) time.Duration {
	const def = time.Second
	if stallTimeout <= 0 || stallTimeout/4 > def {
		return def
	}
	return stallTimeout / 4
}
