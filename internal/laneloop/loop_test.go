package laneloop_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/laneloop"
	"github.com/lanebridge/lane-relayer/internal/relay"
)

// testChain is a shared in-memory model of both chains. Every client call
// mutates it under the mutex, so the loop under test observes a consistent,
// monotonically advancing pair of chains.
type testChain struct {
	mu    sync.Mutex
	block uint64

	generated         relay.MessageNonce
	received          relay.MessageNonce
	confirmedAtSource relay.MessageNonce
	confirmedAtTarget relay.MessageNonce

	deliveries    []relay.NonceRange
	confirmations []relay.MessageNonce

	// Failure injection: countdowns of connection errors returned by State.
	sourceStateFailures int
	targetStateFailures int
	// failTargetAfterSourceReconnect arms targetStateFailures once the source
	// side has been reconnected, to exercise sequential reconnect cycles.
	failTargetAfterSourceReconnect int
	// Countdown of delivery transactions reported lost by their tracker.
	loseDeliveries int

	sourceReconnects int
	targetReconnects int
}

func (c *testChain) header() relay.HeaderID {
	return relay.HeaderID{Number: c.block, Hash: fmt.Sprintf("%#08x", c.block)}
}

type chainView struct {
	received          relay.MessageNonce
	confirmedAtSource relay.MessageNonce
	deliveries        []relay.NonceRange
	confirmations     []relay.MessageNonce
	sourceReconnects  int
	targetReconnects  int
}

func (c *testChain) view() chainView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chainView{
		received:          c.received,
		confirmedAtSource: c.confirmedAtSource,
		deliveries:        append([]relay.NonceRange(nil), c.deliveries...),
		confirmations:     append([]relay.MessageNonce(nil), c.confirmations...),
		sourceReconnects:  c.sourceReconnects,
		targetReconnects:  c.targetReconnects,
	}
}

type finalizedTracker struct{ at relay.HeaderID }

func (t finalizedTracker) Wait(context.Context) (relay.TrackedTransactionStatus, relay.HeaderID) {
	return relay.TrackedStatusFinalized, t.at
}

type lostTracker struct{}

func (lostTracker) Wait(context.Context) (relay.TrackedTransactionStatus, relay.HeaderID) {
	return relay.TrackedStatusLost, relay.HeaderID{}
}

type headerBatch struct{ h relay.HeaderID }

func (b headerBatch) RequiredHeaderID() relay.HeaderID { return b.h }

type fakeSource struct{ c *testChain }

func (s *fakeSource) Reconnect(context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.sourceReconnects++
	if s.c.failTargetAfterSourceReconnect > 0 {
		s.c.targetStateFailures = s.c.failTargetAfterSourceReconnect
		s.c.failTargetAfterSourceReconnect = 0
	}
	return nil
}

func (s *fakeSource) State(context.Context) (relay.ClientState, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.c.sourceStateFailures > 0 {
		s.c.sourceStateFailures--
		return relay.ClientState{}, relay.ConnectionErrorf("source node unreachable")
	}
	s.c.block++
	h := s.c.header()
	return relay.ClientState{
		BestSelf:                    h,
		BestFinalizedSelf:           h,
		BestFinalizedPeerAtBestSelf: &h,
	}, nil
}

func (s *fakeSource) LatestGeneratedNonce(_ context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return at, s.c.generated, nil
}

func (s *fakeSource) LatestConfirmedReceivedNonce(_ context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return at, s.c.confirmedAtSource, nil
}

func (s *fakeSource) GeneratedMessageDetails(_ context.Context, _ relay.HeaderID, nonces relay.NonceRange) (relay.MessageDetailsMap, error) {
	details := make(relay.MessageDetailsMap)
	for n := nonces.Begin; n <= nonces.End; n++ {
		details[n] = relay.MessageDetails{DispatchWeight: 1, Size: 1, Reward: 1}
	}
	return details, nil
}

func (s *fakeSource) ProveMessages(_ context.Context, at relay.HeaderID, nonces relay.NonceRange, _ relay.MessageProofParameters) (relay.HeaderID, relay.NonceRange, relay.MessagesProof, error) {
	return at, nonces, relay.MessagesProof("messages proof"), nil
}

func (s *fakeSource) SubmitMessagesReceivingProof(_ context.Context, _ relay.BatchTransaction, _ relay.HeaderID, _ relay.MessagesReceivingProof) (relay.TransactionTracker, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.confirmedAtSource = s.c.received
	s.c.confirmedAtTarget = s.c.received
	s.c.confirmations = append(s.c.confirmations, s.c.received)
	s.c.block++
	return finalizedTracker{at: s.c.header()}, nil
}

func (s *fakeSource) RequireTargetHeaderOnSource(_ context.Context, id relay.HeaderID) (relay.BatchTransaction, error) {
	return headerBatch{h: id}, nil
}

type fakeTarget struct{ c *testChain }

func (t *fakeTarget) Reconnect(context.Context) error {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.c.targetReconnects++
	return nil
}

func (t *fakeTarget) State(context.Context) (relay.ClientState, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.targetStateFailures > 0 {
		t.c.targetStateFailures--
		return relay.ClientState{}, relay.ConnectionErrorf("target node unreachable")
	}
	t.c.block++
	h := t.c.header()
	return relay.ClientState{
		BestSelf:                    h,
		BestFinalizedSelf:           h,
		BestFinalizedPeerAtBestSelf: &h,
	}, nil
}

func (t *fakeTarget) LatestReceivedNonce(_ context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return at, t.c.received, nil
}

func (t *fakeTarget) LatestConfirmedReceivedNonce(_ context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessageNonce, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	return at, t.c.confirmedAtTarget, nil
}

func (t *fakeTarget) UnrewardedRelayersState(_ context.Context, at relay.HeaderID) (relay.HeaderID, relay.UnrewardedRelayersState, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	rs := relay.UnrewardedRelayersState{LastDeliveredNonce: t.c.received}
	if t.c.received > t.c.confirmedAtTarget {
		unconfirmed := uint64(t.c.received - t.c.confirmedAtTarget)
		rs.UnrewardedRelayerEntries = 1
		rs.MessagesInOldestEntry = unconfirmed
		rs.TotalMessages = unconfirmed
	}
	return at, rs, nil
}

func (t *fakeTarget) ProveMessagesReceiving(_ context.Context, at relay.HeaderID) (relay.HeaderID, relay.MessagesReceivingProof, error) {
	return at, relay.MessagesReceivingProof("receiving proof"), nil
}

func (t *fakeTarget) SubmitMessagesProof(_ context.Context, _ relay.BatchTransaction, _ relay.HeaderID, nonces relay.NonceRange, _ relay.MessagesProof) (relay.NonceRange, relay.TransactionTracker, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.c.deliveries = append(t.c.deliveries, nonces)
	if t.c.loseDeliveries > 0 {
		t.c.loseDeliveries--
		return nonces, lostTracker{}, nil
	}
	t.c.received = nonces.End
	t.c.block++
	return nonces, finalizedTracker{at: t.c.header()}, nil
}

func (t *fakeTarget) RequireSourceHeaderOnTarget(_ context.Context, id relay.HeaderID) (relay.BatchTransaction, error) {
	return headerBatch{h: id}, nil
}

func testParams() laneloop.Params {
	return laneloop.Params{
		Lane:           relay.LaneID{0, 0, 0, 1},
		SourceTick:     10 * time.Millisecond,
		TargetTick:     10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
		StallTimeout:   5 * time.Second,
		Delivery: laneloop.DeliveryParams{
			MaxUnrewardedRelayerEntriesAtTarget: 16,
			MaxUnconfirmedNoncesAtTarget:        1024,
			MaxMessagesInSingleBatch:            4,
			MaxMessagesWeightInSingleBatch:      100,
			MaxMessagesSizeInSingleBatch:        1 << 20,
		},
	}
}

func runLoop(ctx context.Context, chain *testChain, params laneloop.Params) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- laneloop.Run(ctx, params, &fakeSource{c: chain}, &fakeTarget{c: chain}, zap.NewNop())
	}()
	return errCh
}

func TestLaneLoopDeliversAndConfirms(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	chain := &testChain{generated: 10}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runLoop(ctx, chain, testParams())

	require.Eventually(t, func() bool {
		v := chain.view()
		return v.received == 10 && v.confirmedAtSource == 10
	}, 5*time.Second, 10*time.Millisecond, "all generated messages delivered and confirmed")

	cancel()
	require.NoError(t, <-errCh)

	v := chain.view()
	assert.Equal(t, []relay.NonceRange{
		{Begin: 1, End: 4},
		{Begin: 5, End: 8},
		{Begin: 9, End: 10},
	}, v.deliveries, "deliveries chunked by the per-batch message cap")
	assert.NotEmpty(t, v.confirmations)
	assert.Equal(t, relay.MessageNonce(10), v.confirmations[len(v.confirmations)-1])
}

func TestLaneLoopReconnectsAfterRepeatedConnectionErrors(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	// Two consecutive state failures escalate into a reconnect of the failed
	// side; a single one is absorbed by the poller's retry. Both sides fail
	// here, so the loop has to survive two reconnect cycles.
	chain := &testChain{generated: 1, sourceStateFailures: 2, failTargetAfterSourceReconnect: 2}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runLoop(ctx, chain, testParams())

	require.Eventually(t, func() bool {
		v := chain.view()
		return v.sourceReconnects >= 1 && v.targetReconnects >= 1 && v.received == 1
	}, 5*time.Second, 10*time.Millisecond, "loop reconnects both sides and resumes delivery")

	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []relay.NonceRange{{Begin: 1, End: 1}}, chain.view().deliveries)
}

func TestLaneLoopToleratesSingleConnectionError(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	chain := &testChain{generated: 1, targetStateFailures: 1}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runLoop(ctx, chain, testParams())

	require.Eventually(t, func() bool {
		return chain.view().received == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.Zero(t, chain.view().sourceReconnects)
}

func TestLaneLoopResubmitsLostTransaction(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	chain := &testChain{generated: 2, loseDeliveries: 1}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runLoop(ctx, chain, testParams())

	require.Eventually(t, func() bool {
		return chain.view().received == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	// The first submission is reported lost, so the same range goes out again.
	assert.Equal(t, []relay.NonceRange{
		{Begin: 1, End: 2},
		{Begin: 1, End: 2},
	}, chain.view().deliveries)
}

func TestLaneLoopStopsCleanlyWhenIdle(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	chain := &testChain{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runLoop(ctx, chain, testParams())

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, chain.view().deliveries)
}
