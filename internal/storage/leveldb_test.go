package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanebridge/lane-relayer/internal/relay"
	"github.com/lanebridge/lane-relayer/internal/storage"
)

func newTestStorage(t *testing.T) *storage.LevelDBStorage {
	t.Helper()
	st, err := storage.NewLevelDBStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, st.Close()) })
	return st
}

func TestStorageReturnsZeroStateForUnknownLane(t *testing.T) {
	st := newTestStorage(t)
	lane := relay.LaneID{0, 0, 0, 1}

	outbound, err := st.OutboundLaneData(lane)
	require.NoError(t, err)
	assert.Equal(t, relay.OutboundLaneData{}, outbound)

	inbound, err := st.InboundLaneData(lane)
	require.NoError(t, err)
	assert.Empty(t, inbound.Relayers)
	assert.Zero(t, inbound.LastConfirmedNonce)
}

func TestStorageLaneStateRoundTrip(t *testing.T) {
	st := newTestStorage(t)
	lane := relay.LaneID{0, 0, 0, 1}
	other := relay.LaneID{0, 0, 0, 2}

	err := st.MutateOutbound(lane, func(d *relay.OutboundLaneData) error {
		for i := 0; i < 5; i++ {
			d.SendMessage()
		}
		return d.Confirm(3)
	})
	require.NoError(t, err)

	err = st.MutateInbound(lane, func(d *relay.InboundLaneData) error {
		return d.Receive(relay.NonceRange{Begin: 1, End: 3}, "relayer-1", 16, 1024)
	})
	require.NoError(t, err)

	outbound, err := st.OutboundLaneData(lane)
	require.NoError(t, err)
	assert.Equal(t, relay.MessageNonce(5), outbound.LatestGeneratedNonce)
	assert.Equal(t, relay.MessageNonce(3), outbound.LatestReceivedNonce)

	inbound, err := st.InboundLaneData(lane)
	require.NoError(t, err)
	assert.Equal(t, relay.MessageNonce(3), inbound.LastDeliveredNonce())

	// Lanes are isolated from each other.
	otherOutbound, err := st.OutboundLaneData(other)
	require.NoError(t, err)
	assert.Equal(t, relay.OutboundLaneData{}, otherOutbound)
}

func TestStorageMutateRollsBackOnError(t *testing.T) {
	st := newTestStorage(t)
	lane := relay.LaneID{0, 0, 0, 1}

	require.NoError(t, st.MutateOutbound(lane, func(d *relay.OutboundLaneData) error {
		d.SendMessage()
		return nil
	}))

	err := st.MutateOutbound(lane, func(d *relay.OutboundLaneData) error {
		d.SendMessage()
		return d.Confirm(10)
	})
	require.Error(t, err)

	outbound, err := st.OutboundLaneData(lane)
	require.NoError(t, err)
	assert.Equal(t, relay.MessageNonce(1), outbound.LatestGeneratedNonce, "failed mutation must not persist")
}

func TestStorageProofJournalLifecycle(t *testing.T) {
	st := newTestStorage(t)
	lane := relay.LaneID{0, 0, 0, 1}

	info := relay.SubmittedProofInfo{
		Lane:   lane,
		Kind:   relay.ProofKindDelivery,
		Nonces: relay.NonceRange{Begin: 1, End: 4},
		TxHash: "0xaaaa",
		Status: relay.SubmissionSubmitted,
	}
	require.NoError(t, st.RecordSubmittedProof(info))

	pending, err := st.GetAllPendingProofs()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xaaaa", pending[0].TxHash)
	assert.Equal(t, relay.SubmissionSubmitted, pending[0].Status)
	assert.False(t, pending[0].SubmittedAt.IsZero(), "submission time is filled in when absent")

	require.NoError(t, st.SetProofStatus(lane, "0xaaaa", relay.SubmissionCommitted))

	pending, err = st.GetAllPendingProofs()
	require.NoError(t, err)
	assert.Empty(t, pending, "terminal status clears the pending index")

	journal, err := st.GetSubmittedProofs(lane)
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, relay.SubmissionCommitted, journal[0].Status)
	assert.Equal(t, relay.NonceRange{Begin: 1, End: 4}, journal[0].Nonces)
}

func TestStorageJournalKeepsLostSubmissions(t *testing.T) {
	st := newTestStorage(t)
	lane := relay.LaneID{0, 0, 0, 1}

	require.NoError(t, st.RecordSubmittedProof(relay.SubmittedProofInfo{
		Lane:   lane,
		Kind:   relay.ProofKindReceiving,
		TxHash: "0xbbbb",
		Status: relay.SubmissionSubmitted,
	}))
	require.NoError(t, st.RecordSubmittedProof(relay.SubmittedProofInfo{
		Lane:   lane,
		Kind:   relay.ProofKindDelivery,
		Nonces: relay.NonceRange{Begin: 5, End: 8},
		TxHash: "0xcccc",
		Status: relay.SubmissionSubmitted,
	}))
	require.NoError(t, st.SetProofStatus(lane, "0xbbbb", relay.SubmissionLost))

	pending, err := st.GetAllPendingProofs()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xcccc", pending[0].TxHash)

	journal, err := st.GetSubmittedProofs(lane)
	require.NoError(t, err)
	assert.Len(t, journal, 2, "lost submissions stay in the journal")
}

func TestStorageLaneStateViewAdapters(t *testing.T) {
	st := newTestStorage(t)
	lane := relay.LaneID{0, 0, 0, 1}

	require.NoError(t, st.MutateInbound(lane, func(d *relay.InboundLaneData) error {
		return d.Receive(relay.NonceRange{Begin: 1, End: 7}, "relayer-1", 16, 1024)
	}))
	require.NoError(t, st.MutateOutbound(lane, func(d *relay.OutboundLaneData) error {
		for i := 0; i < 7; i++ {
			d.SendMessage()
		}
		return d.Confirm(7)
	}))

	delivered, err := st.LastDeliveredNonce(lane)
	require.NoError(t, err)
	assert.Equal(t, relay.MessageNonce(7), delivered)

	confirmed, err := st.LatestConfirmedNonce(lane)
	require.NoError(t, err)
	assert.Equal(t, relay.MessageNonce(7), confirmed)
}
