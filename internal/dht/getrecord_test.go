package dht_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanebridge/lane-relayer/internal/dht"
)

// peerAt builds a peer whose distance to the zero target is determined by the
// first key byte, so tests control the contact order exactly.
func peerAt(id string, distance byte) dht.Peer {
	var key dht.Key
	key[0] = distance
	return dht.Peer{ID: dht.PeerID(id), Key: key}
}

func newQuery(t *testing.T, quorum dht.Quorum, parallelism, known uint, candidates ...dht.Peer) *dht.GetRecordContext {
	t.Helper()
	return dht.NewGetRecordContext(dht.GetRecordConfig{
		Local:             "local",
		Query:             7,
		Quorum:            quorum,
		ReplicationFactor: 20,
		Parallelism:       parallelism,
		KnownRecords:      known,
	}, candidates)
}

func sendTo(t *testing.T, q *dht.GetRecordContext) dht.Peer {
	t.Helper()
	action := q.NextAction()
	send, ok := action.(dht.SendMessage)
	require.True(t, ok, "expected SendMessage, got %T", action)
	return send.Peer
}

func TestGetRecordContactsClosestFirst(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 3, 0,
		peerAt("c", 3), peerAt("a", 1), peerAt("b", 2))

	assert.Equal(t, dht.PeerID("a"), sendTo(t, q).ID)
	assert.Equal(t, dht.PeerID("b"), sendTo(t, q).ID)
	assert.Equal(t, dht.PeerID("c"), sendTo(t, q).ID)
}

func TestGetRecordParallelismCap(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 3, 0,
		peerAt("a", 1), peerAt("b", 2), peerAt("c", 3), peerAt("d", 4), peerAt("e", 5))

	for i := 0; i < 3; i++ {
		sendTo(t, q)
	}
	assert.Nil(t, q.NextAction(), "the fourth request must wait for a response")

	q.RegisterResponseFailure("a")
	assert.Equal(t, dht.PeerID("d"), sendTo(t, q).ID, "a slot freed by a response is reused")
}

func TestGetRecordFailsWhenExhausted(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 3, 0, peerAt("a", 1), peerAt("b", 2))

	sendTo(t, q)
	sendTo(t, q)
	q.RegisterResponseFailure("a")
	q.RegisterResponseFailure("b")

	action := q.NextAction()
	assert.Equal(t, dht.QueryFailed{Query: 7}, action)
}

func TestGetRecordLocalKnowledgeTurnsExhaustionIntoSuccess(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 3, 1, peerAt("a", 1))

	sendTo(t, q)
	q.RegisterResponseFailure("a")

	action := q.NextAction()
	assert.Equal(t, dht.QuerySucceeded{Query: 7}, action)
}

func TestGetRecordDrainsRecordsBeforeConcluding(t *testing.T) {
	q := newQuery(t, dht.QuorumN(2), 4, 0,
		peerAt("a", 1), peerAt("b", 2), peerAt("c", 3), peerAt("d", 4))

	for i := 0; i < 4; i++ {
		sendTo(t, q)
	}

	record := dht.Record{Value: []byte("v")}
	q.RegisterResponse("a", &record, nil)
	q.RegisterResponse("b", &record, nil)
	q.RegisterResponseFailure("d")

	// Records are surfaced one per poll, in arrival order.
	first, ok := q.NextAction().(dht.PartialRecord)
	require.True(t, ok)
	assert.Equal(t, dht.PeerID("a"), first.Record.Peer)
	second, ok := q.NextAction().(dht.PartialRecord)
	require.True(t, ok)
	assert.Equal(t, dht.PeerID("b"), second.Record.Peer)

	// Quorum reached: success even though c is still pending.
	assert.Equal(t, dht.QuerySucceeded{Query: 7}, q.NextAction())
}

func TestGetRecordCollectsRecordsFromDiscoveredPeers(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 3, 0,
		peerAt("a", 1), peerAt("b", 2), peerAt("c", 3))

	for i := 0; i < 3; i++ {
		sendTo(t, q)
	}

	recordA := dht.Record{Value: []byte("va")}
	recordB := dht.Record{Value: []byte("vb")}
	recordD := dht.Record{Value: []byte("vd")}
	q.RegisterResponse("a", &recordA, nil)
	q.RegisterResponse("b", &recordB, []dht.Peer{peerAt("d", 4)})
	q.RegisterResponseFailure("c")

	// Buffered records drain first, then the discovered peer is contacted.
	first, ok := q.NextAction().(dht.PartialRecord)
	require.True(t, ok)
	assert.Equal(t, dht.PeerID("a"), first.Record.Peer)
	second, ok := q.NextAction().(dht.PartialRecord)
	require.True(t, ok)
	assert.Equal(t, dht.PeerID("b"), second.Record.Peer)

	assert.Equal(t, dht.PeerID("d"), sendTo(t, q).ID)
	q.RegisterResponse("d", &recordD, nil)

	third, ok := q.NextAction().(dht.PartialRecord)
	require.True(t, ok)
	assert.Equal(t, dht.PeerID("d"), third.Record.Peer)
	assert.Equal(t, dht.QuerySucceeded{Query: 7}, q.NextAction())
}

func TestGetRecordIgnoresExpiredRecords(t *testing.T) {
	q := newQuery(t, dht.QuorumOne(), 2, 0, peerAt("a", 1))

	sendTo(t, q)
	expired := dht.Record{Value: []byte("v"), Expires: time.Now().Add(-time.Minute)}
	q.RegisterResponse("a", &expired, nil)

	assert.Equal(t, uint(0), q.NumFoundRecords())
	assert.Equal(t, dht.QueryFailed{Query: 7}, q.NextAction())
}

func TestGetRecordMergesCloserPeers(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 1, 0, peerAt("far", 10))

	assert.Equal(t, dht.PeerID("far"), sendTo(t, q).ID)
	q.RegisterResponse("far", nil, []dht.Peer{
		peerAt("near", 1),
		peerAt("local", 2), // the local node never becomes a candidate
		peerAt("far", 3),   // already queried, must not be re-contacted
	})

	assert.Equal(t, dht.PeerID("near"), sendTo(t, q).ID)
	q.RegisterResponseFailure("near")
	assert.Equal(t, dht.QueryFailed{Query: 7}, q.NextAction())
}

func TestGetRecordKeepsEqualDistancePeers(t *testing.T) {
	q := newQuery(t, dht.QuorumAll(), 2, 0, peerAt("a", 1), peerAt("b", 1))

	first := sendTo(t, q)
	second := sendTo(t, q)
	assert.ElementsMatch(t,
		[]dht.PeerID{"a", "b"},
		[]dht.PeerID{first.ID, second.ID},
		"a distance collision must not drop a peer")
}

func TestGetRecordIgnoresUnknownResponders(t *testing.T) {
	q := newQuery(t, dht.QuorumOne(), 1, 0, peerAt("a", 1))

	record := dht.Record{Value: []byte("v")}
	q.RegisterResponse("stranger", &record, nil)
	assert.Equal(t, uint(0), q.NumFoundRecords())
	assert.Equal(t, 0, q.NumPending())
}
