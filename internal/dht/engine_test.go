package dht_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanebridge/lane-relayer/internal/dht"
)

func newEngine() *dht.Engine {
	return dht.NewEngine(dht.EngineConfig{
		Local:             "local",
		ReplicationFactor: 20,
		Parallelism:       3,
	}, nil)
}

func TestEngineMultiplexesQueries(t *testing.T) {
	e := newEngine()

	q1 := e.StartGetRecord(dht.Key{}, dht.QuorumOne(), 0, []dht.Peer{peerAt("a", 1)})
	q2 := e.StartGetRecord(dht.Key{}, dht.QuorumOne(), 0, []dht.Peer{peerAt("b", 1)})
	require.NotEqual(t, q1, q2)
	assert.Equal(t, 2, e.NumActiveQueries())

	// Queries are polled in start order.
	send1, ok := e.NextAction().(dht.SendMessage)
	require.True(t, ok)
	assert.Equal(t, q1, send1.Query)
	send2, ok := e.NextAction().(dht.SendMessage)
	require.True(t, ok)
	assert.Equal(t, q2, send2.Query)

	assert.Nil(t, e.NextAction(), "both queries are waiting on the network")
}

func TestEngineConcludesAndDropsQueries(t *testing.T) {
	e := newEngine()

	q := e.StartGetRecord(dht.Key{}, dht.QuorumOne(), 0, []dht.Peer{peerAt("a", 1)})
	send, ok := e.NextAction().(dht.SendMessage)
	require.True(t, ok)

	record := dht.Record{Value: []byte("v")}
	e.RegisterResponse(q, send.Peer.ID, &record, nil)

	partial, ok := e.NextAction().(dht.PartialRecord)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), partial.Record.Record.Value)

	assert.Equal(t, dht.QuerySucceeded{Query: q}, e.NextAction())
	assert.Equal(t, 0, e.NumActiveQueries())

	// A late response for the concluded query is dropped silently.
	e.RegisterResponse(q, "a", &record, nil)
	assert.Nil(t, e.NextAction())
}

func TestEngineFailureConcludesQuery(t *testing.T) {
	e := newEngine()

	q := e.StartGetRecord(dht.Key{}, dht.QuorumAll(), 0, []dht.Peer{peerAt("a", 1)})
	send, ok := e.NextAction().(dht.SendMessage)
	require.True(t, ok)

	e.RegisterResponseFailure(q, send.Peer.ID)
	assert.Equal(t, dht.QueryFailed{Query: q}, e.NextAction())
	assert.Equal(t, 0, e.NumActiveQueries())
}
