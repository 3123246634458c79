package dht

import (
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/metrics"
)

// EngineConfig parameterizes a query engine.
type EngineConfig struct {
	// Local is the local node's id.
	Local PeerID
	// ReplicationFactor is the network's record replication factor.
	ReplicationFactor uint
	// Parallelism caps in-flight requests per query.
	Parallelism uint
}

// Engine multiplexes record retrieval queries. It is single-threaded by
// design: the owning event loop feeds responses in and polls NextAction,
// exactly like an individual query context but across all of them.
type Engine struct {
	cfg    EngineConfig
	logger *zap.Logger

	nextID  QueryID
	queries map[QueryID]*GetRecordContext
	// order keeps queries iterable in start order, so NextAction is
	// deterministic and no query is starved by map iteration randomness.
	order []QueryID
}

func NewEngine(cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		queries: make(map[QueryID]*GetRecordContext),
	}
}

// StartGetRecord begins a retrieval query for target seeded with the given
// candidates and returns its id.
func (e *Engine) StartGetRecord(target Key, quorum Quorum, knownRecords uint, candidates []Peer) QueryID {
	id := e.nextID
	e.nextID++
	e.queries[id] = NewGetRecordContext(GetRecordConfig{
		Local:             e.cfg.Local,
		Query:             id,
		Target:            target,
		Quorum:            quorum,
		ReplicationFactor: e.cfg.ReplicationFactor,
		Parallelism:       e.cfg.Parallelism,
		KnownRecords:      knownRecords,
	}, candidates)
	e.order = append(e.order, id)
	metrics.IncDHTQueries("started")
	e.logger.Debug("get record query started",
		zap.Uint64("query", uint64(id)),
		zap.String("target", target.String()),
		zap.String("quorum", quorum.String()),
		zap.Int("candidates", len(candidates)),
	)
	return id
}

// RegisterResponse routes a peer's answer to its query. Responses for unknown
// (already concluded) queries are dropped.
func (e *Engine) RegisterResponse(query QueryID, peer PeerID, record *Record, closerPeers []Peer) {
	q, ok := e.queries[query]
	if !ok {
		e.logger.Debug("response for concluded query ignored",
			zap.Uint64("query", uint64(query)),
			zap.String("peer", string(peer)),
		)
		return
	}
	q.RegisterResponse(peer, record, closerPeers)
}

// RegisterResponseFailure routes a request failure to its query.
func (e *Engine) RegisterResponseFailure(query QueryID, peer PeerID) {
	q, ok := e.queries[query]
	if !ok {
		return
	}
	q.RegisterResponseFailure(peer)
}

// NextAction polls the queries in start order and returns the first action
// available, or nil when every query is waiting on the network. Terminal
// actions remove their query from the engine.
func (e *Engine) NextAction() Action {
	for i := 0; i < len(e.order); i++ {
		id := e.order[i]
		q, ok := e.queries[id]
		if !ok {
			e.order = append(e.order[:i], e.order[i+1:]...)
			i--
			continue
		}
		action := q.NextAction()
		if action == nil {
			continue
		}
		switch action.(type) {
		case QuerySucceeded:
			metrics.IncDHTQueries("succeeded")
			e.logger.Debug("get record query succeeded",
				zap.Uint64("query", uint64(id)),
				zap.Uint("found", q.NumFoundRecords()),
			)
			delete(e.queries, id)
		case QueryFailed:
			metrics.IncDHTQueries("failed")
			e.logger.Debug("get record query failed", zap.Uint64("query", uint64(id)))
			delete(e.queries, id)
		}
		return action
	}
	return nil
}

// NumActiveQueries returns the number of queries not yet concluded.
func (e *Engine) NumActiveQueries() int {
	return len(e.queries)
}
