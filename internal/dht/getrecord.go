package dht

import (
	"time"

	"github.com/google/btree"
)

// Action is one step the query driver must take on behalf of a query.
type Action interface {
	isAction()
}

// SendMessage instructs the driver to send a record request to the peer.
type SendMessage struct {
	Query QueryID
	Peer  Peer
}

// PartialRecord surfaces one found record to the caller. Records are drained
// one per poll so the caller never receives more than one new fact at a time.
type PartialRecord struct {
	Query  QueryID
	Record PeerRecord
}

// QuerySucceeded is the terminal action of a query that satisfied its quorum
// or exhausted the network with at least one record found.
type QuerySucceeded struct {
	Query QueryID
}

// QueryFailed is the terminal action of a query that exhausted the network
// without finding any record, local knowledge included.
type QueryFailed struct {
	Query QueryID
}

func (SendMessage) isAction()    {}
func (PartialRecord) isAction()  {}
func (QuerySucceeded) isAction() {}
func (QueryFailed) isAction()    {}

// QueryID identifies one outstanding query within an engine.
type QueryID uint64

// candidate is a not-yet-contacted peer ordered by distance to the target.
// Peers at equal distance are kept side by side, ordered by id, so a distance
// collision never silently drops a peer.
type candidate struct {
	distance Distance
	peer     Peer
}

func candidateLess(a, b candidate) bool {
	if a.distance != b.distance {
		return a.distance.Less(b.distance)
	}
	return a.peer.ID < b.peer.ID
}

// GetRecordConfig parameterizes one record retrieval query.
type GetRecordConfig struct {
	// Local is the local node's id; it is filtered out of candidate sets.
	Local PeerID
	// Query is the engine-assigned query id.
	Query QueryID
	// Target is the record key being retrieved.
	Target Key
	// Quorum decides when enough copies have been gathered.
	Quorum Quorum
	// ReplicationFactor is the network's record replication factor.
	ReplicationFactor uint
	// Parallelism caps the number of requests in flight.
	Parallelism uint
	// KnownRecords is the number of copies already known locally before the
	// query; they count toward the quorum.
	KnownRecords uint
}

// GetRecordContext is the synchronous state machine of one record retrieval
// query. Every peer it ever hears about is in exactly one of three sets:
// candidates (not yet contacted), pending (request in flight) or queried
// (answered or failed, terminal). The caller owns all I/O: it feeds responses
// in via RegisterResponse/RegisterResponseFailure and polls NextAction for the
// next thing to do.
type GetRecordContext struct {
	cfg GetRecordConfig

	candidates *btree.BTreeG[candidate]
	pending    map[PeerID]Peer
	queried    map[PeerID]struct{}

	// records buffers found records in arrival order until the caller drains
	// them via NextAction.
	records []PeerRecord
	found   uint
}

// NewGetRecordContext starts a query against the given initial candidate set,
// normally the local routing table's closest known peers to the target.
func NewGetRecordContext(cfg GetRecordConfig, candidates []Peer) *GetRecordContext {
	ctx := &GetRecordContext{
		cfg:        cfg,
		candidates: btree.NewG(2, candidateLess),
		pending:    make(map[PeerID]Peer),
		queried:    make(map[PeerID]struct{}),
	}
	ctx.addCandidates(candidates)
	return ctx
}

func (g *GetRecordContext) addCandidates(peers []Peer) {
	for _, peer := range peers {
		if peer.ID == g.cfg.Local {
			continue
		}
		if _, ok := g.pending[peer.ID]; ok {
			continue
		}
		if _, ok := g.queried[peer.ID]; ok {
			continue
		}
		g.candidates.ReplaceOrInsert(candidate{
			distance: g.cfg.Target.DistanceTo(peer.Key),
			peer:     peer,
		})
	}
}

// RegisterResponse records a peer's answer: the record it served, if any, and
// the closer peers it returned. Responses from peers not in pending are
// ignored.
func (g *GetRecordContext) RegisterResponse(peer PeerID, record *Record, closerPeers []Peer) {
	g.registerResponseAt(peer, record, closerPeers, time.Now())
}

func (g *GetRecordContext) registerResponseAt(peer PeerID, record *Record, closerPeers []Peer, now time.Time) {
	if _, ok := g.pending[peer]; !ok {
		return
	}
	delete(g.pending, peer)
	g.queried[peer] = struct{}{}

	if record != nil && !record.IsExpired(now) {
		g.records = append(g.records, PeerRecord{Peer: peer, Record: *record})
		g.found++
	}
	g.addCandidates(closerPeers)
}

// RegisterResponseFailure records a failed or timed-out request. The peer is
// terminal; the failure counts toward exhaustion but never toward the quorum.
func (g *GetRecordContext) RegisterResponseFailure(peer PeerID) {
	if _, ok := g.pending[peer]; !ok {
		return
	}
	delete(g.pending, peer)
	g.queried[peer] = struct{}{}
}

// NextAction returns the query's next step, or nil when it can only wait for
// outstanding responses. Buffered records are drained first, one per call;
// then exhaustion and quorum are checked; only then is the closest untried
// candidate contacted, subject to the parallelism cap.
func (g *GetRecordContext) NextAction() Action {
	if len(g.records) > 0 {
		rec := g.records[0]
		g.records = g.records[1:]
		return PartialRecord{Query: g.cfg.Query, Record: rec}
	}

	if len(g.pending) == 0 && g.candidates.Len() == 0 {
		if g.cfg.KnownRecords+g.found == 0 {
			return QueryFailed{Query: g.cfg.Query}
		}
		return QuerySucceeded{Query: g.cfg.Query}
	}

	if g.cfg.Quorum.Sufficient(g.cfg.KnownRecords+g.found, g.cfg.ReplicationFactor) {
		// Early success: outstanding requests are abandoned, their late
		// responses will be ignored.
		return QuerySucceeded{Query: g.cfg.Query}
	}

	if uint(len(g.pending)) >= g.cfg.Parallelism {
		return nil
	}
	next, ok := g.candidates.DeleteMin()
	if !ok {
		return nil
	}
	g.pending[next.peer.ID] = next.peer
	return SendMessage{Query: g.cfg.Query, Peer: next.peer}
}

// NumFoundRecords returns the count of non-expired records received so far.
func (g *GetRecordContext) NumFoundRecords() uint {
	return g.found
}

// NumPending returns the number of requests currently in flight.
func (g *GetRecordContext) NumPending() int {
	return len(g.pending)
}
