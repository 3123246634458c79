package dht

import "fmt"

type quorumKind int

const (
	quorumAll quorumKind = iota
	quorumOne
	quorumN
)

// Quorum decides how many record copies a retrieval query must gather before
// it can conclude successfully. Records already known locally before the query
// count toward every quorum type.
type Quorum struct {
	kind quorumKind
	n    uint
}

// QuorumAll requires as many copies as the network's replication factor.
func QuorumAll() Quorum { return Quorum{kind: quorumAll} }

// QuorumOne is satisfied by a single copy, including a pre-existing local one.
func QuorumOne() Quorum { return Quorum{kind: quorumOne} }

// QuorumN requires at least n copies. n must be positive.
func QuorumN(n uint) Quorum {
	if n == 0 {
		panic("dht: QuorumN requires a positive n")
	}
	return Quorum{kind: quorumN, n: n}
}

// Sufficient reports whether records copies satisfy the quorum, given the
// network replication factor.
func (q Quorum) Sufficient(records, replicationFactor uint) bool {
	switch q.kind {
	case quorumOne:
		return records >= 1
	case quorumN:
		return records >= q.n
	default:
		return records >= replicationFactor
	}
}

func (q Quorum) String() string {
	switch q.kind {
	case quorumOne:
		return "one"
	case quorumN:
		return fmt.Sprintf("n(%d)", q.n)
	default:
		return "all"
	}
}
