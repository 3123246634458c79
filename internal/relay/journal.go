package relay

import "time"

// SubmissionStatus is the lifecycle status of a submitted proof transaction.
type SubmissionStatus string

const (
	// SubmissionSubmitted - the transaction was accepted by the node but not yet
	// observed in a finalized block.
	SubmissionSubmitted SubmissionStatus = "Submitted"
	// SubmissionCommitted - the transaction was observed in a finalized block.
	SubmissionCommitted SubmissionStatus = "Committed"
	// SubmissionLost - the transaction was dropped without being finalized.
	SubmissionLost SubmissionStatus = "Lost"
)

// ProofKind distinguishes the two proof directions of a lane.
type ProofKind string

const (
	ProofKindDelivery  ProofKind = "delivery"
	ProofKindReceiving ProofKind = "receiving"
)

// SubmittedProofInfo is the persisted journal entry of one proof submission.
type SubmittedProofInfo struct {
	Lane        LaneID           `json:"lane"`
	Kind        ProofKind        `json:"kind"`
	Nonces      NonceRange       `json:"nonces"`
	TxHash      string           `json:"tx_hash"`
	Status      SubmissionStatus `json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// PendingSubmittedProof identifies a journal entry that has not reached a
// terminal status yet.
type PendingSubmittedProof struct {
	Lane   LaneID `json:"lane"`
	TxHash string `json:"tx_hash"`
}
