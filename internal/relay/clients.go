package relay

import "context"

// TrackedTransactionStatus is the terminal status of a submitted transaction.
type TrackedTransactionStatus int

const (
	// TrackedStatusLost means the transaction was dropped or could not be traced
	// to a finalized block.
	TrackedStatusLost TrackedTransactionStatus = iota
	// TrackedStatusFinalized means the transaction was included in a finalized
	// block. Inclusion does not imply the submission was useful: the caller must
	// re-check chain state at the reported header.
	TrackedStatusFinalized
)

// TransactionTracker follows a submitted transaction until it is finalized or
// declared lost.
type TransactionTracker interface {
	// Wait blocks until the transaction reaches a terminal status. The returned
	// header is the block the transaction was finalized at (zero value when lost).
	Wait(ctx context.Context) (TrackedTransactionStatus, HeaderID)
}

// BatchTransaction is a transaction that already carries a header proof for the
// peer chain and must be extended with a messages/receiving proof before
// submission.
type BatchTransaction interface {
	// RequiredHeaderID is the peer chain header bundled in the batch.
	RequiredHeaderID() HeaderID
}

// SourceClient is the lane relay's capability set over the source chain.
// All errors must be classifiable via IsConnectionError.
type SourceClient interface {
	// Reconnect tears down and re-establishes the underlying connection.
	Reconnect(ctx context.Context) error

	// State returns the client's current state snapshot.
	State(ctx context.Context) (ClientState, error)

	// LatestGeneratedNonce returns the nonce of the latest generated message at
	// the given finalized header.
	LatestGeneratedNonce(ctx context.Context, at HeaderID) (HeaderID, MessageNonce, error)

	// LatestConfirmedReceivedNonce returns the latest nonce whose delivery has
	// been confirmed back to the source chain, at the given header.
	LatestConfirmedReceivedNonce(ctx context.Context, at HeaderID) (HeaderID, MessageNonce, error)

	// GeneratedMessageDetails returns details of generated messages in the range.
	// Pruned messages may be missing from the result.
	GeneratedMessageDetails(ctx context.Context, at HeaderID, nonces NonceRange) (MessageDetailsMap, error)

	// ProveMessages builds a proof of messages in the inclusive range at the
	// given finalized header. The returned range may be a prefix of the request
	// if the proof would otherwise overflow size limits.
	ProveMessages(ctx context.Context, at HeaderID, nonces NonceRange, params MessageProofParameters) (HeaderID, NonceRange, MessagesProof, error)

	// SubmitMessagesReceivingProof submits a delivery confirmation to the source
	// chain. batch may be nil.
	SubmitMessagesReceivingProof(ctx context.Context, batch BatchTransaction, generatedAt HeaderID, proof MessagesReceivingProof) (TransactionTracker, error)

	// RequireTargetHeaderOnSource asks the source chain's header relay to import
	// the given finalized target header. A non-nil batch transaction means the
	// header will only be submitted together with a receiving proof appended by
	// the caller; (nil, nil) means the caller must wait for the header to appear.
	RequireTargetHeaderOnSource(ctx context.Context, id HeaderID) (BatchTransaction, error)
}

// TargetClient is the lane relay's capability set over the target chain.
type TargetClient interface {
	Reconnect(ctx context.Context) error

	State(ctx context.Context) (ClientState, error)

	// LatestReceivedNonce returns the nonce of the latest message delivered to
	// the target chain, at the given header.
	LatestReceivedNonce(ctx context.Context, at HeaderID) (HeaderID, MessageNonce, error)

	// LatestConfirmedReceivedNonce returns the latest nonce known by the target
	// chain to have been confirmed back to the source chain.
	LatestConfirmedReceivedNonce(ctx context.Context, at HeaderID) (HeaderID, MessageNonce, error)

	// UnrewardedRelayersState returns the inbound lane window summary.
	UnrewardedRelayersState(ctx context.Context, at HeaderID) (HeaderID, UnrewardedRelayersState, error)

	// ProveMessagesReceiving builds a proof of the inbound lane state at the
	// given finalized header.
	ProveMessagesReceiving(ctx context.Context, at HeaderID) (HeaderID, MessagesReceivingProof, error)

	// SubmitMessagesProof submits a messages delivery proof. batch may be nil.
	// The returned range is the range actually submitted.
	SubmitMessagesProof(ctx context.Context, batch BatchTransaction, generatedAt HeaderID, nonces NonceRange, proof MessagesProof) (NonceRange, TransactionTracker, error)

	// RequireSourceHeaderOnTarget asks the target chain's header relay to import
	// the given finalized source header. Semantics mirror
	// SourceClient.RequireTargetHeaderOnSource.
	RequireSourceHeaderOnTarget(ctx context.Context, id HeaderID) (BatchTransaction, error)
}

// LaneStore is the explicit handle to persisted lane state. Implementations
// must serialize concurrent mutations per lane.
type LaneStore interface {
	OutboundLaneData(lane LaneID) (OutboundLaneData, error)
	InboundLaneData(lane LaneID) (InboundLaneData, error)
	MutateOutbound(lane LaneID, fn func(*OutboundLaneData) error) error
	MutateInbound(lane LaneID, fn func(*InboundLaneData) error) error
}
