package relay

import (
	"encoding/hex"
	"fmt"
)

// LaneID identifies a unidirectional logical message channel between two chains.
type LaneID [4]byte

func (l LaneID) String() string {
	return hex.EncodeToString(l[:])
}

// ParseLaneID decodes a lane identifier from its hex form (8 characters).
func ParseLaneID(s string) (LaneID, error) {
	var lane LaneID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return lane, fmt.Errorf("invalid lane id %q: %w", s, err)
	}
	if len(raw) != len(lane) {
		return lane, fmt.Errorf("invalid lane id %q: expected %d bytes, got %d", s, len(lane), len(raw))
	}
	copy(lane[:], raw)
	return lane, nil
}

// MessageNonce is a strictly increasing sequence number identifying one message
// within a lane. Nonce 0 means "no messages yet"; the first message is nonce 1.
type MessageNonce uint64

// NonceRange is an inclusive range of message nonces.
type NonceRange struct {
	Begin MessageNonce `json:"begin"`
	End   MessageNonce `json:"end"`
}

func (r NonceRange) IsEmpty() bool {
	return r.End < r.Begin
}

func (r NonceRange) Len() uint64 {
	if r.IsEmpty() {
		return 0
	}
	return uint64(r.End-r.Begin) + 1
}

func (r NonceRange) Contains(n MessageNonce) bool {
	return n >= r.Begin && n <= r.End
}

func (r NonceRange) String() string {
	return fmt.Sprintf("[%d..=%d]", r.Begin, r.End)
}

// Weight is the chain's abstract execution cost unit.
type Weight uint64

// MessageDetails describes a single queued outbound message.
type MessageDetails struct {
	// DispatchWeight is the weight the target chain will spend dispatching the message.
	DispatchWeight Weight `json:"dispatch_weight"`
	// Size is the number of bytes in the encoded payload.
	Size uint32 `json:"size"`
	// Reward is the relayer reward, paid in source chain tokens.
	Reward uint64 `json:"reward"`
}

// MessageDetailsMap maps message nonces to their details. Some nonces from a
// requested range may be missing if the source chain has already pruned them.
type MessageDetailsMap map[MessageNonce]MessageDetails

// RelayerID identifies an off-chain relayer account.
type RelayerID string

// HeaderID pairs a block number with its hash.
type HeaderID struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

func (h HeaderID) String() string {
	return fmt.Sprintf("#%d (%s)", h.Number, h.Hash)
}

// ClientState is a snapshot of one chain client's view: its own best headers and
// the best finalized header of the peer chain, as known to this chain. It is an
// immutable value, replaced wholesale on every poll.
//
// Note that "best" in lane context always means best finalized: proofs are only
// generated against and accepted at finalized headers.
type ClientState struct {
	// BestSelf is the best (non-finalized) header of this chain.
	BestSelf HeaderID `json:"best_self"`
	// BestFinalizedSelf is the best finalized header of this chain.
	BestFinalizedSelf HeaderID `json:"best_finalized_self"`
	// BestFinalizedPeerAtBestSelf is the best finalized header of the peer chain,
	// read at BestSelf. Nil if no peer header has been relayed yet.
	BestFinalizedPeerAtBestSelf *HeaderID `json:"best_finalized_peer_at_best_self,omitempty"`
	// ActualBestFinalizedPeerAtBestSelf is the peer chain header whose number
	// matches BestFinalizedPeerAtBestSelf, as seen by the peer itself.
	ActualBestFinalizedPeerAtBestSelf *HeaderID `json:"actual_best_finalized_peer_at_best_self,omitempty"`
}

// MessagesProof is an opaque storage proof of a nonce range's outbound messages,
// tied to a specific finalized source chain header. It is produced by a source
// client and consumed exactly once by a target submit call; the relay never
// inspects its contents.
type MessagesProof []byte

// MessagesReceivingProof is an opaque storage proof of the inbound lane's
// delivery state at a finalized target chain header.
type MessagesReceivingProof []byte

// MessageProofParameters tells the source client how to build a messages proof.
type MessageProofParameters struct {
	// OutboundStateProofRequired requests the outbound lane state to be appended
	// to the proof, so that delivery also prunes the unrewarded relayers window.
	OutboundStateProofRequired bool `json:"outbound_state_proof_required"`
	// DispatchWeight is the cumulative dispatch weight of proved messages.
	DispatchWeight Weight `json:"dispatch_weight"`
}

// UnrewardedRelayersState is a summary of the inbound lane's unrewarded relayers
// window, used to decide when message delivery must stop until confirmations
// are delivered back.
type UnrewardedRelayersState struct {
	UnrewardedRelayerEntries uint64       `json:"unrewarded_relayer_entries"`
	MessagesInOldestEntry    uint64       `json:"messages_in_oldest_entry"`
	TotalMessages            uint64       `json:"total_messages"`
	LastDeliveredNonce       MessageNonce `json:"last_delivered_nonce"`
}
