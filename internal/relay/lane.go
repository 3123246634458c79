package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrLaneWindowFull is returned when the inbound lane cannot accept new
	// messages until confirmations prune the unrewarded relayers window.
	ErrLaneWindowFull = errors.New("unrewarded relayers window is full")
)

// OutboundLaneData is the source chain's view of one lane.
//
// Invariant: OldestUnprunedNonce-1 <= LatestReceivedNonce <= LatestGeneratedNonce.
type OutboundLaneData struct {
	// OldestUnprunedNonce is the nonce of the oldest message still stored on the
	// source chain. Messages below it have been confirmed, rewarded and pruned.
	OldestUnprunedNonce MessageNonce `json:"oldest_unpruned_nonce"`
	// LatestReceivedNonce is the nonce of the latest message whose delivery has
	// been confirmed by the target chain.
	LatestReceivedNonce MessageNonce `json:"latest_received_nonce"`
	// LatestGeneratedNonce is the nonce of the latest message sent over the lane.
	LatestGeneratedNonce MessageNonce `json:"latest_generated_nonce"`
}

// SendMessage assigns the next nonce to a newly queued message.
func (d *OutboundLaneData) SendMessage() MessageNonce {
	d.LatestGeneratedNonce++
	if d.OldestUnprunedNonce == 0 {
		d.OldestUnprunedNonce = d.LatestGeneratedNonce
	}
	return d.LatestGeneratedNonce
}

// Confirm records a delivery confirmation received from the target chain.
// Confirmations must never move backwards or beyond generated messages.
func (d *OutboundLaneData) Confirm(nonce MessageNonce) error {
	if nonce < d.LatestReceivedNonce {
		return fmt.Errorf("confirmation for nonce %d is behind latest received %d", nonce, d.LatestReceivedNonce)
	}
	if nonce > d.LatestGeneratedNonce {
		return fmt.Errorf("confirmation for nonce %d is ahead of latest generated %d", nonce, d.LatestGeneratedNonce)
	}
	d.LatestReceivedNonce = nonce
	return nil
}

// Prune removes confirmed messages up to and including upTo. Unconfirmed
// messages are never pruned.
func (d *OutboundLaneData) Prune(upTo MessageNonce) {
	if upTo > d.LatestReceivedNonce {
		upTo = d.LatestReceivedNonce
	}
	if upTo >= d.OldestUnprunedNonce {
		d.OldestUnprunedNonce = upTo + 1
	}
}

// UnrewardedRelayer is one entry of the inbound lane's delivery window: a relayer
// that has delivered the inclusive nonce range and has not been rewarded yet.
type UnrewardedRelayer struct {
	Begin   MessageNonce `json:"begin"`
	End     MessageNonce `json:"end"`
	Relayer RelayerID    `json:"relayer"`
}

// InboundLaneData is the target chain's view of one lane.
type InboundLaneData struct {
	// Relayers is the ordered unrewarded relayers window. Ranges are contiguous
	// and strictly increasing.
	Relayers []UnrewardedRelayer `json:"relayers"`
	// LastConfirmedNonce is the latest nonce whose delivery confirmation is known
	// to have been received (and rewarded) back on the source chain.
	LastConfirmedNonce MessageNonce `json:"last_confirmed_nonce"`
}

// LastDeliveredNonce returns the nonce of the latest message delivered to the
// target chain.
func (d *InboundLaneData) LastDeliveredNonce() MessageNonce {
	if len(d.Relayers) == 0 {
		return d.LastConfirmedNonce
	}
	return d.Relayers[len(d.Relayers)-1].End
}

// Receive appends a delivered nonce range for the given relayer, merging with
// the last entry when the same relayer delivers consecutive ranges. The window
// caps mirror the chain configuration: maxEntries bounds len(Relayers),
// maxMessages bounds the total number of unconfirmed messages.
func (d *InboundLaneData) Receive(nonces NonceRange, relayer RelayerID, maxEntries, maxMessages uint64) error {
	if nonces.IsEmpty() {
		return fmt.Errorf("empty delivery range %s", nonces)
	}
	if nonces.Begin != d.LastDeliveredNonce()+1 {
		return fmt.Errorf("delivery range %s is not adjacent to last delivered nonce %d", nonces, d.LastDeliveredNonce())
	}
	unconfirmed := uint64(d.LastDeliveredNonce()-d.LastConfirmedNonce) + nonces.Len()
	if unconfirmed > maxMessages {
		return ErrLaneWindowFull
	}
	if len(d.Relayers) > 0 && d.Relayers[len(d.Relayers)-1].Relayer == relayer {
		d.Relayers[len(d.Relayers)-1].End = nonces.End
		return nil
	}
	if uint64(len(d.Relayers)) >= maxEntries {
		return ErrLaneWindowFull
	}
	d.Relayers = append(d.Relayers, UnrewardedRelayer{Begin: nonces.Begin, End: nonces.End, Relayer: relayer})
	return nil
}

// Confirm advances the confirmed pointer and prunes fully-confirmed window
// entries, returning relayers that became eligible for reward.
func (d *InboundLaneData) Confirm(nonce MessageNonce) []UnrewardedRelayer {
	if nonce <= d.LastConfirmedNonce {
		return nil
	}
	if last := d.LastDeliveredNonce(); nonce > last {
		nonce = last
	}
	d.LastConfirmedNonce = nonce

	var rewarded []UnrewardedRelayer
	for len(d.Relayers) > 0 && d.Relayers[0].End <= nonce {
		rewarded = append(rewarded, d.Relayers[0])
		d.Relayers = d.Relayers[1:]
	}
	if len(d.Relayers) > 0 && d.Relayers[0].Begin <= nonce {
		d.Relayers[0].Begin = nonce + 1
	}
	return rewarded
}

// RelayersState summarizes the window for the delivery race.
func (d *InboundLaneData) RelayersState() UnrewardedRelayersState {
	state := UnrewardedRelayersState{
		UnrewardedRelayerEntries: uint64(len(d.Relayers)),
		LastDeliveredNonce:       d.LastDeliveredNonce(),
	}
	for i, entry := range d.Relayers {
		messages := uint64(entry.End-entry.Begin) + 1
		if i == 0 {
			state.MessagesInOldestEntry = messages
		}
		state.TotalMessages += messages
	}
	return state
}
