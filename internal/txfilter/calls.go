// Package txfilter implements transaction-validation filters guarding the
// bridge pallets: obsolete submissions are rejected before execution, useful
// ones get a priority boost proportional to how much state they advance, and
// submissions that were accepted but turned out useless cost the submitting
// relayer its stake.
package txfilter

import "github.com/lanebridge/lane-relayer/internal/relay"

// Call is one guarded bridge call extracted from a candidate transaction.
type Call interface {
	isCall()
}

// SubmitFinalityProofCall submits a finality proof for a bridged chain header.
type SubmitFinalityProofCall struct {
	// Header is the header the proof finalizes.
	Header relay.HeaderID
}

// SubmitParachainHeadsCall updates tracked parachain heads, proved at the given
// relay chain block.
type SubmitParachainHeadsCall struct {
	AtRelayBlock uint64
	Parachain    uint32
	HeadHash     string
}

// MessagesDeliveryCall delivers a range of lane messages to the inbound lane.
type MessagesDeliveryCall struct {
	Lane   relay.LaneID
	Nonces relay.NonceRange
}

// MessagesConfirmationCall confirms message delivery back to the outbound lane.
type MessagesConfirmationCall struct {
	Lane          relay.LaneID
	ConfirmedUpTo relay.MessageNonce
}

// BatchCall bundles several calls into one transaction, e.g. a finality proof
// followed by the message delivery it enables.
type BatchCall struct {
	Calls []Call
}

func (*SubmitFinalityProofCall) isCall()  {}
func (*SubmitParachainHeadsCall) isCall() {}
func (*MessagesDeliveryCall) isCall()     {}
func (*MessagesConfirmationCall) isCall() {}
func (*BatchCall) isCall()                {}

// Flatten expands nested batches into a flat call list, preserving order.
func Flatten(call Call) []Call {
	batch, ok := call.(*BatchCall)
	if !ok {
		return []Call{call}
	}
	var out []Call
	for _, c := range batch.Calls {
		out = append(out, Flatten(c)...)
	}
	return out
}
