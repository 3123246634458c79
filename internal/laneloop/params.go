package laneloop

import (
	"fmt"
	"time"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// Params configures one lane loop instance. A single loop serves one lane in
// one direction; a two-way lane needs two loops.
type Params struct {
	// Lane is the id of the lane this loop is servicing.
	Lane relay.LaneID
	// SourceTick is the interval between source chain state polls.
	SourceTick time.Duration
	// TargetTick is the interval between target chain state polls.
	TargetTick time.Duration
	// ReconnectDelay is the delay between a connection loss and the reconnect
	// attempt.
	ReconnectDelay time.Duration
	// StallTimeout is the liveness watchdog: a race that makes no nonce progress
	// for this long while work is outstanding terminates the loop with an error.
	// Zero disables the watchdog.
	StallTimeout time.Duration
	// Delivery holds the message delivery race parameters.
	Delivery DeliveryParams
}

// DeliveryParams bounds a single delivery transaction and the inbound lane
// window the delivery race is allowed to fill.
type DeliveryParams struct {
	// MaxUnrewardedRelayerEntriesAtTarget caps the inbound lane's unrewarded
	// relayers window; the race stops delivering once the window holds this many
	// entries, until a confirmation prunes it.
	MaxUnrewardedRelayerEntriesAtTarget uint64
	// MaxUnconfirmedNoncesAtTarget caps the number of delivered-but-unconfirmed
	// messages at the target chain.
	MaxUnconfirmedNoncesAtTarget uint64
	// MaxMessagesInSingleBatch caps message count per delivery transaction.
	MaxMessagesInSingleBatch uint64
	// MaxMessagesWeightInSingleBatch caps cumulative dispatch weight per delivery
	// transaction.
	MaxMessagesWeightInSingleBatch relay.Weight
	// MaxMessagesSizeInSingleBatch caps cumulative payload size per delivery
	// transaction.
	MaxMessagesSizeInSingleBatch uint64
}

// FailedClient tells the outer loop which side's connection has to be
// re-established before the inner loop is restarted.
type FailedClient int

const (
	FailedSource FailedClient = iota
	FailedTarget
	FailedBoth
)

func (f FailedClient) String() string {
	switch f {
	case FailedSource:
		return "source"
	case FailedTarget:
		return "target"
	default:
		return "both"
	}
}

// failedClientError marks a connection-class failure that escalated past local
// backoff. It is recoverable: the outer loop reconnects and restarts.
type failedClientError struct {
	failed FailedClient
	err    error
}

func (e *failedClientError) Error() string {
	return fmt.Sprintf("%s client connection lost: %v", e.failed, e.err)
}

func (e *failedClientError) Unwrap() error { return e.err }
