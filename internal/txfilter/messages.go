package txfilter

import (
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// LaneStateView is the filter's read-only view of lane progress.
type LaneStateView interface {
	// LastDeliveredNonce returns the inbound lane's latest delivered nonce.
	LastDeliveredNonce(lane relay.LaneID) (relay.MessageNonce, error)
	// LatestConfirmedNonce returns the outbound lane's latest confirmed nonce.
	LatestConfirmedNonce(lane relay.LaneID) (relay.MessageNonce, error)
}

// MessagesFilter rejects message deliveries and confirmations that carry no
// new nonces.
type MessagesFilter struct {
	lanes              LaneStateView
	registry           StakeRegistry
	perMessagePriority uint64
	logger             *zap.Logger
}

func NewMessagesFilter(lanes LaneStateView, registry StakeRegistry, perMessagePriority uint64, logger *zap.Logger) *MessagesFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagesFilter{
		lanes:              lanes,
		registry:           registry,
		perMessagePriority: perMessagePriority,
		logger:             logger,
	}
}

type deliveryCarry struct {
	lane relay.LaneID
	end  relay.MessageNonce
}

type confirmationCarry struct {
	lane relay.LaneID
	upTo relay.MessageNonce
}

func (f *MessagesFilter) Validate(relayer *relay.RelayerID, call Call) (any, ValidityResult) {
	switch c := call.(type) {
	case *MessagesDeliveryCall:
		delivered, err := f.lanes.LastDeliveredNonce(c.Lane)
		if err != nil {
			f.logger.Error("failed to read inbound lane state", zap.String("lane", c.Lane.String()), zap.Error(err))
			return nil, Rejected(ReasonStateUnavailable)
		}
		if c.Nonces.End <= delivered {
			return nil, Rejected(ReasonObsolete)
		}
		boost := ComputePriorityBoost(f.registry, relayer, uint64(c.Nonces.End-delivered), f.perMessagePriority)
		return &deliveryCarry{lane: c.Lane, end: c.Nonces.End}, Accepted(boost)

	case *MessagesConfirmationCall:
		confirmed, err := f.lanes.LatestConfirmedNonce(c.Lane)
		if err != nil {
			f.logger.Error("failed to read outbound lane state", zap.String("lane", c.Lane.String()), zap.Error(err))
			return nil, Rejected(ReasonStateUnavailable)
		}
		if c.ConfirmedUpTo <= confirmed {
			return nil, Rejected(ReasonObsolete)
		}
		// Confirmations are required for lane liveness but carry no skip-ahead
		// incentive.
		return &confirmationCarry{lane: c.Lane, upTo: c.ConfirmedUpTo}, Accepted(0)

	default:
		return nil, Accepted(0)
	}
}

func (f *MessagesFilter) PostDispatch(relayer *relay.RelayerID, dispatchFailed bool, carry any) {
	if relayer == nil {
		return
	}
	switch c := carry.(type) {
	case *deliveryCarry:
		delivered, err := f.lanes.LastDeliveredNonce(c.lane)
		stuck := !dispatchFailed && err == nil && delivered >= c.end
		if stuck {
			return
		}
		f.slash(*relayer, "delivery", c.lane, uint64(c.end), dispatchFailed)
	case *confirmationCarry:
		confirmed, err := f.lanes.LatestConfirmedNonce(c.lane)
		stuck := !dispatchFailed && err == nil && confirmed >= c.upTo
		if stuck {
			return
		}
		f.slash(*relayer, "confirmation", c.lane, uint64(c.upTo), dispatchFailed)
	}
}

func (f *MessagesFilter) slash(relayer relay.RelayerID, kind string, lane relay.LaneID, nonce uint64, dispatchFailed bool) {
	f.logger.Info("slashing relayer for useless messages call",
		zap.String("relayer", string(relayer)),
		zap.String("kind", kind),
		zap.String("lane", lane.String()),
		zap.Uint64("nonce", nonce),
		zap.Bool("dispatch_failed", dispatchFailed),
	)
	if err := f.registry.SlashAndDeregister(relayer); err != nil {
		f.logger.Error("failed to slash relayer", zap.String("relayer", string(relayer)), zap.Error(err))
	}
}
