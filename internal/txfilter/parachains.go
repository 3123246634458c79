package txfilter

import (
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// ParachainTracker is the filter's view of the tracked parachain heads.
type ParachainTracker interface {
	// BestParaHeadRelayNumber returns the relay chain block number at which the
	// parachain's stored head was last proved, and whether any head is stored.
	BestParaHeadRelayNumber(parachain uint32) (uint64, bool)
}

// ParachainHeadsFilter rejects parachain head updates proved at relay blocks
// not newer than the stored one.
type ParachainHeadsFilter struct {
	tracker         ParachainTracker
	registry        StakeRegistry
	perHeadPriority uint64
	logger          *zap.Logger
}

func NewParachainHeadsFilter(tracker ParachainTracker, registry StakeRegistry, perHeadPriority uint64, logger *zap.Logger) *ParachainHeadsFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParachainHeadsFilter{
		tracker:         tracker,
		registry:        registry,
		perHeadPriority: perHeadPriority,
		logger:          logger,
	}
}

type parachainCarry struct {
	parachain    uint32
	atRelayBlock uint64
}

func (f *ParachainHeadsFilter) Validate(relayer *relay.RelayerID, call Call) (any, ValidityResult) {
	c, ok := call.(*SubmitParachainHeadsCall)
	if !ok {
		return nil, Accepted(0)
	}
	var best uint64
	if stored, known := f.tracker.BestParaHeadRelayNumber(c.Parachain); known {
		best = stored
	}
	if c.AtRelayBlock <= best {
		return nil, Rejected(ReasonObsolete)
	}
	boost := ComputePriorityBoost(f.registry, relayer, c.AtRelayBlock-best, f.perHeadPriority)
	return &parachainCarry{parachain: c.Parachain, atRelayBlock: c.AtRelayBlock}, Accepted(boost)
}

func (f *ParachainHeadsFilter) PostDispatch(relayer *relay.RelayerID, dispatchFailed bool, carry any) {
	c, ok := carry.(*parachainCarry)
	if !ok || relayer == nil {
		return
	}
	stored, known := f.tracker.BestParaHeadRelayNumber(c.parachain)
	stuck := !dispatchFailed && known && stored >= c.atRelayBlock
	if stuck {
		return
	}
	f.logger.Info("slashing relayer for useless parachain heads update",
		zap.String("relayer", string(*relayer)),
		zap.Uint32("parachain", c.parachain),
		zap.Uint64("at_relay_block", c.atRelayBlock),
		zap.Bool("dispatch_failed", dispatchFailed),
	)
	if err := f.registry.SlashAndDeregister(*relayer); err != nil {
		f.logger.Error("failed to slash relayer", zap.String("relayer", string(*relayer)), zap.Error(err))
	}
}
