package txfilter

import (
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// HeaderChain is the filter's view of a bridged header pallet.
type HeaderChain interface {
	// BestFinalizedNumber returns the number of the best finalized bridged
	// header known on this chain.
	BestFinalizedNumber() uint64
}

// FinalityProofFilter rejects finality proofs that do not advance the best
// finalized bridged header, and boosts proofs that skip over stale headers.
type FinalityProofFilter struct {
	headers           HeaderChain
	registry          StakeRegistry
	perHeaderPriority uint64
	logger            *zap.Logger
}

func NewFinalityProofFilter(headers HeaderChain, registry StakeRegistry, perHeaderPriority uint64, logger *zap.Logger) *FinalityProofFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinalityProofFilter{
		headers:           headers,
		registry:          registry,
		perHeaderPriority: perHeaderPriority,
		logger:            logger,
	}
}

type finalityCarry struct {
	bundled uint64
}

func (f *FinalityProofFilter) Validate(relayer *relay.RelayerID, call Call) (any, ValidityResult) {
	c, ok := call.(*SubmitFinalityProofCall)
	if !ok {
		return nil, Accepted(0)
	}
	best := f.headers.BestFinalizedNumber()
	if c.Header.Number <= best {
		return nil, Rejected(ReasonObsolete)
	}
	boost := ComputePriorityBoost(f.registry, relayer, c.Header.Number-best, f.perHeaderPriority)
	return &finalityCarry{bundled: c.Header.Number}, Accepted(boost)
}

func (f *FinalityProofFilter) PostDispatch(relayer *relay.RelayerID, dispatchFailed bool, carry any) {
	c, ok := carry.(*finalityCarry)
	if !ok || relayer == nil {
		return
	}
	stuck := !dispatchFailed && f.headers.BestFinalizedNumber() >= c.bundled
	if stuck {
		return
	}
	f.logger.Info("slashing relayer for useless finality proof",
		zap.String("relayer", string(*relayer)),
		zap.Uint64("bundled", c.bundled),
		zap.Bool("dispatch_failed", dispatchFailed),
	)
	if err := f.registry.SlashAndDeregister(*relayer); err != nil {
		f.logger.Error("failed to slash relayer", zap.String("relayer", string(*relayer)), zap.Error(err))
	}
}
