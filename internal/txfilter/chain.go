package txfilter

import "github.com/lanebridge/lane-relayer/internal/relay"

// CallFilter guards one pallet's calls across the transaction lifecycle.
// Validate runs before execution and may reject or boost; PostDispatch runs
// after execution with the carry Validate produced, and punishes submissions
// that failed or did not stick. A filter returns a nil carry for calls it does
// not guard.
type CallFilter interface {
	Validate(relayer *relay.RelayerID, call Call) (carry any, result ValidityResult)
	PostDispatch(relayer *relay.RelayerID, dispatchFailed bool, carry any)
}

// ChainCarry holds the per-filter carries collected while validating one
// transaction.
type ChainCarry struct {
	perFilter [][]any
}

// Chain runs an ordered list of filters as a single transaction extension.
type Chain struct {
	filters []CallFilter
}

func NewChain(filters ...CallFilter) *Chain {
	return &Chain{filters: filters}
}

// Validate runs every filter over every call of the (possibly batched)
// transaction. The first rejection short-circuits; otherwise priority boosts
// are accumulated with saturation and all carries are collected for
// post-dispatch.
func (ch *Chain) Validate(relayer *relay.RelayerID, call Call) (*ChainCarry, ValidityResult) {
	calls := Flatten(call)
	carry := &ChainCarry{perFilter: make([][]any, len(ch.filters))}
	var boost uint64
	for i, f := range ch.filters {
		for _, c := range calls {
			cy, res := f.Validate(relayer, c)
			if !res.Valid {
				return nil, res
			}
			boost = saturatingAdd(boost, res.PriorityBoost)
			if cy != nil {
				carry.perFilter[i] = append(carry.perFilter[i], cy)
			}
		}
	}
	return carry, Accepted(boost)
}

// PostDispatch hands every filter its own carries. It runs all hooks
// unconditionally so each guarded pallet gets the chance to punish a no-op.
func (ch *Chain) PostDispatch(relayer *relay.RelayerID, dispatchFailed bool, carry *ChainCarry) {
	if carry == nil {
		return
	}
	for i, f := range ch.filters {
		for _, cy := range carry.perFilter[i] {
			f.PostDispatch(relayer, dispatchFailed, cy)
		}
	}
}
