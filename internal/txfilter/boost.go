package txfilter

import (
	"math"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// StakeRegistry is the filters' view of relayer stake registrations.
type StakeRegistry interface {
	// IsRegistrationActive reports whether the relayer holds an active (not
	// expired, not deregistering) stake registration.
	IsRegistrationActive(relayer relay.RelayerID) bool
	// SlashAndDeregister confiscates the relayer's stake and removes its
	// registration.
	SlashAndDeregister(relayer relay.RelayerID) error
}

// ComputePriorityBoost returns the priority bonus for a submission improving
// the guarded state by improvedBy units. Improving by exactly one unit earns
// nothing over the baseline; every unit of stale state skipped beyond that
// earns perUnitPriority. Unattributed and unregistered submitters always get
// zero, so unstaked spam cannot win priority races.
func ComputePriorityBoost(registry StakeRegistry, relayer *relay.RelayerID, improvedBy uint64, perUnitPriority uint64) uint64 {
	if relayer == nil || improvedBy == 0 {
		return 0
	}
	if registry == nil || !registry.IsRegistrationActive(*relayer) {
		return 0
	}
	steps := improvedBy - 1
	if perUnitPriority != 0 && steps > math.MaxUint64/perUnitPriority {
		return math.MaxUint64
	}
	return steps * perUnitPriority
}
