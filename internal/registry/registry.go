package registry

import (
	"fmt"
	"sync"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// RegistryConfig represents the config structure for the Registry.
type RegistryConfig struct {
	// RequiredStake is the minimum stake a relayer must lock to register.
	RequiredStake uint64
	// BestBlock reports the current chain block, used for lease expiry checks.
	BestBlock func() uint64
}

// Registration is one relayer's active stake lease.
type Registration struct {
	Relayer relay.RelayerID
	Stake   uint64
	// ValidTill is the last block the registration is considered active at.
	ValidTill uint64
}

// New instantiates a new *Registry based on the cfg.
func New(cfg *RegistryConfig) *Registry {
	best := cfg.BestBlock
	if best == nil {
		best = func() uint64 { return 0 }
	}
	return &Registry{
		requiredStake: cfg.RequiredStake,
		bestBlock:     best,
		registrations: make(map[relay.RelayerID]Registration),
	}
}

// Registry tracks relayer stake registrations. Registered relayers earn
// priority boosts for their bridge transactions and expose their stake to
// slashing when a boosted transaction turns out useless.
type Registry struct {
	mu            sync.RWMutex
	requiredStake uint64
	bestBlock     func() uint64
	registrations map[relay.RelayerID]Registration
	slashed       uint64
}

// Register creates or extends the relayer's registration. The stake must meet
// the required minimum and validTill must not shrink an existing lease.
func (r *Registry) Register(relayer relay.RelayerID, stake, validTill uint64) error {
	if stake < r.requiredStake {
		return fmt.Errorf("stake %d is below the required %d", stake, r.requiredStake)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.registrations[relayer]; ok && validTill < prev.ValidTill {
		return fmt.Errorf("registration of %s until block %d cannot be shortened to %d", relayer, prev.ValidTill, validTill)
	}
	r.registrations[relayer] = Registration{Relayer: relayer, Stake: stake, ValidTill: validTill}
	return nil
}

// Deregister removes the relayer's registration, releasing its stake. Only
// expired registrations may be voluntarily removed.
func (r *Registry) Deregister(relayer relay.RelayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[relayer]
	if !ok {
		return fmt.Errorf("relayer %s is not registered", relayer)
	}
	if reg.ValidTill >= r.bestBlock() {
		return fmt.Errorf("registration of %s is still active until block %d", relayer, reg.ValidTill)
	}
	delete(r.registrations, relayer)
	return nil
}

// IsRegistrationActive returns true if the relayer holds a non-expired
// registration.
func (r *Registry) IsRegistrationActive(relayer relay.RelayerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[relayer]
	return ok && reg.ValidTill >= r.bestBlock()
}

// SlashAndDeregister confiscates the relayer's stake and removes its
// registration. Slashing an unregistered relayer is a no-op.
func (r *Registry) SlashAndDeregister(relayer relay.RelayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registrations[relayer]
	if !ok {
		return nil
	}
	r.slashed += reg.Stake
	delete(r.registrations, relayer)
	return nil
}

// Registration returns the relayer's registration, if any.
func (r *Registry) Registration(relayer relay.RelayerID) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[relayer]
	return reg, ok
}

// TotalSlashed returns the cumulative amount of confiscated stake.
func (r *Registry) TotalSlashed() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slashed
}

// Registrations returns a snapshot of all registrations.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		out = append(out, reg)
	}
	return out
}
