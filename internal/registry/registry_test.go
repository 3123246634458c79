package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanebridge/lane-relayer/internal/registry"
)

func TestRegistryRegisterRequiresStake(t *testing.T) {
	r := registry.New(&registry.RegistryConfig{RequiredStake: 100})

	err := r.Register("alice", 99, 1000)
	assert.Error(t, err)
	assert.False(t, r.IsRegistrationActive("alice"))

	require.NoError(t, r.Register("alice", 100, 1000))
	assert.True(t, r.IsRegistrationActive("alice"))
}

func TestRegistryLeaseExpiry(t *testing.T) {
	best := uint64(0)
	r := registry.New(&registry.RegistryConfig{
		RequiredStake: 100,
		BestBlock:     func() uint64 { return best },
	})
	require.NoError(t, r.Register("alice", 100, 50))

	assert.True(t, r.IsRegistrationActive("alice"))
	best = 50
	assert.True(t, r.IsRegistrationActive("alice"), "the lease is inclusive of its last block")
	best = 51
	assert.False(t, r.IsRegistrationActive("alice"))
}

func TestRegistryLeaseCannotShrink(t *testing.T) {
	r := registry.New(&registry.RegistryConfig{RequiredStake: 100})
	require.NoError(t, r.Register("alice", 100, 1000))

	assert.Error(t, r.Register("alice", 100, 500))
	require.NoError(t, r.Register("alice", 200, 2000))

	reg, ok := r.Registration("alice")
	require.True(t, ok)
	assert.Equal(t, uint64(200), reg.Stake)
	assert.Equal(t, uint64(2000), reg.ValidTill)
}

func TestRegistryDeregister(t *testing.T) {
	best := uint64(0)
	r := registry.New(&registry.RegistryConfig{
		RequiredStake: 100,
		BestBlock:     func() uint64 { return best },
	})
	require.NoError(t, r.Register("alice", 100, 50))

	assert.Error(t, r.Deregister("alice"), "an active lease cannot be abandoned")
	best = 51
	require.NoError(t, r.Deregister("alice"))
	assert.Error(t, r.Deregister("alice"), "already deregistered")
}

func TestRegistrySlashAndDeregister(t *testing.T) {
	r := registry.New(&registry.RegistryConfig{RequiredStake: 100})
	require.NoError(t, r.Register("alice", 150, 1000))

	require.NoError(t, r.SlashAndDeregister("alice"))
	assert.False(t, r.IsRegistrationActive("alice"))
	assert.Equal(t, uint64(150), r.TotalSlashed())

	// Slashing an unknown relayer is a no-op.
	require.NoError(t, r.SlashAndDeregister("bob"))
	assert.Equal(t, uint64(150), r.TotalSlashed())
}
