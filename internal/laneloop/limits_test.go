package laneloop_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanebridge/lane-relayer/internal/laneloop"
	"github.com/lanebridge/lane-relayer/internal/relay"
)

type fakeProber struct {
	base       relay.Weight
	perMessage relay.Weight
	err        error
}

func (f *fakeProber) DeliveryTransactionWeight(_ context.Context, messages uint64, _ relay.Weight) (relay.Weight, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.base + f.perMessage*relay.Weight(messages), nil
}

func TestSelectDeliveryTransactionLimits(t *testing.T) {
	prober := &fakeProber{base: 100, perMessage: 30}

	limits, err := laneloop.SelectDeliveryTransactionLimits(context.Background(), prober, 3000, 1024)
	require.NoError(t, err)

	// One third of the budget covers the transaction itself: (1000-100)/30 = 30
	// messages; the remaining two thirds are left for dispatch.
	assert.Equal(t, uint64(30), limits.MaxMessagesInDeliveryTransaction)
	assert.Equal(t, relay.Weight(2000), limits.MaxDispatchWeightInDeliveryTransaction)
}

func TestSelectDeliveryTransactionLimitsCapsByLaneWindow(t *testing.T) {
	prober := &fakeProber{base: 100, perMessage: 30}

	limits, err := laneloop.SelectDeliveryTransactionLimits(context.Background(), prober, 3000, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), limits.MaxMessagesInDeliveryTransaction)
}

func TestSelectDeliveryTransactionLimitsRejectsDegenerateWeights(t *testing.T) {
	_, err := laneloop.SelectDeliveryTransactionLimits(context.Background(), &fakeProber{base: 1000, perMessage: 30}, 3000, 1024)
	assert.Error(t, err, "the empty transaction alone exceeds the budget")

	_, err = laneloop.SelectDeliveryTransactionLimits(context.Background(), &fakeProber{base: 100, perMessage: 0}, 3000, 1024)
	assert.Error(t, err, "a flat weight model cannot bound a batch")

	_, err = laneloop.SelectDeliveryTransactionLimits(context.Background(), &fakeProber{base: 100, perMessage: 2000}, 3000, 1024)
	assert.Error(t, err, "no message fits the budget")
}

func TestSelectDeliveryTransactionLimitsProbeError(t *testing.T) {
	_, err := laneloop.SelectDeliveryTransactionLimits(context.Background(), &fakeProber{err: errors.New("node down")}, 3000, 1024)
	assert.Error(t, err)
}
