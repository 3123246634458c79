package laneloop

import (
	"context"
	"fmt"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// DeliveryWeightProber estimates the weight of a messages delivery transaction
// carrying the given number of messages with the given cumulative dispatch
// weight. Estimates are expected to be linear in the message count.
type DeliveryWeightProber interface {
	DeliveryTransactionWeight(ctx context.Context, messages uint64, dispatchWeight relay.Weight) (relay.Weight, error)
}

// TransactionLimits bounds a single delivery transaction, derived from the
// target chain's extrinsic weight limit.
type TransactionLimits struct {
	// MaxMessagesInDeliveryTransaction is the message count cap. Callers are
	// expected to halve it to keep a reserve against estimation drift.
	MaxMessagesInDeliveryTransaction uint64
	// MaxDispatchWeightInDeliveryTransaction is the cumulative dispatch weight cap.
	MaxDispatchWeightInDeliveryTransaction relay.Weight
}

// SelectDeliveryTransactionLimits probes the target chain's weight model and
// splits the extrinsic weight budget between transaction overhead and message
// dispatch. One third of the budget is reserved for the transaction itself
// (proof decoding, storage writes); the rest is left for dispatching messages.
func SelectDeliveryTransactionLimits(
	ctx context.Context,
	prober DeliveryWeightProber,
	maxExtrinsicWeight relay.Weight,
	maxUnconfirmedMessages uint64,
) (TransactionLimits, error) {
	weightForTransaction := maxExtrinsicWeight / 3
	weightForDispatch := maxExtrinsicWeight - weightForTransaction

	baseWeight, err := prober.DeliveryTransactionWeight(ctx, 0, 0)
	if err != nil {
		return TransactionLimits{}, fmt.Errorf("probing empty delivery transaction weight: %w", err)
	}
	singleWeight, err := prober.DeliveryTransactionWeight(ctx, 1, 0)
	if err != nil {
		return TransactionLimits{}, fmt.Errorf("probing single-message delivery transaction weight: %w", err)
	}

	if baseWeight >= weightForTransaction {
		return TransactionLimits{}, fmt.Errorf(
			"empty delivery transaction weight %d exceeds the transaction budget %d (of extrinsic weight %d)",
			baseWeight, weightForTransaction, maxExtrinsicWeight,
		)
	}
	if singleWeight <= baseWeight {
		return TransactionLimits{}, fmt.Errorf(
			"non-positive per-message weight: empty=%d single=%d", baseWeight, singleWeight,
		)
	}
	weightPerMessage := singleWeight - baseWeight

	maxMessages := uint64((weightForTransaction - baseWeight) / weightPerMessage)
	if maxMessages > maxUnconfirmedMessages {
		maxMessages = maxUnconfirmedMessages
	}
	if maxMessages == 0 {
		return TransactionLimits{}, fmt.Errorf(
			"per-message weight %d leaves no room for messages in budget %d",
			weightPerMessage, weightForTransaction,
		)
	}
	if weightForDispatch < maxExtrinsicWeight/2 {
		return TransactionLimits{}, fmt.Errorf(
			"dispatch weight budget %d fell below half of extrinsic weight %d",
			weightForDispatch, maxExtrinsicWeight,
		)
	}

	return TransactionLimits{
		MaxMessagesInDeliveryTransaction:       maxMessages,
		MaxDispatchWeightInDeliveryTransaction: weightForDispatch,
	}, nil
}
