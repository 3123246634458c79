package app

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/chainrpc"
	"github.com/lanebridge/lane-relayer/internal/config"
	"github.com/lanebridge/lane-relayer/internal/laneloop"
	"github.com/lanebridge/lane-relayer/internal/relay"
	"github.com/lanebridge/lane-relayer/internal/storage"
)

// Version and Commit are set at build time via ldflags.
var (
	Version = ""
	Commit  = ""
)

// retries configuration for the startup weight probing
var (
	rtyAtt = retry.Attempts(uint(5))
	rtyDel = retry.Delay(time.Second * 10)
	rtyErr = retry.LastErrorOnly(true)
)

func NewDefaultStorage(cfg config.LaneRelayerConfig, logger *zap.Logger) (*storage.LevelDBStorage, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("RELAYER_STORAGE_PATH must be set")
	}
	st, err := storage.NewLevelDBStorage(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize levelDB storage: %w", err)
	}
	logger.Info("storage opened", zap.String("path", cfg.StoragePath))
	return st, nil
}

// NewDefaultClients builds the source and target chain clients of the lane.
func NewDefaultClients(cfg config.LaneRelayerConfig, journal chainrpc.ProofJournal, logger *zap.Logger) (*chainrpc.Client, *chainrpc.Client, error) {
	lane, err := relay.ParseLaneID(cfg.Lane)
	if err != nil {
		return nil, nil, err
	}
	source := chainrpc.NewClient(chainrpc.Config{
		BaseURL:      cfg.SourceRPCAddress,
		Lane:         lane,
		Timeout:      cfg.RPCTimeout,
		PollInterval: cfg.TxPollInterval,
	}, journal, logger.Named("source_client"))
	target := chainrpc.NewClient(chainrpc.Config{
		BaseURL:      cfg.TargetRPCAddress,
		Lane:         lane,
		Timeout:      cfg.RPCTimeout,
		PollInterval: cfg.TxPollInterval,
	}, journal, logger.Named("target_client"))
	return source, target, nil
}

// NewDefaultLoopParams probes the target chain's weight model and assembles
// the lane loop parameters. The probed message count cap is halved to keep a
// reserve against weight estimation drift.
func NewDefaultLoopParams(ctx context.Context, cfg config.LaneRelayerConfig, target *chainrpc.Client, logger *zap.Logger) (laneloop.Params, error) {
	lane, err := relay.ParseLaneID(cfg.Lane)
	if err != nil {
		return laneloop.Params{}, err
	}

	var maxExtrinsicWeight relay.Weight
	if err := retry.Do(func() error {
		var err error
		maxExtrinsicWeight, err = target.MaxExtrinsicWeight(ctx)
		return err
	}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr); err != nil {
		return laneloop.Params{}, fmt.Errorf("failed to fetch max extrinsic weight: %w", err)
	}

	var limits laneloop.TransactionLimits
	if err := retry.Do(func() error {
		var err error
		limits, err = laneloop.SelectDeliveryTransactionLimits(ctx, target, maxExtrinsicWeight, cfg.MaxUnconfirmedNonces)
		return err
	}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr); err != nil {
		return laneloop.Params{}, fmt.Errorf("failed to select delivery transaction limits: %w", err)
	}

	maxMessages := limits.MaxMessagesInDeliveryTransaction / 2
	if maxMessages == 0 {
		maxMessages = 1
	}
	logger.Info("delivery transaction limits selected",
		zap.Uint64("max_messages", maxMessages),
		zap.Uint64("max_dispatch_weight", uint64(limits.MaxDispatchWeightInDeliveryTransaction)),
	)

	return laneloop.Params{
		Lane:           lane,
		SourceTick:     cfg.SourceTick,
		TargetTick:     cfg.TargetTick,
		ReconnectDelay: cfg.ReconnectDelay,
		StallTimeout:   cfg.StallTimeout,
		Delivery: laneloop.DeliveryParams{
			MaxUnrewardedRelayerEntriesAtTarget: cfg.MaxUnrewardedRelayerEntries,
			MaxUnconfirmedNoncesAtTarget:        cfg.MaxUnconfirmedNonces,
			MaxMessagesInSingleBatch:            maxMessages,
			MaxMessagesWeightInSingleBatch:      limits.MaxDispatchWeightInDeliveryTransaction,
			MaxMessagesSizeInSingleBatch:        cfg.MaxMessagesSizeInSingleBatch,
		},
	}, nil
}
