package laneloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"

	"github.com/lanebridge/lane-relayer/internal/metrics"
	"github.com/lanebridge/lane-relayer/internal/relay"
)

// Run drives one lane until ctx is cancelled. Connection losses are handled
// internally: the failed side is reconnected and the loop restarted. Any other
// error is fatal and returned.
func Run(ctx context.Context, params Params, source relay.SourceClient, target relay.TargetClient, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("lane", params.Lane.String()))

	for {
		err := runUntilConnectionLost(ctx, params, source, target, logger)
		if ctx.Err() != nil {
			logger.Info("lane loop stopped")
			return nil
		}

		var fc *failedClientError
		if !errors.As(err, &fc) {
			return fmt.Errorf("lane %s loop: %w", params.Lane, err)
		}

		logger.Warn("connection lost, will reconnect",
			zap.String("failed_client", fc.failed.String()),
			zap.Error(fc.err),
		)
		metrics.IncLoopRestarts(params.Lane.String())
		if !sleepCtx(ctx, params.ReconnectDelay) {
			return nil
		}
		reconnectFailedClient(ctx, fc.failed, source, target, params.ReconnectDelay, logger)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runUntilConnectionLost runs the state pollers and both races until the first
// failure or until ctx is cancelled.
func runUntilConnectionLost(ctx context.Context, params Params, source relay.SourceClient, target relay.TargetClient, logger *zap.Logger) error {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each race gets its own conflating mailbox per side, so a race that is busy
	// submitting never blocks the pollers or starves the other race.
	deliverySource := newStateMailbox()
	deliveryTarget := newStateMailbox()
	receivingSource := newStateMailbox()
	receivingTarget := newStateMailbox()

	delivery := newDeliveryRace(params, source, target, deliverySource, deliveryTarget, logger)
	receiving := newReceivingRace(params, source, target, receivingSource, receivingTarget, logger)

	g := taskgroup.New(taskgroup.Trigger(cancel))
	g.Go(func() error {
		return pollStates(gctx, "source", params.Lane, params.SourceTick, FailedSource, source.State,
			[]*stateMailbox{deliverySource, receivingSource}, logger)
	})
	g.Go(func() error {
		return pollStates(gctx, "target", params.Lane, params.TargetTick, FailedTarget, target.State,
			[]*stateMailbox{deliveryTarget, receivingTarget}, logger)
	})
	g.Go(func() error { return delivery.run(gctx) })
	g.Go(func() error { return receiving.run(gctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// pollStates periodically reads one chain's state and fans it out to the race
// mailboxes. A single connection failure is retried with backoff; a second
// consecutive one escalates into a reconnect of that side.
func pollStates(
	ctx context.Context,
	chain string,
	lane relay.LaneID,
	tick time.Duration,
	side FailedClient,
	fetch func(context.Context) (relay.ClientState, error),
	outs []*stateMailbox,
	logger *zap.Logger,
) error {
	bo := newBackoff()
	offline := false
	for {
		state, err := fetch(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			offline = false
			bo.Reset()
			for _, out := range outs {
				out.push(state)
			}
			metrics.SetBestFinalizedBlock(chain, lane.String(), state.BestFinalizedSelf.Number)
			logger.Debug("client state received",
				zap.String("chain", chain),
				zap.Uint64("best", state.BestSelf.Number),
				zap.Uint64("best_finalized", state.BestFinalizedSelf.Number),
			)
			if !sleepCtx(ctx, tick) {
				return ctx.Err()
			}
		case !relay.IsConnectionError(err):
			return fmt.Errorf("retrieving %s state: %w", chain, err)
		case offline:
			return &failedClientError{failed: side, err: err}
		default:
			offline = true
			metrics.IncConnectionErrors(chain)
			logger.Warn("error retrieving client state, retrying",
				zap.String("chain", chain),
				zap.Error(err),
			)
			if !sleepCtx(ctx, bo.Next()) {
				return ctx.Err()
			}
		}
	}
}

// reconnectFailedClient retries Reconnect on the failed side(s) until it
// succeeds or ctx is cancelled.
func reconnectFailedClient(
	ctx context.Context,
	failed FailedClient,
	source relay.SourceClient,
	target relay.TargetClient,
	delay time.Duration,
	logger *zap.Logger,
) {
	for ctx.Err() == nil {
		var err error
		if failed == FailedSource || failed == FailedBoth {
			if rerr := source.Reconnect(ctx); rerr != nil {
				err = fmt.Errorf("reconnecting source: %w", rerr)
			}
		}
		if err == nil && (failed == FailedTarget || failed == FailedBoth) {
			if rerr := target.Reconnect(ctx); rerr != nil {
				err = fmt.Errorf("reconnecting target: %w", rerr)
			}
		}
		if err == nil {
			logger.Info("reconnected", zap.String("failed_client", failed.String()))
			return
		}
		logger.Warn("reconnect failed, retrying", zap.Error(err))
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// callWithRetry invokes fn, retrying a single connection-class failure with
// backoff. A second consecutive connection failure escalates to a client
// failure; any other error is fatal.
func callWithRetry(
	ctx context.Context,
	logger *zap.Logger,
	bo *expBackoff,
	side FailedClient,
	what string,
	fn func() error,
) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			bo.Reset()
			return nil
		case !relay.IsConnectionError(err):
			return fmt.Errorf("%s: %w", what, err)
		case attempt > 0:
			return &failedClientError{failed: side, err: fmt.Errorf("%s: %w", what, err)}
		}
		metrics.IncConnectionErrors(side.String())
		logger.Warn("connection error, retrying", zap.String("call", what), zap.Error(err))
		if !sleepCtx(ctx, bo.Next()) {
			return ctx.Err()
		}
	}
}
