package laneloop

import (
	"context"
	"time"

	"github.com/lanebridge/lane-relayer/internal/relay"
)

// stateMailbox is a conflating single-slot channel of client states. Pushing
// into a full mailbox replaces the stale value, so a slow consumer always
// reads the most recent state instead of a backlog of outdated ones.
type stateMailbox struct {
	ch chan relay.ClientState
}

func newStateMailbox() *stateMailbox {
	return &stateMailbox{ch: make(chan relay.ClientState, 1)}
}

func (m *stateMailbox) push(state relay.ClientState) {
	for {
		select {
		case m.ch <- state:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

func (m *stateMailbox) updates() <-chan relay.ClientState { return m.ch }

// sleepCtx sleeps for d or until ctx is cancelled, reporting whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
