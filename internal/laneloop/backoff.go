package laneloop

import "time"

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// expBackoff is a trivial exponential backoff for connection-class retries.
type expBackoff struct {
	next time.Duration
}

func newBackoff() *expBackoff {
	return &expBackoff{next: initialBackoff}
}

func (b *expBackoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > maxBackoff {
		b.next = maxBackoff
	}
	return d
}

func (b *expBackoff) Reset() {
	b.next = initialBackoff
}
