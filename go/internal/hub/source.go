package hub

import (
	"context"
	"time"
)

// Source is a push-event subscription keyed by owner id. Implementations
// deliver events for a subscribed owner in arrival order; cross-owner
// ordering is not guaranteed. A silent source is not an error condition —
// downstream staleness policy covers it.
type Source interface {
	// Subscribe starts delivering events for the owner onto the returned
	// channel. Delivery stops when the context is cancelled or
	// Unsubscribe is called; consumers must honor their own cancellation
	// rather than rely on the channel closing.
	Subscribe(ctx context.Context, ownerID string) (<-chan *Event, error)

	// Unsubscribe stops delivery for the owner. Safe to call for owners
	// that were never subscribed.
	Unsubscribe(ownerID string)

	// Close tears down the underlying transport.
	Close() error
}

// RetryPolicy is the explicit reconnect configuration for a source.
// Zero MaxAttempts means give up on the first failure; the subscription
// then goes silent and staleness takes over.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// DefaultRetryPolicy returns the reconnect policy used when none is
// configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// NextBackoff returns the wait before the given attempt (1-based),
// doubling per attempt and capped at MaxBackoff.
func (p RetryPolicy) NextBackoff(attempt int) time.Duration {
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
