package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker placed in front of a Client.
type BreakerSettings struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// breakerClient trips when the node itself misbehaves. Contract reverts and
// an unbound client are answers, not outages, and never trip it.
type breakerClient struct {
	next    Client
	breaker *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps next so that repeated transport failures stop
// reaching the node until the breaker half-opens again.
func WithCircuitBreaker(next Client, settings BreakerSettings) Client {
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Ledger circuit breaker changed state")
		},
		IsSuccessful: func(err error) bool {
			return !isOutage(err)
		},
	})

	return &breakerClient{next: next, breaker: breaker}
}

// isOutage reports whether err says something about the node. A caller
// giving up is not an outage.
func isOutage(err error) bool {
	if err == nil || errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
		return false
	}

	switch Classify(err).Kind {
	case KindUnavailable, KindUnknown:
		return true
	}

	return false
}

func (b *breakerClient) SubmitStatusNote(ctx context.Context, trackingID, notes, from string) (*Receipt, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.SubmitStatusNote(ctx, trackingID, notes, from)
	})
	if err != nil {
		return nil, err
	}

	return res.(*Receipt), nil
}

func (b *breakerClient) FetchDetails(ctx context.Context, trackingID string) (*Record, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.FetchDetails(ctx, trackingID)
	})
	if err != nil {
		return nil, err
	}

	return res.(*Record), nil
}
