// Package breaker wraps sony/gobreaker for calls against Redis.
package breaker

import (
	"errors"
	"fmt"

	"github.com/arunvm123/dianping/config"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the breaker is open or half-open and saturated.
var ErrUnavailable = errors.New("remote store unavailable")

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(name string, cfg config.Breaker) *Breaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.5
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker. Errors for which ignore returns true are
// handed back to the caller without counting as failures.
func (b *Breaker) Execute(fn func() (interface{}, error), ignore func(error) bool) (interface{}, error) {
	var passed error
	res, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && ignore != nil && ignore(err) {
			passed = err
			return v, nil
		}
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return res, passed
}

// State reports the current breaker state, used by the health endpoint.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
