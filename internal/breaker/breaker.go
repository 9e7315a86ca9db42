package breaker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Policy describes when a breaker trips and how it recovers.
//
// The breaker opens once at least MinRequests calls were seen in the current
// Interval and the failure share reaches FailureRatio. After OpenTimeout it
// lets HalfOpenRequests trial calls through; a successful one closes it again.
type Policy struct {
	Name             string
	MinRequests      uint32
	FailureRatio     float64
	Interval         time.Duration
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// DefaultPolicy mirrors the usual Hystrix command defaults.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:             name,
		MinRequests:      20,
		FailureRatio:     0.5,
		Interval:         10 * time.Second,
		OpenTimeout:      5 * time.Second,
		HalfOpenRequests: 1,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy(p.Name)
	if p.MinRequests == 0 {
		p.MinRequests = def.MinRequests
	}
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	if p.OpenTimeout <= 0 {
		p.OpenTimeout = def.OpenTimeout
	}
	if p.HalfOpenRequests == 0 {
		p.HalfOpenRequests = def.HalfOpenRequests
	}
	return p
}

// Breaker guards calls producing T.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// New builds a breaker for p. Zero fields fall back to DefaultPolicy.
func New[T any](p Policy) *Breaker[T] {
	p = p.withDefaults()
	settings := gobreaker.Settings{
		Name:        p.Name,
		MaxRequests: p.HalfOpenRequests,
		Interval:    p.Interval,
		Timeout:     p.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < p.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= p.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Call runs primary through the breaker. When primary fails, or the breaker
// rejects the call without running it, fallback receives the error and its
// result is returned instead. Call itself never fails.
func (b *Breaker[T]) Call(primary func() (T, error), fallback func(error) T) T {
	out, err := b.cb.Execute(primary)
	if err != nil {
		return fallback(err)
	}
	return out
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}

// IsOpen reports whether err is a short-circuit rejection rather than a
// failure of the guarded call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
