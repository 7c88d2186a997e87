package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without contacting the API while the breaker is open.
var ErrCircuitOpen = errors.New("LLM circuit breaker is open")

// BreakerConfig controls when BreakerClient stops sending requests.
type BreakerConfig struct {
	Name             string
	FailureThreshold float64
	MinRequests      uint32
	OpenTimeout      time.Duration
}

// BreakerClient wraps an LLMClient with a circuit breaker so that a failing
// deployment is not hammered on every chat turn. Only transient failures
// count against the breaker; a 400 from a bad request leaves it closed.
type BreakerClient struct {
	inner LLMClient
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerClient creates a breaker around inner.
func NewBreakerClient(inner LLMClient, cfg BreakerConfig) *BreakerClient {
	b := &BreakerClient{inner: inner}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !inner.IsTransientError(err)
		},
	})
	return b
}

func (b *BreakerClient) StreamChat(ctx context.Context, messages []Message, tools []Tool, opts ChatOptions) (<-chan StreamChunk, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.inner.StreamChat(ctx, messages, tools, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return res.(<-chan StreamChunk), nil
}

func (b *BreakerClient) IsTransientError(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return b.inner.IsTransientError(err)
}

// State reports the breaker state name ("closed", "half-open", "open").
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
