package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerOptions tunes the circuit breaker around an artifact store.
type BreakerOptions struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
	Logger      *zap.Logger
}

// BreakerArtifactStore fails fast while the wrapped store keeps erroring.
type BreakerArtifactStore struct {
	next ArtifactStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerArtifactStore wraps next with a circuit breaker.
func NewBreakerArtifactStore(next ArtifactStore, opts BreakerOptions) *BreakerArtifactStore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	name := opts.Name
	if name == "" {
		name = "artifact-store"
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("artifact store breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// caller mistakes and cancellations say nothing about store health
			return err == nil || errors.Is(err, ErrUnknownURL) || errors.Is(err, context.Canceled)
		},
	}
	return &BreakerArtifactStore{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Put delegates to the wrapped store unless the breaker is open.
func (b *BreakerArtifactStore) Put(ctx context.Context, r io.Reader, name string, opts PutOptions) (PutResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Put(ctx, r, name, opts)
	})
	if err != nil {
		return PutResult{}, breakerError(err)
	}
	return out.(PutResult), nil
}

// Delete delegates to the wrapped store unless the breaker is open.
func (b *BreakerArtifactStore) Delete(ctx context.Context, url string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, url)
	})
	return breakerError(err)
}

// Invalidate delegates to the wrapped store unless the breaker is open.
func (b *BreakerArtifactStore) Invalidate(ctx context.Context, url string, paths ...string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Invalidate(ctx, url, paths...)
	})
	return breakerError(err)
}

// State reports the breaker state for health output.
func (b *BreakerArtifactStore) State() string {
	return b.cb.State().String()
}

// Unwrap returns the wrapped store.
func (b *BreakerArtifactStore) Unwrap() ArtifactStore {
	return b.next
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
