package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oagudo/newsletter/internal/logging"
	"github.com/oagudo/newsletter/internal/metrics"
	"github.com/oagudo/newsletter/pkg/clock"
)

// Reaper periodically deletes idempotency records older than a TTL.
//
// A failed pass is logged and the next pass runs after the usual interval.
type Reaper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	clock    clock.Clock

	started int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ReaperOption is a function that configures a Reaper instance.
type ReaperOption func(*Reaper)

// WithReapInterval sets the time between expiry passes.
// Default is 10 seconds.
func WithReapInterval(interval time.Duration) ReaperOption {
	return func(r *Reaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithReaperClock sets the time source used to compute the expiry cutoff and
// to sleep between passes.
func WithReaperClock(c clock.Clock) ReaperOption {
	return func(r *Reaper) {
		r.clock = c
	}
}

// NewReaper creates a Reaper removing records older than ttl from st.
func NewReaper(st *Store, ttl time.Duration, opts ...ReaperOption) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Reaper{
		store:    st,
		ttl:      ttl,
		interval: 10 * time.Second,
		clock:    clock.System{},
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RunOnce deletes every record whose created_at + ttl is before now.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.clock.Now().Add(-r.ttl)

	n, err := r.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, &StoreError{Op: "expiring idempotency records", Err: err}
	}
	return n, nil
}

// Serve runs expiry passes until ctx is done. It implements suture.Service.
func (r *Reaper) Serve(ctx context.Context) error {
	for {
		n, err := r.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ReaperErrorsTotal.Inc()
			logging.Error().Err(err).Msg("idempotency expiry pass failed")
		case n > 0:
			metrics.IdempotencyRecordsExpired.Add(float64(n))
			logging.Debug().Int64("deleted", n).Msg("expired idempotency records")
		}

		if err := r.clock.Sleep(ctx, r.interval); err != nil {
			return err
		}
	}
}

func (r *Reaper) String() string {
	return "idempotency-reaper"
}

// Start runs Serve in the background until Stop is called.
// If Start is called multiple times, only the first call has an effect.
func (r *Reaper) Start() {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Serve(r.ctx)
	}()
}

// Stop signals the background loop to exit and waits for it, or for ctx.
// Calling Stop multiple times is safe and only the first call has an effect.
func (r *Reaper) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}

	r.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
