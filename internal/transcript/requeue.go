package transcript

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Requeue holds rows whose append attempts exhausted their retry budget
// while the service had to reply to the participant. A background cron
// schedule drains the queue back into the store so no transcript row is
// silently lost.
type Requeue struct {
	store    Store
	schedule string

	mu     sync.Mutex
	parked []Row

	cron  *cron.Cron
	onLen func(n int)
}

// RequeueOption configures a Requeue.
type RequeueOption func(*Requeue)

// WithRequeueSchedule sets the cron drain schedule (default "@every 1m").
func WithRequeueSchedule(schedule string) RequeueOption {
	return func(r *Requeue) {
		if schedule != "" {
			r.schedule = schedule
		}
	}
}

// WithRequeueDepthGauge registers a callback invoked with the queue depth
// whenever it changes, typically wired to a metrics gauge.
func WithRequeueDepthGauge(fn func(n int)) RequeueOption {
	return func(r *Requeue) { r.onLen = fn }
}

// NewRequeue creates a Requeue draining into store.
func NewRequeue(store Store, opts ...RequeueOption) *Requeue {
	r := &Requeue{
		store:    store,
		schedule: "@every 1m",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Park stores rows for later delivery. Safe to call concurrently.
func (r *Requeue) Park(rows ...Row) {
	if len(rows) == 0 {
		return
	}
	r.mu.Lock()
	r.parked = append(r.parked, rows...)
	n := len(r.parked)
	r.mu.Unlock()

	log.Printf("transcript requeue: parked %d rows (queue depth %d)", len(rows), n)
	r.reportDepth(n)
}

// Len returns the current queue depth.
func (r *Requeue) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parked)
}

// Drain attempts to append all parked rows. Rows that fail again stay
// parked for the next run. Order within the queue is preserved.
func (r *Requeue) Drain(ctx context.Context) error {
	r.mu.Lock()
	rows := r.parked
	r.parked = nil
	r.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	if err := r.store.Append(ctx, rows); err != nil {
		r.mu.Lock()
		// Re-park in front of anything that arrived while draining.
		r.parked = append(rows, r.parked...)
		n := len(r.parked)
		r.mu.Unlock()
		log.Printf("transcript requeue: drain failed, %d rows still parked: %v", n, err)
		r.reportDepth(n)
		return err
	}

	log.Printf("transcript requeue: drained %d rows", len(rows))
	r.reportDepth(r.Len())
	return nil
}

// Start begins the background drain schedule.
func (r *Requeue) Start() error {
	c := cron.New()
	_, err := c.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = r.Drain(ctx)
	})
	if err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts the schedule and performs a final drain attempt.
func (r *Requeue) Stop(ctx context.Context) error {
	if r.cron != nil {
		stopCtx := r.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Drain(ctx)
}

func (r *Requeue) reportDepth(n int) {
	if r.onLen != nil {
		r.onLen(n)
	}
}
