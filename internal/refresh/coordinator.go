// Package refresh coordinates multi-cadence polling of a single device and
// publishes the merged result as an immutable Snapshot.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JHOFER-Cloud/mypv-exporter/internal/device"
)

// DefaultCycleTimeout bounds the wall-clock time of one refresh cycle.
const DefaultCycleTimeout = 4 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSource overrides the endpoint or interval of a source.
func WithSource(src Source) Option {
	return func(c *Coordinator) {
		if st, ok := c.sources[src.ID]; ok {
			st.def = src
		}
	}
}

// WithFetcher uses f for a single source instead of the default fetcher.
func WithFetcher(id SourceID, f Fetcher) Option {
	return func(c *Coordinator) {
		if st, ok := c.sources[id]; ok {
			st.fetcher = f
		}
	}
}

// WithCycleTimeout sets the per-cycle deadline.
func WithCycleTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for fetch failures and cycle summaries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers refresh instrumentation.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// Coordinator owns the source state of one device. Refresh cycles are
// serialized; Snapshot and Status never block.
type Coordinator struct {
	name     string
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	sources map[SourceID]*sourceState

	snap   atomic.Pointer[Snapshot]
	status atomic.Pointer[[]SourceStatus]
}

// SourceStatus describes the fetch state of one source.
type SourceStatus struct {
	Source    SourceID
	Interval  time.Duration
	FetchedAt time.Time
	HasData   bool
	LastErr   error
}

// New creates a coordinator for the named device. fetcher serves every
// source that has no dedicated fetcher set through WithFetcher.
func New(name string, fetcher Fetcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		name:     name,
		timeout:  DefaultCycleTimeout,
		logger:   slog.Default(),
		observer: nopObserver{},
		sources:  make(map[SourceID]*sourceState, len(Sources)),
	}
	for id, def := range DefaultSources() {
		c.sources[id] = &sourceState{def: def, fetcher: fetcher}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("device", name)
	c.publishStatus()
	return c
}

// Name returns the device name the coordinator was created with.
func (c *Coordinator) Name() string { return c.name }

// Snapshot returns the most recently published snapshot, or nil before the
// first cycle.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Serial returns the device serial number once DeviceInfo has been fetched.
func (c *Coordinator) Serial() (string, bool) {
	return c.Snapshot().StringField(DeviceInfo, "sn")
}

type fetchResult struct {
	source  SourceID
	payload device.Payload
	err     error
}

// Refresh fetches every source that is due at now and publishes a new
// snapshot. Per-source failures, including timeouts, are returned as
// *FetchError values; the cycle itself always produces a snapshot.
func (c *Coordinator) Refresh(ctx context.Context, now time.Time) (*Snapshot, []error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Fetches outlive the cycle when they time out; their results are dropped.
	fetchCtx := context.WithoutCancel(ctx)

	var errs []error
	pending := make(map[SourceID]bool)
	results := make(chan fetchResult, len(c.sources))
	for _, id := range Sources {
		st := c.sources[id]
		if !c.due(st, now) {
			continue
		}
		if st.fetcher == nil {
			errs = append(errs, c.apply(fetchResult{source: id, err: errNoFetcher}, now))
			continue
		}
		pending[id] = true
		go func(id SourceID, f Fetcher, endpoint string) {
			p, err := f.FetchJSON(fetchCtx, endpoint)
			results <- fetchResult{source: id, payload: p, err: err}
		}(id, st.fetcher, st.def.Endpoint)
	}

	fetched := 0

collect:
	for len(pending) > 0 {
		select {
		case r := <-results:
			delete(pending, r.source)
			if err := c.apply(r, now); err != nil {
				errs = append(errs, err)
				continue
			}
			fetched++
		case <-cycleCtx.Done():
			break collect
		}
	}

	if len(pending) > 0 {
		cause := ErrCycleTimeout
		if !errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %w", ErrCycleTimeout, cycleCtx.Err())
		}
		for _, id := range Sources {
			if !pending[id] {
				continue
			}
			err := &FetchError{Source: id, Err: cause}
			c.sources[id].lastErr = err
			c.sources[id].failedAt = now
			c.observer.ObserveFetch(c.name, id, err)
			c.logger.Warn("source fetch abandoned", "source", id, "timeout", c.timeout)
			errs = append(errs, err)
		}
	}

	snap := c.publish(now)
	c.observer.ObserveCycle(c.name, time.Since(start))
	c.logger.Debug("refresh cycle complete", "fetched", fetched, "errors", len(errs))

	return snap, errs
}

// apply records a fetch result. A failure leaves payload and fetch time as
// they were so the source is retried on the next due check.
func (c *Coordinator) apply(r fetchResult, now time.Time) error {
	st := c.sources[r.source]
	if r.err != nil {
		err := &FetchError{Source: r.source, Err: r.err}
		st.lastErr = err
		st.failedAt = now
		c.observer.ObserveFetch(c.name, r.source, err)
		c.logger.Warn("source fetch failed", "source", r.source, "err", r.err)
		return err
	}
	if now.Before(st.fetchedAt) {
		c.logger.Debug("discarding out-of-order fetch", "source", r.source)
		return nil
	}
	if r.payload == nil {
		r.payload = device.Payload{}
	}
	st.payload = r.payload
	st.fetchedAt = now
	st.failedAt = time.Time{}
	st.lastErr = nil
	c.observer.ObserveFetch(c.name, r.source, nil)
	return nil
}

func (c *Coordinator) publish(now time.Time) *Snapshot {
	snap := &Snapshot{
		AssembledAt: now,
		payloads:    make(map[SourceID]device.Payload, len(c.sources)),
		fetchedAt:   make(map[SourceID]time.Time, len(c.sources)),
	}
	for id, st := range c.sources {
		if st.payload == nil {
			continue
		}
		snap.payloads[id] = st.payload
		snap.fetchedAt[id] = st.fetchedAt
	}
	c.snap.Store(snap)
	c.publishStatus()
	return snap
}

// due reports whether st should be fetched in a cycle at now.
func (c *Coordinator) due(st *sourceState, now time.Time) bool {
	if after := st.def.After; after != "" {
		if dep, ok := c.sources[after]; !ok || dep.payload == nil {
			return false
		}
	}
	return st.due(now)
}

func (c *Coordinator) publishStatus() {
	out := make([]SourceStatus, 0, len(Sources))
	for _, id := range Sources {
		st := c.sources[id]
		out = append(out, SourceStatus{
			Source:    id,
			Interval:  st.def.Interval,
			FetchedAt: st.fetchedAt,
			HasData:   st.payload != nil,
			LastErr:   st.lastErr,
		})
	}
	c.status.Store(&out)
}

// Status reports the fetch state of every source in fetch order as of the
// last published snapshot.
func (c *Coordinator) Status() []SourceStatus {
	return slices.Clone(*c.status.Load())
}
