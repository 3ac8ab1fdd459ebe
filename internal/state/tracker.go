package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetryMaxInterval = 5 * time.Second
	retryInitialInterval    = 10 * time.Millisecond
)

var errEventsClosed = errors.New("container event stream ended")

// Tracker keeps the run state of every container, merging the lifecycle
// event stream with full listings taken at startup and after every
// reconnect. It runs while at least one observer is registered.
type Tracker struct {
	logger           zerolog.Logger
	src              source
	now              func() time.Time
	retryMaxInterval time.Duration

	mu         sync.Mutex
	containers map[string]*domain.ContainerRunState
	observers  map[uint64]Observer
	nextID     uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewTracker(src source, retryMaxInterval time.Duration, logger zerolog.Logger) *Tracker {
	if retryMaxInterval <= 0 {
		retryMaxInterval = DefaultRetryMaxInterval
	}
	return &Tracker{
		logger:           logger,
		src:              src,
		now:              time.Now,
		retryMaxInterval: retryMaxInterval,
		containers:       make(map[string]*domain.ContainerRunState),
		observers:        make(map[uint64]Observer),
	}
}

// Watch registers fn until ctx ends. Before Watch returns, fn receives the
// current state of every tracked container; afterwards it receives every
// change. The last observer leaving stops the tracker.
func (t *Tracker) Watch(ctx context.Context, fn Observer) {
	if ctx.Err() != nil {
		return
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.startLocked()
	for _, c := range t.containers {
		fn(*c)
	}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.unwatch(id)
	}()
}

// Snapshot returns a copy of every tracked container.
func (t *Tracker) Snapshot() []domain.ContainerRunState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ContainerRunState, 0, len(t.containers))
	for _, c := range t.containers {
		out = append(out, *c)
	}
	return out
}

// Done is closed when the current run exits. It is nil if the tracker was
// never started.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tracker) unwatch(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.observers, id)
	if len(t.observers) == 0 {
		t.stopLocked()
	}
}

func (t *Tracker) startLocked() {
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.logger.Debug().Msg("Starting run-state tracker")
	go t.run(ctx, t.done)
}

// stopLocked also forgets every container. A later start learns them again
// from its first listing, stamped with that listing's time, so observers
// never see run states from before the idle period.
func (t *Tracker) stopLocked() {
	if t.cancel == nil {
		return
	}
	t.logger.Debug().Msg("Stopping run-state tracker")
	t.cancel()
	t.cancel = nil
	t.containers = make(map[string]*domain.ContainerRunState)
}

// run restarts sessions until cancelled. Every session begins with a fresh
// listing, so events lost while disconnected are recovered.
func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := t.newBackOff(ctx)
	for {
		started := time.Now()
		err := t.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > t.retryMaxInterval {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		t.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Container event stream ended, restarting tracker")
		if !sleepContext(ctx, wait) {
			return
		}
	}
}

func (t *Tracker) session(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	events, errs := t.src.Subscribe(gctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					events = nil
					if errs == nil {
						return errEventsClosed
					}
					continue
				}
				t.applyEvent(gctx, ev)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					if events == nil {
						return errEventsClosed
					}
					continue
				}
				return fmt.Errorf("container events: %w", err)
			}
		}
	})
	g.Go(func() error {
		t.reconcile(gctx)
		return nil
	})

	return g.Wait()
}

func (t *Tracker) applyEvent(ctx context.Context, ev domain.ContainerEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	id := ev.Container.ID
	running := ev.EventType.Running()
	cur, ok := t.containers[id]
	if !ok {
		if !running {
			return
		}
		st := &domain.ContainerRunState{
			ContainerIdentity: ev.Container,
			Running:           true,
			RunningUpdateAt:   ev.Time,
		}
		t.containers[id] = st
		t.notifyLocked(*st)
		return
	}

	switch {
	case cur.Running != running:
		cur.Running = running
		cur.RunningUpdateAt = ev.Time
		t.notifyLocked(*cur)
	case ev.Time.After(cur.RunningUpdateAt):
		cur.RunningUpdateAt = ev.Time
	}

	if ev.EventType == domain.EventTypeContainerDestroyed {
		delete(t.containers, id)
	}
}

// reconcile lists every container and merges the result, retrying the
// listing until it succeeds or ctx ends.
func (t *Tracker) reconcile(ctx context.Context) {
	var (
		at       time.Time
		snapshot []domain.ContainerRunState
	)
	list := func() error {
		at = t.now()
		s, err := t.src.List(ctx, at)
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn().Err(err).Msg("Listing containers failed")
			}
			return err
		}
		snapshot = s
		return nil
	}
	if err := backoff.Retry(list, t.newBackOff(ctx)); err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	t.applySnapshotLocked(at, snapshot)
	t.logger.Debug().Int("containers", len(snapshot)).Msg("Reconciled container run states")
}

// applySnapshotLocked merges a listing taken at `at`. Entries updated after
// `at` carry newer information than the listing and are left alone.
func (t *Tracker) applySnapshotLocked(at time.Time, snapshot []domain.ContainerRunState) {
	listed := make(map[string]struct{}, len(snapshot))
	for _, c := range snapshot {
		listed[c.ID] = struct{}{}
	}

	for id, cur := range t.containers {
		if cur.RunningUpdateAt.After(at) {
			continue
		}
		if _, ok := listed[id]; ok {
			continue
		}
		delete(t.containers, id)
		if cur.Running {
			cur.Running = false
			t.notifyLocked(*cur)
		}
	}

	for _, c := range snapshot {
		cur, ok := t.containers[c.ID]
		if !ok {
			st := c
			t.containers[c.ID] = &st
			t.notifyLocked(st)
			continue
		}
		if cur.RunningUpdateAt.After(at) {
			continue
		}
		cur.RunningUpdateAt = at
		if cur.Running != c.Running {
			cur.Running = c.Running
			cur.RunningUpdateAt = c.RunningUpdateAt
			t.notifyLocked(*cur)
		}
	}
}

func (t *Tracker) notifyLocked(c domain.ContainerRunState) {
	for _, fn := range t.observers {
		fn(c)
	}
}

func (t *Tracker) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = t.retryMaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
