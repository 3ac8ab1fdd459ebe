package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/auto-dns/docker-logwatch/internal/tailer"
	"github.com/rs/zerolog"
)

const (
	// DefaultStartPad is subtracted from the time a container was seen
	// running when a tailer starts, so output written right at start-up is
	// not missed.
	DefaultStartPad = 10 * time.Millisecond

	// DefaultTeardownGrace is how long an unwanted tailer keeps running to
	// drain output still in flight.
	DefaultTeardownGrace = 25 * time.Millisecond

	DefaultStreamBuffer = 1024
)

type Timing struct {
	ReconnectDelay   time.Duration
	RetryMaxInterval time.Duration
	StartPad         time.Duration
	TeardownGrace    time.Duration
	StreamBuffer     int
}

func (t Timing) withDefaults() Timing {
	if t.StartPad <= 0 {
		t.StartPad = DefaultStartPad
	}
	if t.TeardownGrace <= 0 {
		t.TeardownGrace = DefaultTeardownGrace
	}
	if t.StreamBuffer <= 0 {
		t.StreamBuffer = DefaultStreamBuffer
	}
	return t
}

type SubscribeOptions struct {
	ContainerMatches Filter
	Stream           domain.StreamSelector
}

func (o SubscribeOptions) validate() error {
	if !o.Stream.IsValid() {
		return ErrInvalidStream
	}
	return o.ContainerMatches.Validate()
}

type subscription struct {
	id     uint64
	ctx    context.Context
	filter Filter
	stream domain.StreamSelector
	onLog  func(domain.ContainerLog)
}

func (s *subscription) wants(attrs map[string]string, stream domain.Stream) bool {
	return s.stream.Includes(stream) && s.filter.Matches(attrs)
}

// pendingStop holds a tailer during its teardown grace. Until the timer
// fires the tailer is still live and can be taken back.
type pendingStop struct {
	tailer *tailer.Tailer
	timer  *time.Timer
}

type containerState struct {
	domain.ContainerRunState
	attrs    map[string]string
	tailers  map[domain.Stream]*tailer.Tailer
	stopping map[domain.Stream]*pendingStop
}

// idle reports whether no tailer of the container is live, including those
// waiting out their grace.
func (cs *containerState) idle() bool {
	return len(cs.tailers) == 0 && len(cs.stopping) == 0
}

// Engine multiplexes log subscriptions over shared per-container tailers.
// All state below the mailbox is owned by the Run goroutine.
type Engine struct {
	logger  zerolog.Logger
	cli     logsClient
	tracker runStateTracker
	timing  Timing

	inbox     *mailbox
	nextSubID atomic.Uint64

	runCtx        context.Context
	subs          map[uint64]*subscription
	containers    map[string]*containerState
	trackerCancel context.CancelFunc
	trackerGen    uint64
}

func NewEngine(cli logsClient, tracker runStateTracker, timing Timing, logger zerolog.Logger) *Engine {
	return &Engine{
		logger:     logger,
		cli:        cli,
		tracker:    tracker,
		timing:     timing.withDefaults(),
		inbox:      newMailbox(),
		subs:       make(map[uint64]*subscription),
		containers: make(map[string]*containerState),
	}
}

// Run processes subscriptions, run-state changes and log records until ctx
// is done. Subscriptions made before Run are picked up once it starts.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("Starting log engine")
	e.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			e.logger.Info().Msg("Log engine stopped")
			return ctx.Err()
		case <-e.inbox.ready:
			for _, fn := range e.inbox.drain() {
				fn()
			}
		}
	}
}

// Subscribe registers onLog for records of matching containers until ctx is
// done. onLog is called from the engine goroutine and must not block.
func (e *Engine) Subscribe(ctx context.Context, opts SubscribeOptions, onLog func(domain.ContainerLog)) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if onLog == nil {
		return ErrNilHandler
	}
	if ctx.Err() != nil {
		return nil
	}

	sub := &subscription{
		id:     e.nextSubID.Add(1),
		ctx:    ctx,
		filter: opts.ContainerMatches,
		stream: opts.Stream,
		onLog:  onLog,
	}
	e.inbox.post(func() { e.addSubscription(sub) })
	go func() {
		<-ctx.Done()
		e.inbox.post(func() { e.removeSubscription(sub.id) })
	}()
	return nil
}

// Stream is the pull form of Subscribe. Records are buffered up to the
// configured size; a reader that falls further behind is unsubscribed and
// receives ErrSubscriberOverflow. Both channels close when the subscription
// ends.
func (e *Engine) Stream(ctx context.Context, opts SubscribeOptions) (<-chan domain.ContainerLog, <-chan error) {
	out := make(chan domain.ContainerLog)
	errs := make(chan error, 1)

	subCtx, cancel := context.WithCancel(ctx)
	q := newLogQueue(e.timing.StreamBuffer)
	err := e.Subscribe(subCtx, opts, func(l domain.ContainerLog) {
		if !q.push(l) {
			cancel()
		}
	})
	if err != nil {
		cancel()
		errs <- err
		close(errs)
		close(out)
		return out, errs
	}

	go func() {
		defer close(errs)
		defer close(out)
		defer cancel()
		for {
			l, ok := q.pop(subCtx)
			if ok {
				select {
				case out <- l:
					continue
				case <-subCtx.Done():
				}
			}
			if q.overflowed() {
				errs <- ErrSubscriberOverflow
			}
			return
		}
	}()
	return out, errs
}

func (e *Engine) addSubscription(sub *subscription) {
	if sub.ctx.Err() != nil {
		return
	}
	e.subs[sub.id] = sub
	e.logger.Debug().Uint64("subscription", sub.id).Str("stream", string(sub.stream)).Stringer("filter", sub.filter).Msg("Subscription added")

	if e.trackerCancel == nil {
		e.startTracking()
		return
	}
	e.recompute()
}

func (e *Engine) removeSubscription(id uint64) {
	if _, ok := e.subs[id]; !ok {
		return
	}
	delete(e.subs, id)
	e.logger.Debug().Uint64("subscription", id).Msg("Subscription removed")

	if len(e.subs) == 0 {
		e.stopTracking()
		return
	}
	e.recompute()
}

func (e *Engine) startTracking() {
	ctx, cancel := context.WithCancel(e.runCtx)
	e.trackerCancel = cancel
	e.trackerGen++
	gen := e.trackerGen

	e.logger.Debug().Uint64("generation", gen).Msg("Watching container run state")
	e.tracker.Watch(ctx, func(st domain.ContainerRunState) {
		e.inbox.post(func() { e.onRunState(gen, st) })
	})
}

// stopTracking releases the tracker and treats every container as stopped.
func (e *Engine) stopTracking() {
	if e.trackerCancel == nil {
		return
	}
	e.trackerCancel()
	e.trackerCancel = nil

	for _, cs := range e.containers {
		cs.Running = false
	}
	e.recompute()
}

func (e *Engine) onRunState(gen uint64, st domain.ContainerRunState) {
	if e.trackerCancel == nil || gen != e.trackerGen {
		return
	}

	cs, ok := e.containers[st.ID]
	if !ok {
		if !st.Running {
			return
		}
		cs = &containerState{
			ContainerRunState: st,
			attrs:             flattenIdentity(st.ContainerIdentity),
			tailers:           make(map[domain.Stream]*tailer.Tailer),
			stopping:          make(map[domain.Stream]*pendingStop),
		}
		e.containers[st.ID] = cs
	} else {
		cs.Running = st.Running
		cs.RunningUpdateAt = st.RunningUpdateAt
	}
	e.recompute()
}

// recompute brings the set of live tailers in line with the subscriptions
// and containers. At most one tailer per container and stream is live: a
// stream wanted again during the teardown grace takes its tailer back.
// Stopped containers without live tailers are forgotten.
func (e *Engine) recompute() {
	for id, cs := range e.containers {
		for _, stream := range domain.Streams {
			wanted := cs.Running && e.wanted(cs.attrs, stream)
			_, have := cs.tailers[stream]
			switch {
			case wanted && !have:
				if p, ok := cs.stopping[stream]; ok {
					p.timer.Stop()
					delete(cs.stopping, stream)
					cs.tailers[stream] = p.tailer
					e.logger.Debug().Str("container_id", id).Str("stream", string(stream)).Msg("Tailer kept")
					continue
				}
				e.startTailer(cs, stream)
			case !wanted && have:
				e.scheduleStop(cs, stream)
			}
		}
		if !cs.Running && cs.idle() {
			delete(e.containers, id)
		}
	}
}

func (e *Engine) scheduleStop(cs *containerState, stream domain.Stream) {
	p := &pendingStop{tailer: cs.tailers[stream]}
	delete(cs.tailers, stream)
	cs.stopping[stream] = p
	p.timer = time.AfterFunc(e.timing.TeardownGrace, func() {
		e.inbox.post(func() { e.finishStop(cs, stream, p) })
	})
	e.logger.Debug().Str("container_id", cs.ID).Str("stream", string(stream)).Msg("Tailer scheduled to stop")
}

func (e *Engine) finishStop(cs *containerState, stream domain.Stream, p *pendingStop) {
	if cs.stopping[stream] != p {
		return
	}
	delete(cs.stopping, stream)
	p.tailer.Stop()
	e.logger.Debug().Str("container_id", cs.ID).Str("stream", string(stream)).Msg("Tailer stopped")

	if !cs.Running && cs.idle() && e.containers[cs.ID] == cs {
		delete(e.containers, cs.ID)
	}
}

func (e *Engine) wanted(attrs map[string]string, stream domain.Stream) bool {
	for _, sub := range e.subs {
		if sub.wants(attrs, stream) {
			return true
		}
	}
	return false
}

func (e *Engine) startTailer(cs *containerState, stream domain.Stream) {
	identity := cs.ContainerIdentity
	attrs := cs.attrs
	sink := func(rec domain.LogRecord) {
		l := domain.ContainerLog{
			Stream:    stream,
			Timestamp: rec.Timestamp,
			Message:   rec.Message,
			Container: identity,
		}
		e.inbox.post(func() { e.dispatch(l, attrs) })
	}

	t := tailer.New(e.cli, cs.ID, stream, sink, tailer.Options{
		ReconnectDelay:   e.timing.ReconnectDelay,
		RetryMaxInterval: e.timing.RetryMaxInterval,
	}, e.logger)

	since := cs.RunningUpdateAt.Add(-e.timing.StartPad)
	if err := t.Start(e.runCtx, since); err != nil {
		if !errors.Is(err, tailer.ErrAlreadyStarted) {
			e.logger.Error().Err(err).Str("container_id", cs.ID).Msg("Failed to start tailer")
		}
		return
	}
	cs.tailers[stream] = t
	e.logger.Debug().Str("container_id", cs.ID).Str("container", identity.DisplayName()).Str("stream", string(stream)).Time("since", since).Msg("Tailer started")
}

func (e *Engine) dispatch(l domain.ContainerLog, attrs map[string]string) {
	for _, sub := range e.subs {
		if sub.ctx.Err() != nil || !sub.wants(attrs, l.Stream) {
			continue
		}
		sub.onLog(l)
	}
}

func (e *Engine) shutdown() {
	if e.trackerCancel != nil {
		e.trackerCancel()
		e.trackerCancel = nil
	}
	for id, cs := range e.containers {
		for _, t := range cs.tailers {
			t.Stop()
		}
		for _, p := range cs.stopping {
			p.timer.Stop()
			p.tailer.Stop()
		}
		delete(e.containers, id)
	}
	for id := range e.subs {
		delete(e.subs, id)
	}
}
