package tailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/auto-dns/docker-logwatch/internal/frame"
	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog"
)

const (
	// DefaultReconnectDelay is the pause before reopening a stream the runtime
	// closed, so a restarting daemon is not hammered.
	DefaultReconnectDelay = 200 * time.Millisecond

	// DefaultRetryMaxInterval caps the backoff between failed opens.
	DefaultRetryMaxInterval = 5 * time.Second

	// ResumeOffset is added to the last delivered timestamp when resuming, so
	// the boundary record is not delivered twice.
	ResumeOffset = time.Millisecond

	retryInitialInterval = 10 * time.Millisecond
)

var ErrAlreadyStarted = errors.New("tailer already started")

type logsClient interface {
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
}

// Sink receives completed records. It is called from the tailer goroutine.
type Sink func(domain.LogRecord)

type Options struct {
	ReconnectDelay   time.Duration
	RetryMaxInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = DefaultRetryMaxInterval
	}
	return o
}

// Tailer follows one stream of one container, reconnecting until stopped.
type Tailer struct {
	cli         logsClient
	containerID string
	stream      domain.Stream
	sink        Sink
	opts        Options
	logger      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cli logsClient, containerID string, stream domain.Stream, sink Sink, opts Options, logger zerolog.Logger) *Tailer {
	return &Tailer{
		cli:         cli,
		containerID: containerID,
		stream:      stream,
		sink:        sink,
		opts:        opts.withDefaults(),
		logger: logger.With().
			Str("container_id", containerID).
			Str("stream", string(stream)).
			Logger(),
	}
}

// Start begins tailing records newer than since. It returns ErrAlreadyStarted
// when called again without a Stop in between. An already cancelled ctx makes
// Start a no-op.
func (t *Tailer) Start(ctx context.Context, since time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return ErrAlreadyStarted
	}
	if ctx.Err() != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, since, t.done)
	return nil
}

// Stop cancels the connection and any pending reconnect. It does not wait
// for the tailer goroutine; see Done.
func (t *Tailer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Done is closed once the most recently started run has exited. It is nil
// before the first Start.
func (t *Tailer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tailer) run(ctx context.Context, since time.Time, done chan struct{}) {
	defer close(done)

	lastEmittedAt := since
	bo := t.newBackOff(ctx)

	for {
		rc, err := t.cli.ContainerLogs(ctx, t.containerID, t.logsOptions(since))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			t.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Opening container log stream failed")
			if !sleepContext(ctx, wait) {
				return
			}
			since = lastEmittedAt.Add(ResumeOffset)
			continue
		}
		bo.Reset()
		t.logger.Debug().Time("since", since).Msg("Container log stream opened")

		err = t.consume(ctx, rc, &lastEmittedAt)
		_ = rc.Close()

		if ctx.Err() != nil {
			t.logger.Debug().Msg("Container log stream stopped")
			return
		}
		if err != nil {
			t.logger.Warn().Err(err).Msg("Container log stream failed")
		} else {
			t.logger.Debug().Msg("Container log stream closed by runtime")
		}
		if !sleepContext(ctx, t.opts.ReconnectDelay) {
			return
		}
		since = lastEmittedAt.Add(ResumeOffset)
	}
}

// consume reads one connection to its end. Fragments of a split line live
// only as long as the connection.
func (t *Tailer) consume(ctx context.Context, r io.Reader, lastEmittedAt *time.Time) error {
	chunks := frame.NewChunkReader(r)
	var fragments []frame.Record

	for {
		chunk, err := chunks.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		records, decodeErr := frame.Decode(chunk)
		for _, rec := range records {
			if rec.PotentiallyPartial {
				fragments = append(fragments, rec)
				continue
			}
			if len(fragments) > 0 {
				rec = merge(append(fragments, rec))
				fragments = nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			t.sink(domain.LogRecord{
				Timestamp: rec.Timestamp,
				Message:   rec.Message,
				Stream:    t.stream,
			})
			if !rec.Timestamp.IsZero() {
				*lastEmittedAt = rec.Timestamp
			}
		}
		if decodeErr != nil {
			return fmt.Errorf("decode log chunk: %w", decodeErr)
		}
	}
}

func (t *Tailer) logsOptions(since time.Time) container.LogsOptions {
	return container.LogsOptions{
		ShowStdout: t.stream == domain.StreamStdout,
		ShowStderr: t.stream == domain.StreamStderr,
		Timestamps: true,
		Follow:     true,
		Since:      FormatSince(since),
	}
}

func (t *Tailer) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = t.opts.RetryMaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

// merge joins split fragments into one record stamped with the first
// fragment's time.
func merge(fragments []frame.Record) frame.Record {
	var sb strings.Builder
	for _, f := range fragments {
		sb.WriteString(f.Message)
	}
	return frame.Record{
		Stream:    fragments[0].Stream,
		Timestamp: fragments[0].Timestamp,
		Message:   sb.String(),
	}
}

// FormatSince renders t in the "seconds.nanoseconds" form the runtime accepts.
func FormatSince(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
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
