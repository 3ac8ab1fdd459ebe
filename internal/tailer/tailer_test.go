package tailer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/auto-dns/docker-logwatch/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog"
)

// --- fakes ---

type fakeResponse struct {
	body []byte
	err  error
}

type fakeLogsClient struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []container.LogsOptions
	called    chan struct{}
}

func newFakeLogsClient(responses ...fakeResponse) *fakeLogsClient {
	return &fakeLogsClient{responses: responses, called: make(chan struct{}, 64)}
}

func (f *fakeLogsClient) ContainerLogs(ctx context.Context, _ string, options container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, options)
	var resp *fakeResponse
	if len(f.responses) > 0 {
		resp = &f.responses[0]
		f.responses = f.responses[1:]
	}
	f.mu.Unlock()
	f.called <- struct{}{}

	if resp == nil {
		return &blockingBody{ctx: ctx}, nil
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return io.NopCloser(bytes.NewReader(resp.body)), nil
}

func (f *fakeLogsClient) call(i int) container.LogsOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// blockingBody models a followed stream with no new output.
type blockingBody struct{ ctx context.Context }

func (b *blockingBody) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockingBody) Close() error { return nil }

type recordingSink struct {
	mu      sync.Mutex
	records []domain.LogRecord
}

func (s *recordingSink) sink(r domain.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *recordingSink) snapshot() []domain.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LogRecord(nil), s.records...)
}

// --- helpers ---

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func stamp(t time.Time) string { return t.Format("2006-01-02T15:04:05.000000000Z07:00") }

func frameOf(stream byte, at time.Time, msg string) []byte {
	payload := stamp(at) + " " + msg
	head := make([]byte, 8)
	head[0] = stream
	binary.BigEndian.PutUint32(head[4:], uint32(len(payload)))
	return append(head, payload...)
}

func body(frames ...[]byte) []byte {
	return bytes.Join(frames, nil)
}

func waitCalls(t *testing.T, f *fakeLogsClient, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.called:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for log call %d", i+1)
		}
	}
}

func newTestTailer(cli logsClient, sink Sink) *Tailer {
	return New(cli, "c1", domain.StreamStdout, sink, Options{
		ReconnectDelay:   time.Millisecond,
		RetryMaxInterval: 5 * time.Millisecond,
	}, zerolog.Nop())
}

// --- tests ---

func TestTailer_MergesPartialRecords(t *testing.T) {
	a := strings.Repeat("A", 16384)
	b := strings.Repeat("B", 16384)
	cli := newFakeLogsClient(fakeResponse{body: body(
		frameOf(1, t0, a),
		frameOf(1, t0.Add(time.Millisecond), b),
		frameOf(1, t0.Add(2*time.Millisecond), "C\n"),
	)})
	rs := &recordingSink{}
	tl := newTestTailer(cli, rs.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, t0.Add(-10*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	waitCalls(t, cli, 2)

	got := rs.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if !got[0].Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want first fragment's %v", got[0].Timestamp, t0)
	}
	if got[0].Message != a+b+"C" {
		t.Errorf("merged message has length %d", len(got[0].Message))
	}
	if got[0].Stream != domain.StreamStdout {
		t.Errorf("stream = %q", got[0].Stream)
	}
}

func TestTailer_ResumesAfterLastEmitted(t *testing.T) {
	last := t0.Add(1500 * time.Millisecond)
	cli := newFakeLogsClient(
		fakeResponse{body: body(frameOf(1, t0, "one\n"), frameOf(1, last, "two\n"))},
		fakeResponse{err: errors.New("connection refused")},
	)
	rs := &recordingSink{}
	tl := newTestTailer(cli, rs.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	since := t0.Add(-10 * time.Millisecond)
	if err := tl.Start(ctx, since); err != nil {
		t.Fatal(err)
	}
	waitCalls(t, cli, 3)

	first := cli.call(0)
	if first.Since != FormatSince(since) || !first.Follow || !first.Timestamps || !first.ShowStdout || first.ShowStderr {
		t.Errorf("unexpected first options %+v", first)
	}
	want := FormatSince(last.Add(time.Millisecond))
	if got := cli.call(1).Since; got != want {
		t.Errorf("since after close = %q, want %q", got, want)
	}
	if got := cli.call(2).Since; got != want {
		t.Errorf("since after failed open = %q, want %q", got, want)
	}
	if n := len(rs.snapshot()); n != 2 {
		t.Errorf("got %d records, want 2", n)
	}
}

func TestTailer_RetriesFailedOpenFromSincePlusOffset(t *testing.T) {
	cli := newFakeLogsClient(fakeResponse{err: errors.New("no such container")})
	tl := newTestTailer(cli, func(domain.LogRecord) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, t0); err != nil {
		t.Fatal(err)
	}
	waitCalls(t, cli, 2)

	if got, want := cli.call(1).Since, FormatSince(t0.Add(ResumeOffset)); got != want {
		t.Errorf("since = %q, want %q", got, want)
	}
}

func TestTailer_DropsFragmentsOfClosedConnection(t *testing.T) {
	cli := newFakeLogsClient(
		fakeResponse{body: frameOf(1, t0, strings.Repeat("x", 16384))},
		fakeResponse{body: frameOf(1, t0.Add(time.Second), "whole\n")},
	)
	rs := &recordingSink{}
	tl := newTestTailer(cli, rs.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, t0); err != nil {
		t.Fatal(err)
	}
	waitCalls(t, cli, 3)

	got := rs.snapshot()
	if len(got) != 1 || got[0].Message != "whole" {
		t.Fatalf("records = %+v", got)
	}
	// Nothing was emitted on the first connection, so the resume point stays put.
	if got, want := cli.call(1).Since, FormatSince(t0.Add(ResumeOffset)); got != want {
		t.Errorf("since = %q, want %q", got, want)
	}
}

func TestTailer_TruncatedFrameReconnects(t *testing.T) {
	good := frameOf(1, t0, "ok\n")
	bad := frameOf(1, t0.Add(time.Second), "lost\n")
	// A header announcing more bytes than the body carries.
	cli := newFakeLogsClient(fakeResponse{body: body(good, bad[:len(bad)-3])})
	rs := &recordingSink{}
	tl := newTestTailer(cli, rs.sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, t0.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	waitCalls(t, cli, 2)

	if got, want := cli.call(1).Since, FormatSince(t0.Add(ResumeOffset)); got != want {
		t.Errorf("since = %q, want %q", got, want)
	}
	if got := rs.snapshot(); len(got) != 1 || got[0].Message != "ok" {
		t.Errorf("records = %+v", got)
	}
}

func TestTailer_StartTwice(t *testing.T) {
	cli := newFakeLogsClient()
	tl := newTestTailer(cli, func(domain.LogRecord) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tl.Start(ctx, t0); err != nil {
		t.Fatal(err)
	}
	if err := tl.Start(ctx, t0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}

	tl.Stop()
	tl.Stop()
	select {
	case <-tl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("tailer did not stop")
	}

	if err := tl.Start(ctx, t0); err != nil {
		t.Fatalf("Start after Stop = %v", err)
	}
	tl.Stop()
}

func TestTailer_StartWithCancelledContext(t *testing.T) {
	cli := newFakeLogsClient()
	tl := newTestTailer(cli, func(domain.LogRecord) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tl.Start(ctx, t0); err != nil {
		t.Fatal(err)
	}
	if tl.Done() != nil {
		t.Error("no run expected for a cancelled context")
	}
}

func TestFormatSince(t *testing.T) {
	if got := FormatSince(time.Unix(1704067200, 1000000)); got != "1704067200.001000000" {
		t.Errorf("FormatSince = %q", got)
	}
	if got := FormatSince(time.Time{}); got != "" {
		t.Errorf("FormatSince(zero) = %q", got)
	}
}
