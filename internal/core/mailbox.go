package core

import (
	"context"
	"sync"

	"github.com/auto-dns/docker-logwatch/internal/domain"
)

// mailbox is an unbounded queue of work for the engine loop. post never
// blocks, so tracker observers and tailer sinks can call it while holding
// their own locks.
type mailbox struct {
	mu    sync.Mutex
	queue []func()
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// logQueue buffers records between the engine loop and a Stream reader.
// Once full it refuses every further record.
type logQueue struct {
	mu       sync.Mutex
	items    []domain.ContainerLog
	max      int
	overflow bool
	ready    chan struct{}
}

func newLogQueue(max int) *logQueue {
	return &logQueue{max: max, ready: make(chan struct{}, 1)}
}

func (q *logQueue) push(l domain.ContainerLog) bool {
	q.mu.Lock()
	if q.overflow || len(q.items) >= q.max {
		q.overflow = true
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, l)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *logQueue) pop(ctx context.Context) (domain.ContainerLog, bool) {
	for {
		if ctx.Err() != nil {
			return domain.ContainerLog{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			l := q.items[0]
			q.items[0] = domain.ContainerLog{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return l, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
		}
	}
}

func (q *logQueue) overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}
