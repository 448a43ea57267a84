// Package flowctl bridges HTTP/2 flow control between a client-facing
// stream and its backend-facing stream (C6): each direction of each
// proxied stream gets its own credit counter and an ordered queue of
// pending bytes, so a slow reader on one side cannot be force-fed faster
// than its advertised window, while RST_STREAM on either side propagates
// to the other.
package flowctl

import (
	"context"
	"sync"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

// Direction names which side of a proxied stream a Bridge's counters
// belong to, purely for diagnostics.
type Direction string

const (
	DirectionClientToBackend Direction = "CLIENT_TO_BACKEND"
	DirectionBackendToClient Direction = "BACKEND_TO_CLIENT"
)

// pendingChunk is one unit of queued, not-yet-credited data.
type pendingChunk struct {
	data []byte
}

// creditQueue holds bytes produced faster than the receiver has granted
// window for, in FIFO order, plus the outstanding credit balance.
type creditQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	credit  int64
	queue   []pendingChunk
	closed  bool
	resetCh chan struct{}
}

func newCreditQueue(initialWindow int64) *creditQueue {
	q := &creditQueue{credit: initialWindow, resetCh: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Grant increases available credit by n (a WINDOW_UPDATE was received)
// and wakes any writer blocked on Push.
func (q *creditQueue) Grant(n int64) {
	q.mu.Lock()
	q.credit += n
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Push enqueues data, blocking until enough credit is available to admit
// it or the queue is closed/reset. It returns an *apperror.Error with
// CodeStreamReset when the stream has been reset while waiting, and
// ctx.Err() when ctx is done first.
func (q *creditQueue) Push(ctx context.Context, data []byte) error {
	q.mu.Lock()
	for q.credit < int64(len(data)) && !q.closed {
		unlocked := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
			case <-unlocked:
			}
		}()
		q.cond.Wait()
		close(unlocked)
		if ctx.Err() != nil {
			q.mu.Unlock()
			return ctx.Err()
		}
	}
	if q.closed {
		q.mu.Unlock()
		return apperror.New(apperror.CodeStreamReset, "stream was reset while waiting for flow-control credit")
	}

	q.credit -= int64(len(data))
	q.queue = append(q.queue, pendingChunk{data: data})
	q.mu.Unlock()
	return nil
}

// Drain removes and returns all currently queued chunks, in order.
func (q *creditQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.queue))
	for i, c := range q.queue {
		out[i] = c.data
	}
	q.queue = nil
	return out
}

// Reset marks the queue as reset, releasing any blocked Push calls with
// an error instead of admitting more data.
func (q *creditQueue) Reset() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.resetCh)
	q.cond.Broadcast()
}

// Bridge holds the two independent credit queues for one proxied stream,
// one per direction, plus cross-propagation of stream resets.
type Bridge struct {
	ClientToBackend *creditQueue
	BackendToClient *creditQueue

	mu     sync.Mutex
	onReset []func()
}

// NewBridge constructs a Bridge with initialWindow credit in both
// directions (typically the HTTP/2 SETTINGS_INITIAL_WINDOW_SIZE
// negotiated with each side, independently).
func NewBridge(initialWindow int64) *Bridge {
	return &Bridge{
		ClientToBackend: newCreditQueue(initialWindow),
		BackendToClient: newCreditQueue(initialWindow),
	}
}

// OnReset registers fn to run when either direction of the bridge is
// reset, so the proxy core can propagate RST_STREAM to the other leg.
func (b *Bridge) OnReset(fn func()) {
	b.mu.Lock()
	b.onReset = append(b.onReset, fn)
	b.mu.Unlock()
}

// Reset resets both directions and invokes every registered OnReset
// callback exactly once.
func (b *Bridge) Reset() {
	b.ClientToBackend.Reset()
	b.BackendToClient.Reset()

	b.mu.Lock()
	callbacks := b.onReset
	b.onReset = nil
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
