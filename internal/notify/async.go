package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the messages waiting for a slow transport.
const DefaultQueueSize = 8

// DefaultSendTimeout bounds a single delivery attempt.
const DefaultSendTimeout = 2 * time.Second

// Async decouples the caller from a transport. Notify never blocks: when
// the queue is full the message is dropped and counted.
type Async struct {
	inner   Notifier
	queue   chan string
	timeout time.Duration

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync wraps inner with a queue of size entries. Call Run to start
// delivery.
func NewAsync(inner Notifier, size int) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Async{
		inner:   inner,
		queue:   make(chan string, size),
		timeout: DefaultSendTimeout,
		done:    make(chan struct{}),
	}
}

// Notify enqueues msg. It returns nil even when the message is dropped.
func (a *Async) Notify(_ context.Context, msg string) error {
	select {
	case <-a.done:
		a.dropped.Add(1)
		return nil
	default:
	}
	select {
	case a.queue <- msg:
	default:
		a.dropped.Add(1)
		opsf("queue full, dropped %q", msg)
	}
	return nil
}

// Run delivers queued messages until ctx is done or Close is called.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case msg := <-a.queue:
			a.deliver(ctx, msg)
		}
	}
}

func (a *Async) deliver(ctx context.Context, msg string) {
	sendCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.inner.Notify(sendCtx, msg); err != nil {
		a.failed.Add(1)
		opsf("deliver %q: %v", msg, err)
		return
	}
	a.sent.Add(1)
	tracef("delivered %q", msg)
}

// Close stops Run. Queued messages are discarded.
func (a *Async) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return nil
}

// Stats returns delivered, dropped and failed message counts.
func (a *Async) Stats() (sent, dropped, failed uint64) {
	return a.sent.Load(), a.dropped.Load(), a.failed.Load()
}
