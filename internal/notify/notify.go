// Package notify delivers hazard messages to the user's device. Delivery is
// fire-and-forget: the frame loop hands a message to an Async dispatcher and
// never waits on a transport.
package notify

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
)

// Notifier sends one UTF-8 text message.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, msg string) error

func (f Func) Notify(ctx context.Context, msg string) error { return f(ctx, msg) }

// LogNotifier writes each message as a log line. It is the transport in dev
// mode and a useful second sink on the device.
type LogNotifier struct {
	mu     sync.Mutex
	logger *log.Logger
}

func NewLogNotifier(w io.Writer) *LogNotifier {
	return &LogNotifier{logger: log.New(w, "[say] ", log.LstdFlags)}
}

func (n *LogNotifier) Notify(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logger.Println(msg)
	return nil
}

// Multi sends to every notifier in order and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
