// Package notifier delivers text notifications about a supervised command.
//
// Transports implement Notifier and report every failure. The supervisor
// never talks to a transport directly: it goes through BestEffort, which
// bounds each send with a timeout and swallows (and logs) failures so that a
// notification problem can never change the outcome of a session.
package notifier

import (
	"context"
	"errors"
	"net"
)

// Notifier sends text to a destination (for Telegram, a chat id).
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}

// Factory creates a fresh Notifier with its own connection state.
type Factory func() (Notifier, error)

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, destination, text string) error

func (f Func) Send(ctx context.Context, destination, text string) error {
	return f(ctx, destination, text)
}

// Static returns a Factory that always yields n.
func Static(n Notifier) Factory {
	return func() (Notifier, error) { return n, nil }
}

// IsTimeout reports whether err is a transport or context timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
