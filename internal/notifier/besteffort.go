package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/telenotify/internal/metrics"
)

// DefaultSendTimeout bounds a single notification.
const DefaultSendTimeout = 10 * time.Second

// Kind labels a notification for logs and metrics.
type Kind string

const (
	KindStart   Kind = "start"
	KindPing    Kind = "ping"
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
	KindCancel  Kind = "cancel"
)

// BestEffort sends through a Notifier without retries and without ever
// returning an error.
type BestEffort struct {
	inner   Notifier
	timeout time.Duration
	log     *slog.Logger
}

// NewBestEffort wraps n. A non-positive timeout selects DefaultSendTimeout;
// a nil logger selects slog.Default().
func NewBestEffort(n Notifier, timeout time.Duration, log *slog.Logger) *BestEffort {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &BestEffort{inner: n, timeout: timeout, log: log}
}

// Timeout returns the per-send bound.
func (b *BestEffort) Timeout() time.Duration { return b.timeout }

// Notify sends text to destination. Failures are logged and counted, never returned.
func (b *BestEffort) Notify(ctx context.Context, kind Kind, destination, text string) {
	if b == nil || b.inner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := b.inner.Send(ctx, destination, text)
	switch {
	case err == nil:
		metrics.IncNotification(string(kind), "sent")
		b.log.Debug("notification sent", "kind", kind, "took", time.Since(start))
	case IsTimeout(err):
		metrics.IncNotification(string(kind), "timeout")
		b.log.Warn("notification timed out", "kind", kind, "timeout", b.timeout)
	default:
		metrics.IncNotification(string(kind), "error")
		b.log.Warn("notification failed", "kind", kind, "error", err)
	}
}
