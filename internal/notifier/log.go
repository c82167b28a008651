package notifier

import (
	"context"
	"log/slog"
)

// Log is a Notifier that only writes notifications to a logger. It backs
// --dry-run.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Send(ctx context.Context, destination, text string) error {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.InfoContext(ctx, "notification", "destination", destination, "text", text)
	return nil
}
