package supervisor

import (
	"context"
	"time"

	"github.com/loykin/telenotify/internal/duration"
	"github.com/loykin/telenotify/internal/metrics"
	"github.com/loykin/telenotify/internal/notifier"
)

// DefaultTick is the granularity at which the pinger checks liveness.
const DefaultTick = time.Second

// Pinger periodically reports that the child is still running.
type Pinger struct {
	Interval    time.Duration // zero or negative disables pings
	Tick        time.Duration // defaults to DefaultTick
	Notifier    *notifier.BestEffort
	Destination string
	Start       time.Time
	// Message renders the ping text from the formatted elapsed time.
	Message func(elapsed string) string
	// OnPing, if set, is called after each ping with the running total.
	OnPing func(sent int)
}

// Run blocks until the liveness is cleared or ctx is done and returns the
// number of pings sent. Liveness is checked on every tick and no ping is
// sent once it has been observed cleared.
func (p *Pinger) Run(ctx context.Context, live *Liveness) int {
	if p.Interval <= 0 {
		return 0
	}
	tick := p.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	ticks := int(p.Interval / tick)
	if ticks < 1 {
		ticks = 1
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	remaining := ticks
	sent := 0
	for {
		select {
		case <-live.Done():
			return sent
		case <-ctx.Done():
			return sent
		case <-ticker.C:
		}
		if !live.Alive() {
			return sent
		}
		remaining--
		if remaining > 0 {
			continue
		}
		elapsed := duration.FormatDuration(time.Since(p.Start))
		p.Notifier.Notify(ctx, notifier.KindPing, p.Destination, p.message(elapsed))
		metrics.IncPing()
		sent++
		if p.OnPing != nil {
			p.OnPing(sent)
		}
		remaining = ticks
	}
}

func (p *Pinger) message(elapsed string) string {
	if p.Message != nil {
		return p.Message(elapsed)
	}
	return "Still running, elapsed " + elapsed
}
