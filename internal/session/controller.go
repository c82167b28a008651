// Package session drives one supervised run: it owns the session state
// machine, sends the lifecycle notifications and publishes history.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/telenotify/internal/duration"
	"github.com/loykin/telenotify/internal/history"
	"github.com/loykin/telenotify/internal/logger"
	"github.com/loykin/telenotify/internal/metrics"
	"github.com/loykin/telenotify/internal/notifier"
	"github.com/loykin/telenotify/internal/process"
	"github.com/loykin/telenotify/internal/supervisor"
)

// Exit codes returned by Controller.Run besides the child's own code.
const (
	ExitLaunchFailed = 1
	ExitUsage        = 2
	ExitCancelled    = 130
)

// ErrCancelled is returned when the session was aborted from outside.
var ErrCancelled = errors.New("session cancelled")

// Request is one command to supervise.
type Request struct {
	Command      []string
	Name         string        // display label; defaults to the joined command
	PingInterval time.Duration // zero disables pings
	WorkDir      string
	Env          []string
}

// DisplayName returns Name, or the command joined by spaces.
func (r Request) DisplayName() string {
	return r.spec().DisplayName()
}

func (r Request) spec() process.Spec {
	return process.Spec{Name: r.Name, Command: r.Command, WorkDir: r.WorkDir, Env: r.Env}
}

// Controller runs sessions. Notifier delivers the start, ping and outcome
// messages; Factory, when set, provides the fresh transport used for the
// cancellation message.
type Controller struct {
	Notifier    notifier.Notifier
	Factory     notifier.Factory
	Destination string
	SendTimeout time.Duration

	PingTick    time.Duration
	GracePeriod time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
	Capture     logger.FileConfig
	Sample      metrics.ProcessMetricsConfig
	Registerer  prometheus.Registerer

	History  []history.Sink
	Tracker  *Tracker
	Logger   *slog.Logger
	Hostname string
}

// Run supervises req.Command and returns the child's exit code. A launch
// failure returns ExitLaunchFailed with a *supervisor.LaunchError and sends
// no notification. Cancellation of ctx at any point returns ExitCancelled
// with ErrCancelled after one best-effort cancellation message.
func (c *Controller) Run(ctx context.Context, req Request) (int, error) {
	spec := req.spec()
	if err := spec.Validate(); err != nil {
		return ExitUsage, err
	}
	name := spec.DisplayName()
	id := history.NewSessionID()
	log := c.logger().With("session", id, "name", name)

	c.Tracker.begin(id, name, spec.Command)
	m := NewMachine(c.Tracker)
	if err := m.Transition(StateStarting); err != nil {
		return ExitLaunchFailed, err
	}
	metrics.IncSessionStart()

	notify := notifier.NewBestEffort(c.Notifier, c.SendTimeout, log)
	rec := history.Record{
		SessionID: id,
		Name:      name,
		Command:   strings.Join(spec.Command, " "),
		Host:      c.hostname(),
	}

	sup := &supervisor.Supervisor{
		Notifier:     notify,
		Destination:  c.Destination,
		PingInterval: req.PingInterval,
		PingTick:     c.PingTick,
		PingMessage:  func(elapsed string) string { return PingMessage(name, elapsed) },
		GracePeriod:  c.GracePeriod,
		Stdout:       c.Stdout,
		Stderr:       c.Stderr,
		Capture:      c.Capture,
		Sample:       c.Sample,
		Registerer:   c.Registerer,
		Logger:       log,
		OnStart: func(p *process.Process) {
			st := p.Snapshot()
			c.Tracker.running(st.PID, st.StartedAt)
			if err := m.Transition(StateRunning); err != nil {
				log.Error("state transition", "error", err)
			}
			rec.PID = st.PID
			rec.StartedAt = st.StartedAt.UTC()
			log.Info("session started", "pid", st.PID, "command", spec.Command)
			notify.Notify(ctx, notifier.KindStart, c.Destination, StartMessage(name))
			history.Publish(context.WithoutCancel(ctx), log, history.Event{
				Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec,
			}, c.History...)
		},
		OnPing: func(sent int) { c.Tracker.setPings(sent) },
	}

	res, err := sup.Run(ctx, spec)
	if err != nil {
		var le *supervisor.LaunchError
		if errors.As(err, &le) {
			_ = m.Transition(StateLaunchFailed)
			metrics.IncOutcome(StateLaunchFailed.String())
			log.Error("launch failed", "error", err)
			return ExitLaunchFailed, err
		}
		return ExitLaunchFailed, err
	}

	finished := time.Now()
	elapsed := duration.FormatDuration(res.Elapsed)
	c.Tracker.finish(res.ExitCode, finished)

	var outcome State
	switch {
	case res.Cancelled || ctx.Err() != nil:
		outcome = StateCancelled
	case res.ExitCode == 0:
		outcome = StateSucceeded
	default:
		outcome = StateFailed
	}
	if err := m.Transition(outcome); err != nil {
		log.Error("state transition", "error", err)
	}
	metrics.IncOutcome(outcome.String())
	if res.PID != 0 {
		metrics.ObserveSessionDuration(res.Elapsed.Seconds())
	}
	log.Info("session finished", "outcome", outcome.String(), "exit_code", res.ExitCode,
		"elapsed", elapsed, "pings", res.Pings, "stdout_lines", res.StdoutLines, "stderr_lines", res.StderrLines,
		"peak_rss", res.PeakRSS)

	switch outcome {
	case StateCancelled:
		c.notifyCancelled(log, CancelMessage(name, elapsed))
	case StateSucceeded:
		notify.Notify(ctx, notifier.KindSuccess, c.Destination, SuccessMessage(name, elapsed))
	default:
		notify.Notify(ctx, notifier.KindFailure, c.Destination, FailureMessage(name, res.ExitCode, elapsed))
	}

	if res.PID != 0 {
		rec.FinishedAt = finished.UTC()
		rec.ExitCode = res.ExitCode
		rec.Outcome = outcome.String()
		rec.Pings = res.Pings
		history.Publish(context.WithoutCancel(ctx), log, history.Event{
			Type: history.EventFinish, OccurredAt: rec.FinishedAt, Record: rec,
		}, c.History...)
	}

	if outcome == StateCancelled {
		return ExitCancelled, ErrCancelled
	}
	return res.ExitCode, nil
}

// notifyCancelled sends text through a freshly created notifier with a new
// bounded context, independent of the cancelled session context. When the
// factory fails the session notifier makes the one attempt instead.
func (c *Controller) notifyCancelled(log *slog.Logger, text string) {
	n := c.Notifier
	if c.Factory != nil {
		fresh, err := c.Factory()
		if err != nil {
			log.Warn("fresh cancellation notifier unavailable, reusing session notifier", "error", err)
		} else {
			n = fresh
		}
	}
	notifier.NewBestEffort(n, c.SendTimeout, log).
		Notify(context.Background(), notifier.KindCancel, c.Destination, text)
}

func (c *Controller) hostname() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	h, _ := os.Hostname()
	return h
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
