// Package supervisor runs one child command, relays its output and sends
// still-running pings until the output ends.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/telenotify/internal/logger"
	"github.com/loykin/telenotify/internal/metrics"
	"github.com/loykin/telenotify/internal/notifier"
	"github.com/loykin/telenotify/internal/process"
)

// DefaultGracePeriod is how long a cancelled child may take to exit after
// SIGTERM before it is killed.
const DefaultGracePeriod = 5 * time.Second

// LaunchError reports that the child could not be started.
type LaunchError struct {
	Command []string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q: %v", strings.Join(e.Command, " "), e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Result describes a finished supervision.
type Result struct {
	PID         int           `json:"pid"`
	ExitCode    int           `json:"exit_code"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Pings       int           `json:"pings"`
	StdoutLines int           `json:"stdout_lines"`
	StderrLines int           `json:"stderr_lines"`
	PeakRSS     uint64        `json:"peak_rss,omitempty"`
	Cancelled   bool          `json:"cancelled"`
}

// Seconds returns the elapsed time in whole seconds.
func (r Result) Seconds() int64 { return int64(r.Elapsed / time.Second) }

// Supervisor launches a child and coordinates the two stream relays and the
// pinger. The zero value relays to os.Stdout/os.Stderr without pings.
type Supervisor struct {
	Notifier     *notifier.BestEffort
	Destination  string
	PingInterval time.Duration
	PingTick     time.Duration
	PingMessage  func(elapsed string) string
	GracePeriod  time.Duration

	Stdout  io.Writer // defaults to os.Stdout
	Stderr  io.Writer // defaults to os.Stderr
	Capture logger.FileConfig
	Sample  metrics.ProcessMetricsConfig
	Logger  *slog.Logger

	// Registerer, when set, receives the child resource gauges.
	Registerer prometheus.Registerer

	// OnStart is called once the child has been launched, before any output
	// is relayed.
	OnStart func(p *process.Process)
	// OnPing is called after every ping with the running total.
	OnPing func(sent int)
}

// Run launches spec and blocks until both output streams are exhausted, the
// pinger has stopped and the child has exited. If ctx is cancelled while the
// child runs, its process group is terminated and the result is marked
// Cancelled. A launch failure is returned as *LaunchError.
func (s *Supervisor) Run(ctx context.Context, spec process.Spec) (Result, error) {
	log := s.logger()
	if err := ctx.Err(); err != nil {
		return Result{Cancelled: true}, nil
	}

	proc, err := process.Start(spec)
	if err != nil {
		return Result{}, &LaunchError{Command: spec.Command, Err: err}
	}
	start := time.Now()
	res := Result{PID: proc.PID(), StartedAt: start}
	log = log.With("pid", res.PID)
	log.Debug("child started", "command", spec.Command)
	if s.OnStart != nil {
		s.OnStart(proc)
	}

	stdout, stderr, closeCapture := s.sinks(spec.DisplayName())
	defer closeCapture()

	sampler := metrics.NewProcessSampler(s.Sample)
	if s.Registerer != nil {
		if err := sampler.RegisterMetrics(s.Registerer); err != nil {
			log.Warn("child resource metrics unavailable", "error", err)
		}
	}
	sampler.Start(ctx, int32(res.PID))

	live := NewLiveness()
	exited := make(chan struct{})
	var cancelled atomic.Bool
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		s.terminateOnCancel(ctx, proc, exited, &cancelled, log)
	}()

	pinger := &Pinger{
		Interval:    s.PingInterval,
		Tick:        s.PingTick,
		Notifier:    s.Notifier,
		Destination: s.Destination,
		Start:       start,
		Message:     s.PingMessage,
		OnPing:      s.OnPing,
	}

	var outLines, errLines, pings int
	var g errgroup.Group
	g.Go(func() error {
		n, err := Relay(proc.Stdout, stdout, live)
		outLines = n
		metrics.AddRelayedLines("stdout", n)
		if err != nil {
			return fmt.Errorf("stdout relay: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n, err := Relay(proc.Stderr, stderr, live)
		errLines = n
		metrics.AddRelayedLines("stderr", n)
		if err != nil {
			return fmt.Errorf("stderr relay: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		pings = pinger.Run(ctx, live)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Warn("output relay failed", "error", err)
	}

	// the child may outlive its streams, so ctx stays watched until Wait
	code, werr := proc.Wait()
	res.Elapsed = time.Since(start)
	close(exited)
	<-watchDone
	sampler.Stop()
	if werr != nil {
		log.Error("failed to collect exit status", "error", werr)
	}

	res.ExitCode = code
	res.Pings = pings
	res.StdoutLines = outLines
	res.StderrLines = errLines
	res.PeakRSS = sampler.PeakRSS()
	res.Cancelled = cancelled.Load()
	log.Debug("child exited", "exit_code", code, "elapsed", res.Elapsed, "cancelled", res.Cancelled)
	return res, nil
}

// terminateOnCancel stops the child's process group when ctx is cancelled
// before the child has been reaped, including after it closed its output.
// It escalates from terminate to kill after the grace period, and finally
// closes the pipes so that the relays cannot hang on a descendant that
// escaped the group.
func (s *Supervisor) terminateOnCancel(ctx context.Context, proc *process.Process, exited <-chan struct{}, cancelled *atomic.Bool, log *slog.Logger) {
	select {
	case <-exited:
		return
	case <-ctx.Done():
	}
	cancelled.Store(true)
	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	log.Info("session cancelled, terminating child")
	if err := proc.Terminate(); err != nil {
		log.Warn("terminate child", "error", err)
	}
	if waitClosed(exited, grace) {
		return
	}

	log.Warn("child still running after grace period, killing", "grace", grace)
	if err := proc.Kill(); err != nil {
		log.Warn("kill child", "error", err)
	}
	if waitClosed(exited, grace) {
		return
	}

	log.Warn("output still open after kill, closing pipes")
	proc.ClosePipes()
	<-exited
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// sinks returns the relay destinations, tee'd into capture files when
// configured. The returned func closes the capture files.
func (s *Supervisor) sinks(name string) (io.Writer, io.Writer, func()) {
	var stdout io.Writer = os.Stdout
	if s.Stdout != nil {
		stdout = s.Stdout
	}
	var stderr io.Writer = os.Stderr
	if s.Stderr != nil {
		stderr = s.Stderr
	}

	outW, errW, err := s.Capture.Writers(name)
	if err != nil {
		s.logger().Warn("output capture disabled", "error", err)
		return stdout, stderr, func() {}
	}
	if outW != nil {
		stdout = io.MultiWriter(stdout, outW)
	}
	if errW != nil {
		stderr = io.MultiWriter(stderr, errW)
	}
	return stdout, stderr, func() {
		if outW != nil {
			_ = outW.Close()
		}
		if errW != nil {
			_ = errW.Close()
		}
	}
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
