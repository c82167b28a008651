// Package telenotify supervises a command and reports its lifecycle to a
// Telegram chat: a message when it starts, periodic still-running pings, and
// a final message on success, failure or cancellation.
package telenotify

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/telenotify/internal/config"
	"github.com/loykin/telenotify/internal/duration"
	"github.com/loykin/telenotify/internal/history"
	"github.com/loykin/telenotify/internal/history/factory"
	"github.com/loykin/telenotify/internal/logger"
	"github.com/loykin/telenotify/internal/metrics"
	"github.com/loykin/telenotify/internal/notifier"
	"github.com/loykin/telenotify/internal/server"
	"github.com/loykin/telenotify/internal/session"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Notifier = notifier.Notifier

type NotifierFactory = notifier.Factory

type HistorySink = history.Sink

type CaptureConfig = logger.FileConfig

type Config = config.Config

type Tracker = session.Tracker

type Snapshot = session.Snapshot

type State = session.State

// Exit codes used besides the child's own.
const (
	ExitLaunchFailed = session.ExitLaunchFailed
	ExitUsage        = session.ExitUsage
	ExitCancelled    = session.ExitCancelled
)

var (
	ErrCancelled     = session.ErrCancelled
	ErrMissingToken  = config.ErrMissingToken
	ErrMissingChatID = config.ErrMissingChatID
)

// Options configures one supervised run.
type Options struct {
	Command      []string
	Name         string        // display name; defaults to the joined command
	PingInterval time.Duration // zero disables pings
	WorkDir      string
	Env          []string

	// Notifier overrides the Telegram transport. When nil, BotToken is
	// required and NotifierFactory defaults to fresh Telegram clients.
	Notifier        Notifier
	NotifierFactory NotifierFactory
	BotToken        string
	ChatID          string
	APIURL          string
	SendTimeout     time.Duration

	GracePeriod    time.Duration
	PingTick       time.Duration
	SampleInterval time.Duration // zero disables child resource sampling
	Stdout         io.Writer
	Stderr         io.Writer
	Capture        CaptureConfig

	History    []HistorySink
	Tracker    *Tracker
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// Controller builds the session controller described by o.
func (o Options) Controller() (*session.Controller, error) {
	n, f := o.Notifier, o.NotifierFactory
	if n == nil {
		if o.BotToken == "" {
			return nil, ErrMissingToken
		}
		n = notifier.NewTelegram(o.BotToken, o.APIURL, o.SendTimeout)
		if f == nil {
			f = notifier.TelegramFactory(o.BotToken, o.APIURL, o.SendTimeout)
		}
	}
	if o.ChatID == "" && o.Notifier == nil {
		return nil, ErrMissingChatID
	}
	return &session.Controller{
		Notifier:    n,
		Factory:     f,
		Destination: o.ChatID,
		SendTimeout: o.SendTimeout,
		PingTick:    o.PingTick,
		GracePeriod: o.GracePeriod,
		Stdout:      o.Stdout,
		Stderr:      o.Stderr,
		Capture:     o.Capture,
		Sample: metrics.ProcessMetricsConfig{
			Enabled:  o.SampleInterval > 0,
			Interval: o.SampleInterval,
		},
		Registerer: o.Registerer,
		History:    o.History,
		Tracker:    o.Tracker,
		Logger:     o.Logger,
	}, nil
}

// Run supervises o.Command and returns the exit code the caller should exit
// with: the child's code, ExitLaunchFailed, ExitUsage or ExitCancelled.
func Run(ctx context.Context, o Options) (int, error) {
	c, err := o.Controller()
	if err != nil {
		return ExitLaunchFailed, err
	}
	return c.Run(ctx, session.Request{
		Command:      o.Command,
		Name:         o.Name,
		PingInterval: o.PingInterval,
		WorkDir:      o.WorkDir,
		Env:          o.Env,
	})
}

func NewTracker() *Tracker { return session.NewTracker() }

// NewTelegram returns a Bot API notifier. baseURL may be empty.
func NewTelegram(token, baseURL string, timeout time.Duration) Notifier {
	return notifier.NewTelegram(token, baseURL, timeout)
}

// LogNotifier writes notifications to l instead of sending them.
func LogNotifier(l *slog.Logger) Notifier { return notifier.Log{Logger: l} }

// FormatDuration renders seconds as e.g. "01h 02m 05s".
func FormatDuration(seconds int64) (string, error) { return duration.Format(seconds) }

func LoadConfig(path string, overrides map[string]any) (*Config, error) {
	return config.Load(path, overrides)
}

// NewHistorySink selects a sink by DSN scheme (sqlite, postgres, clickhouse, opensearch).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewStatusServer serves /status, /healthz and /metrics for t on addr.
func NewStatusServer(addr, basePath string, t *Tracker) (*http.Server, error) {
	var src server.StatusSource
	if t != nil {
		src = t
	}
	return server.NewServer(addr, basePath, src, metrics.Handler())
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
