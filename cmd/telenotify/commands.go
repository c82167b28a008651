package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/loykin/telenotify"
)

var errNoCommand = errors.New("no command given")

// dryRunDestination labels logged notifications when no chat id is configured.
const dryRunDestination = "dry-run"

type command struct {
	stdout io.Writer
	stderr io.Writer
}

// createRootCommand creates the only command. telenotify's own flags come
// first; the supervised command starts at the first positional argument,
// after "--", or at the first flag telenotify does not know.
func createRootCommand(c command, flags *RootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "telenotify [flags] command [args...]",
		Short: "Run a command and report its progress to Telegram",
		Long: `Telenotify runs a command, relays its output, and sends Telegram messages
when it starts, periodically while it runs, and when it finishes.

Examples:
  telenotify --process-name backup -- ./backup.sh --full
  telenotify --ping-time 30 --chat-id 123456 make release
  telenotify --dry-run --listen :9090 sleep 60`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			own, child, help := splitArgs(cmd, args)
			if help {
				return cmd.Help()
			}
			if err := cmd.Flags().Parse(own); err != nil {
				return &exitError{code: telenotify.ExitUsage, err: err}
			}
			if len(child) == 0 {
				_ = cmd.Usage()
				return &exitError{code: telenotify.ExitUsage, err: errNoCommand}
			}
			return c.run(cmd.Context(), flags.ConfigPath, flags.overrides(cmd), child)
		},
	}
	flags.register(root)
	return root
}

func (c command) run(ctx context.Context, configPath string, overrides map[string]any, args []string) error {
	cfg, err := telenotify.LoadConfig(configPath, overrides)
	if err != nil {
		return &exitError{code: telenotify.ExitLaunchFailed, err: err}
	}
	lc := cfg.LoggerConfig()
	lc.Slog.Color = lc.Slog.Color && useColor(c.stderr)
	log := lc.NewSloggerTo(c.stderr)

	env, err := cfg.ChildEnv()
	if err != nil {
		return &exitError{code: telenotify.ExitLaunchFailed, err: err}
	}

	opts := telenotify.Options{
		Command:        args,
		Name:           cfg.ProcessName,
		PingInterval:   cfg.PingInterval(),
		WorkDir:        cfg.WorkDir,
		Env:            env,
		SendTimeout:    cfg.SendTimeout,
		GracePeriod:    cfg.GracePeriod,
		SampleInterval: cfg.SampleInterval,
		Stdout:         c.stdout,
		Stderr:         c.stderr,
		Capture:        cfg.File,
		Tracker:        telenotify.NewTracker(),
		Logger:         log,
	}

	if cfg.DryRun {
		opts.Notifier = telenotify.LogNotifier(log)
		opts.ChatID = cfg.Telegram.ChatID
		if opts.ChatID == "" {
			opts.ChatID = dryRunDestination
		}
	} else {
		creds, err := cfg.Credentials()
		if err != nil {
			return &exitError{code: telenotify.ExitLaunchFailed, err: err}
		}
		opts.BotToken, opts.ChatID, opts.APIURL = creds.BotToken, creds.ChatID, creds.APIURL
	}

	if dsn := cfg.History.DSN; dsn != "" {
		sink, err := telenotify.NewHistorySink(dsn)
		if err != nil {
			return &exitError{code: telenotify.ExitLaunchFailed, err: err}
		}
		if cl, ok := sink.(io.Closer); ok {
			defer func() { _ = cl.Close() }()
		}
		opts.History = append(opts.History, sink)
	}

	if addr := cfg.Server.Listen; addr != "" {
		srv, err := c.startStatusServer(addr, opts.Tracker, log)
		if err != nil {
			return &exitError{code: telenotify.ExitLaunchFailed, err: err}
		}
		defer shutdown(srv, log)
		opts.Registerer = prometheus.DefaultRegisterer
	}

	code, err := telenotify.Run(ctx, opts)
	switch {
	case errors.Is(err, telenotify.ErrCancelled):
		return &exitError{code: code}
	case err != nil:
		return &exitError{code: code, err: err}
	case code != 0:
		return &exitError{code: code}
	}
	return nil
}

func (c command) startStatusServer(addr string, t *telenotify.Tracker, log *slog.Logger) (*http.Server, error) {
	if err := telenotify.RegisterMetricsDefault(); err != nil {
		return nil, err
	}
	srv, err := telenotify.NewStatusServer(addr, "", t)
	if err != nil {
		return nil, err
	}
	log.Info("status server listening", "addr", srv.Addr)
	return srv, nil
}

func shutdown(srv *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("status server shutdown", "error", err)
	}
}

// useColor reports whether w is a terminal and NO_COLOR is unset.
func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
