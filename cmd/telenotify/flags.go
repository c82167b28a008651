package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/telenotify/internal/config"
)

// RootFlags holds every flag of the root command. Only flags the user
// actually set are forwarded to the config layer, so the TOML file and the
// TELENOTIFY_* environment keep working underneath them.
type RootFlags struct {
	ConfigPath string

	ProcessName  string
	PingTime     float64
	BotToken     string
	BotTokenFile string
	ChatID       string
	ChatIDFile   string
	APIURL       string
	DryRun       bool
	WorkDir      string
	Env          []string

	LogLevel   string
	LogFormat  string
	CaptureDir string
	HistoryDSN string
	Listen     string

	SendTimeout    time.Duration
	GracePeriod    time.Duration
	SampleInterval time.Duration
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"process-name":    "process_name",
	"ping-time":       "ping_time",
	"bot-token":       "telegram.bot_token",
	"file-bot-token":  "telegram.bot_token_file",
	"chat-id":         "telegram.chat_id",
	"file-chat-id":    "telegram.chat_id_file",
	"api-url":         "telegram.api_url",
	"dry-run":         "dry_run",
	"workdir":         "workdir",
	"env":             "env",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"capture-dir":     "capture.dir",
	"history-dsn":     "history.dsn",
	"listen":          "server.listen",
	"send-timeout":    "send_timeout",
	"grace-period":    "grace_period",
	"sample-interval": "sample_interval",
}

func (f *RootFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.ConfigPath, "config", "", "path to TOML config file (optional)")

	fs.StringVar(&f.ProcessName, "process-name", "", "name shown in notifications (default: the command line)")
	fs.Float64Var(&f.PingTime, "ping-time", config.DefaultPingMinutes, "minutes between still-running pings, 0 disables them")
	fs.StringVar(&f.BotToken, "bot-token", "", "Telegram bot token")
	fs.StringVar(&f.BotTokenFile, "file-bot-token", config.DefaultBotTokenFile, "file whose first line is the bot token")
	fs.StringVar(&f.ChatID, "chat-id", "", "Telegram chat id or @channel")
	fs.StringVar(&f.ChatIDFile, "file-chat-id", config.DefaultChatIDFile, "file whose first line is the chat id")
	fs.StringVar(&f.APIURL, "api-url", "", "Telegram Bot API base URL")
	fs.BoolVar(&f.DryRun, "dry-run", false, "log notifications instead of sending them")
	fs.StringVar(&f.WorkDir, "workdir", "", "working directory of the command")
	fs.StringArrayVar(&f.Env, "env", nil, "extra KEY=VALUE for the command (repeatable)")

	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.LogFormat, "log-format", "", "log format: text or json")
	fs.StringVar(&f.CaptureDir, "capture-dir", "", "also write the command's stdout/stderr to rotating files in this directory")
	fs.StringVar(&f.HistoryDSN, "history-dsn", "", "record session history (sqlite://, postgres://, clickhouse://, opensearch://)")
	fs.StringVar(&f.Listen, "listen", "", "serve /status, /healthz and /metrics on this address")

	fs.DurationVar(&f.SendTimeout, "send-timeout", config.DefaultSendTimeout, "timeout of a single notification")
	fs.DurationVar(&f.GracePeriod, "grace-period", config.DefaultGracePeriod, "wait between SIGTERM and SIGKILL on cancellation")
	fs.DurationVar(&f.SampleInterval, "sample-interval", config.DefaultSampleInterval, "child resource sampling interval, 0 disables it")
}

// overrides returns the config overrides for the flags set on cmd.
func (f *RootFlags) overrides(cmd *cobra.Command) map[string]any {
	values := map[string]any{
		"process-name":    f.ProcessName,
		"ping-time":       f.PingTime,
		"bot-token":       f.BotToken,
		"file-bot-token":  f.BotTokenFile,
		"chat-id":         f.ChatID,
		"file-chat-id":    f.ChatIDFile,
		"api-url":         f.APIURL,
		"dry-run":         f.DryRun,
		"workdir":         f.WorkDir,
		"env":             f.Env,
		"log-level":       f.LogLevel,
		"log-format":      f.LogFormat,
		"capture-dir":     f.CaptureDir,
		"history-dsn":     f.HistoryDSN,
		"listen":          f.Listen,
		"send-timeout":    f.SendTimeout,
		"grace-period":    f.GracePeriod,
		"sample-interval": f.SampleInterval,
	}
	out := make(map[string]any)
	for name, key := range flagKeys {
		if cmd.Flags().Changed(name) {
			out[key] = values[name]
		}
	}
	return out
}

// splitArgs separates telenotify's own leading flags from the supervised
// command. An unknown flag starts the command and is forwarded with it.
func splitArgs(cmd *cobra.Command, args []string) (own, child []string, help bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			return own, args[i+1:], false
		case a == "-h" || a == "--help":
			return own, nil, true
		case !strings.HasPrefix(a, "--"):
			return own, args[i:], false
		}
		name, _, inline := strings.Cut(a[2:], "=")
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return own, args[i:], false
		}
		own = append(own, a)
		if !inline && f.NoOptDefVal == "" && i+1 < len(args) {
			i++
			own = append(own, args[i])
		}
	}
	return own, nil, false
}
