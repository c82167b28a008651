// Package config loads telenotify settings from an optional TOML (or YAML)
// file, TELENOTIFY_* environment variables and command line overrides, and
// resolves the Telegram credentials.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/telenotify/internal/env"
	"github.com/loykin/telenotify/internal/logger"
	"github.com/loykin/telenotify/internal/notifier"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TELENOTIFY"

// Defaults.
const (
	DefaultPingMinutes    = 10.0
	DefaultBotTokenFile   = "~/.telegram_bot_token"
	DefaultChatIDFile     = "~/.telegram_chat_id"
	DefaultSendTimeout    = 10 * time.Second
	DefaultGracePeriod    = 5 * time.Second
	DefaultSampleInterval = 5 * time.Second
)

var (
	ErrMissingToken  = errors.New("bot token not found: set --bot-token, TELENOTIFY_BOT_TOKEN or the token file")
	ErrMissingChatID = errors.New("chat id not found: set --chat-id, TELENOTIFY_CHAT_ID or the chat id file")
	ErrInvalidChatID = errors.New("invalid chat id")
)

var channelName = regexp.MustCompile(`^@[A-Za-z][A-Za-z0-9_]{3,}$`)

// Config represents the merged configuration. The TOML layout mirrors the
// mapstructure tags.
type Config struct {
	ProcessName    string        `mapstructure:"process_name"`
	PingTime       float64       `mapstructure:"ping_time"` // minutes
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	DryRun         bool          `mapstructure:"dry_run"`
	WorkDir        string        `mapstructure:"workdir"`
	Env            []string      `mapstructure:"env"`
	EnvFiles       []string      `mapstructure:"env_files"`

	Telegram TelegramConfig `mapstructure:"telegram"`
	History  HistoryConfig  `mapstructure:"history"`
	Server   ServerConfig   `mapstructure:"server"`

	// [log] and [capture] sections
	logger.Config `mapstructure:",squash"`
}

type TelegramConfig struct {
	BotToken     string `mapstructure:"bot_token"`
	BotTokenFile string `mapstructure:"bot_token_file"`
	ChatID       string `mapstructure:"chat_id"`
	ChatIDFile   string `mapstructure:"chat_id_file"`
	APIURL       string `mapstructure:"api_url"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// Credentials are the resolved Telegram settings.
type Credentials struct {
	BotToken string
	ChatID   string
	APIURL   string
}

// setDefaults registers every key so that AutomaticEnv can see it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("process_name", "")
	v.SetDefault("ping_time", DefaultPingMinutes)
	v.SetDefault("send_timeout", DefaultSendTimeout)
	v.SetDefault("grace_period", DefaultGracePeriod)
	v.SetDefault("sample_interval", DefaultSampleInterval)
	v.SetDefault("dry_run", false)
	v.SetDefault("workdir", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.bot_token_file", DefaultBotTokenFile)
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.chat_id_file", DefaultChatIDFile)
	v.SetDefault("telegram.api_url", notifier.DefaultTelegramURL)

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", true) // only applied on a terminal
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)

	v.SetDefault("capture.dir", "")
	v.SetDefault("capture.stdout", "")
	v.SetDefault("capture.stderr", "")
	v.SetDefault("capture.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("capture.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("capture.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("capture.compress", false)

	v.SetDefault("history.dsn", "")
	v.SetDefault("server.listen", "")
}

// Load merges, in increasing priority: defaults, the TOML file at path
// (optional), TELENOTIFY_* environment variables and overrides. Override
// keys use the dotted TOML names, e.g. "telegram.chat_id".
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// short aliases for the credentials
	_ = v.BindEnv("telegram.bot_token", EnvPrefix+"_BOT_TOKEN", EnvPrefix+"_TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", EnvPrefix+"_CHAT_ID", EnvPrefix+"_TELEGRAM_CHAT_ID")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// configType picks the viper decoder from the file extension; TOML is the
// default.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	}
	return "toml"
}

// Validate checks value ranges. Credentials are checked by Credentials.
func (c *Config) Validate() error {
	if c.PingTime < 0 || math.IsNaN(c.PingTime) || math.IsInf(c.PingTime, 0) {
		return fmt.Errorf("ping_time must be a non-negative number of minutes, got %v", c.PingTime)
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("send_timeout must not be negative")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	if c.SampleInterval < 0 {
		return fmt.Errorf("sample_interval must not be negative")
	}
	switch c.Slog.Format {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("unknown log format %q", c.Slog.Format)
	}
	return nil
}

// PingInterval converts PingTime minutes into a duration; zero disables pings.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingTime * float64(time.Minute))
}

// LoggerConfig returns the logging section.
func (c *Config) LoggerConfig() logger.Config {
	return c.Config
}

// Credentials resolves the bot token and chat id. Explicit values win over
// the credential files; a file contributes its first line, trimmed.
func (c *Config) Credentials() (Credentials, error) {
	creds := Credentials{APIURL: c.Telegram.APIURL}

	token := strings.TrimSpace(c.Telegram.BotToken)
	if token == "" {
		line, ok, err := ReadFirstLine(c.Telegram.BotTokenFile)
		if err != nil {
			return creds, fmt.Errorf("read bot token file: %w", err)
		}
		if !ok || line == "" {
			return creds, ErrMissingToken
		}
		token = line
	}
	creds.BotToken = token

	chat := strings.TrimSpace(c.Telegram.ChatID)
	if chat == "" {
		line, ok, err := ReadFirstLine(c.Telegram.ChatIDFile)
		if err != nil {
			return creds, fmt.Errorf("read chat id file: %w", err)
		}
		if !ok || line == "" {
			return creds, ErrMissingChatID
		}
		chat = line
	}
	if err := ValidateChatID(chat); err != nil {
		return creds, err
	}
	creds.ChatID = chat
	return creds, nil
}

// ValidateChatID accepts a (possibly negative) integer or an @channel name.
func ValidateChatID(id string) error {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return nil
	}
	if channelName.MatchString(id) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidChatID, id)
}

// ChildEnv returns the extra environment for the child: env_files in order,
// then the env list. Later entries override earlier ones and values may
// reference ${VAR} from earlier entries or the inherited environment.
func (c *Config) ChildEnv() ([]string, error) {
	e := env.New()
	e.FromOS()
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, err
		}
		e.Apply(pairs)
	}
	e.Apply(c.Env)
	return e.List(), nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ReadFirstLine returns the trimmed first line of the file at path. ok is
// false when path is empty or the file does not exist.
func ReadFirstLine(path string) (line string, ok bool, err error) {
	if strings.TrimSpace(path) == "" {
		return "", false, nil
	}
	p, err := ExpandHome(path)
	if err != nil {
		return "", false, err
	}
	b, err := os.ReadFile(filepath.Clean(p))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	first, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(first), true, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	p, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Clean(p))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, strings.TrimSpace(line[:i])+"="+strings.TrimSpace(line[i+1:]))
		}
	}
	return out, nil
}
