package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultTelegramURL is the public Bot API endpoint.
const DefaultTelegramURL = "https://api.telegram.org"

// headerTimeLayout matches the timestamp shown above every message.
const headerTimeLayout = "Jan 02 2006 15:04:05"

// Telegram sends messages through the Bot API sendMessage method.
// Every message gets an italic header with the local time and host name and
// is sent with MarkdownV2 parse mode, so text must already be escaped.
type Telegram struct {
	Token     string
	BaseURL   string
	ParseMode string
	Hostname  string
	Client    *http.Client
	Now       func() time.Time
}

// NewTelegram creates a transport with its own HTTP client. baseURL may be
// empty to use DefaultTelegramURL.
func NewTelegram(token, baseURL string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Telegram{
		Token:     token,
		BaseURL:   strings.TrimRight(baseURL, "/"),
		ParseMode: "MarkdownV2",
		Hostname:  host,
		Client:    &http.Client{Timeout: timeout},
		Now:       time.Now,
	}
}

// TelegramFactory returns a Factory producing independent transports.
func TelegramFactory(token, baseURL string, timeout time.Duration) Factory {
	return func() (Notifier, error) {
		if token == "" {
			return nil, fmt.Errorf("telegram: empty bot token")
		}
		return NewTelegram(token, baseURL, timeout), nil
	}
}

// APIError is a non-successful Bot API response.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram: status %d", e.StatusCode)
	}
	return fmt.Sprintf("telegram: status %d: %s", e.StatusCode, e.Description)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, destination, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    destination,
		Text:      t.header() + "\n" + text,
		ParseMode: t.ParseMode,
	})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		// the request URL embeds the token; never surface it
		return redact(err, t.Token)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var ar apiResponse
	_ = json.Unmarshal(raw, &ar)
	if resp.StatusCode >= 300 || !ar.OK {
		return &APIError{StatusCode: resp.StatusCode, Description: ar.Description}
	}
	return nil
}

func (t *Telegram) header() string {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now().Format(headerTimeLayout)
	if t.ParseMode != "MarkdownV2" {
		return ts + " - " + t.Hostname
	}
	return "_" + EscapeMarkdownV2(ts) + " \\- *" + EscapeMarkdownV2(t.Hostname) + "*_"
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<redacted>"), err: err}
}

// markdownV2Special lists the characters that must be escaped outside of
// code spans in MarkdownV2.
const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 escapes s for use as plain MarkdownV2 text.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CodeSpan renders s as an inline MarkdownV2 code span.
func CodeSpan(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "`" + r.Replace(s) + "`"
}
