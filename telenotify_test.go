package telenotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/telenotify/internal/notifier/notifiertest"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestRunWithCustomNotifier(t *testing.T) {
	requireUnix(t)
	rec := &notifiertest.Recorder{}
	var out bytes.Buffer
	tracker := NewTracker()

	code, err := Run(context.Background(), Options{
		Command:  []string{"/bin/sh", "-c", "echo $GREETING"},
		Env:      []string{"GREETING=hi"},
		Notifier: rec,
		Stdout:   &out,
		Stderr:   io.Discard,
		Tracker:  tracker,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hi\n", out.String())
	assert.Len(t, rec.Messages(), 2)
	assert.Equal(t, "succeeded", tracker.Snapshot().State)
}

func TestRunRequiresCredentials(t *testing.T) {
	code, err := Run(context.Background(), Options{Command: []string{"true"}})
	assert.Equal(t, ExitLaunchFailed, code)
	assert.ErrorIs(t, err, ErrMissingToken)

	code, err = Run(context.Background(), Options{Command: []string{"true"}, BotToken: "t"})
	assert.Equal(t, ExitLaunchFailed, code)
	assert.ErrorIs(t, err, ErrMissingChatID)
}

func TestRunOverTelegramAPI(t *testing.T) {
	requireUnix(t)
	var mu sync.Mutex
	var texts []string
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID    string `json:"chat_id"`
			Text      string `json:"text"`
			ParseMode string `json:"parse_mode"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		texts = append(texts, body.Text)
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	code, err := Run(context.Background(), Options{
		Command:     []string{"/bin/sh", "-c", "exit 4"},
		Name:        "nightly",
		BotToken:    "123:abc",
		ChatID:      "99",
		APIURL:      srv.URL,
		SendTimeout: time.Second,
		Stdout:      io.Discard,
		Stderr:      io.Discard,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, code)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "`nightly`\n\nStarting process\\! 🤖")
	assert.Contains(t, texts[1], "ERROR\\! 😰 \\(exit code 4\\)")
	for _, p := range paths {
		assert.Equal(t, "/bot123:abc/sendMessage", p)
	}
}

func TestRunCancelledUsesFactory(t *testing.T) {
	requireUnix(t)
	rec := &notifiertest.Recorder{}
	fresh := &notifiertest.Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	code, err := Run(ctx, Options{
		Command:         []string{"sleep", "30"},
		Notifier:        rec,
		NotifierFactory: func() (Notifier, error) { return fresh, nil },
		GracePeriod:     time.Second,
		Stdout:          io.Discard,
		Stderr:          io.Discard,
	})
	assert.Equal(t, ExitCancelled, code)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, 1, fresh.Count("Cancelled"))
}

func TestFormatDuration(t *testing.T) {
	s, err := FormatDuration(3725)
	require.NoError(t, err)
	assert.Equal(t, "01h 02m 05s", s)
}

func TestLogNotifier(t *testing.T) {
	n := LogNotifier(nil)
	assert.NoError(t, n.Send(context.Background(), "1", "x"))
}

func TestNewHistorySinkSQLite(t *testing.T) {
	sink, err := NewHistorySink("sqlite://:memory:")
	require.NoError(t, err)
	require.NotNil(t, sink)
	if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}
}

func TestStatusServerAndMetrics(t *testing.T) {
	require.NoError(t, RegisterMetricsDefault())
	require.NoError(t, RegisterMetricsDefault())

	srv, err := NewStatusServer("127.0.0.1:0", "", NewTracker())
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "telenotify_session_starts_total")
}
