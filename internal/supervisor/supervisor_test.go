//go:build !windows

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/telenotify/internal/logger"
	"github.com/loykin/telenotify/internal/notifier"
	"github.com/loykin/telenotify/internal/notifier/notifiertest"
	"github.com/loykin/telenotify/internal/process"
)

// syncBuffer is a bytes.Buffer safe for the relay goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newSupervisor(rec *notifiertest.Recorder, interval time.Duration) (*Supervisor, *syncBuffer, *syncBuffer) {
	out, errOut := &syncBuffer{}, &syncBuffer{}
	return &Supervisor{
		Notifier:     notifier.NewBestEffort(rec, time.Second, nil),
		Destination:  "chat",
		PingInterval: interval,
		PingTick:     10 * time.Millisecond,
		Stdout:       out,
		Stderr:       errOut,
	}, out, errOut
}

func sh(script string) process.Spec {
	return process.Spec{Command: []string{"/bin/sh", "-c", script}}
}

func TestRunRelaysBothStreams(t *testing.T) {
	rec := &notifiertest.Recorder{}
	s, out, errOut := newSupervisor(rec, 0)

	res, err := s.Run(context.Background(), sh("echo hello; echo oops 1>&2; echo world"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\nworld\n", out.String())
	assert.Equal(t, "oops\n", errOut.String())
	assert.Equal(t, 2, res.StdoutLines)
	assert.Equal(t, 1, res.StderrLines)
	assert.Zero(t, res.Pings)
	assert.False(t, res.Cancelled)
	assert.Greater(t, res.PID, 0)
	assert.Empty(t, rec.Messages(), "interval 0 never pings")
}

func TestRunReturnsExitCodeAndElapsed(t *testing.T) {
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	res, err := s.Run(context.Background(), sh("sleep 1; exit 1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, int64(1), res.Seconds())
}

func TestRunTwoSecondChild(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	res, err := s.Run(context.Background(), sh("sleep 2"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, int64(2), res.Seconds())
}

func TestRunPingsWhileAlive(t *testing.T) {
	rec := &notifiertest.Recorder{}
	s, _, _ := newSupervisor(rec, 100*time.Millisecond)
	var hooks int
	s.OnPing = func(int) { hooks++ }

	res, err := s.Run(context.Background(), sh("sleep 0.55"))
	require.NoError(t, err)
	assert.InDelta(t, 5, res.Pings, 1)
	assert.Len(t, rec.Messages(), res.Pings, "every ping was sent before Run returned")
	assert.Equal(t, res.Pings, hooks)
}

func TestRunCustomPingMessage(t *testing.T) {
	rec := &notifiertest.Recorder{}
	s, _, _ := newSupervisor(rec, 50*time.Millisecond)
	s.PingMessage = func(elapsed string) string { return "tick " + elapsed }

	res, err := s.Run(context.Background(), sh("sleep 0.2"))
	require.NoError(t, err)
	require.NotZero(t, res.Pings)
	assert.Equal(t, "tick 0s", rec.Texts()[0])
}

func TestRunLaunchFailure(t *testing.T) {
	rec := &notifiertest.Recorder{}
	s, _, _ := newSupervisor(rec, 10*time.Millisecond)
	started := false
	s.OnStart = func(*process.Process) { started = true }

	_, err := s.Run(context.Background(), process.Spec{Command: []string{"telenotify-missing-binary"}})
	var le *LaunchError
	require.True(t, errors.As(err, &le), "got %v", err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Equal(t, []string{"telenotify-missing-binary"}, le.Command)
	assert.False(t, started)
	assert.Empty(t, rec.Messages())
}

func TestRunOnStartHook(t *testing.T) {
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	var pid int
	s.OnStart = func(p *process.Process) { pid = p.PID() }
	res, err := s.Run(context.Background(), sh("true"))
	require.NoError(t, err)
	assert.Equal(t, res.PID, pid)
}

func TestRunCancelTerminatesChild(t *testing.T) {
	rec := &notifiertest.Recorder{}
	s, _, _ := newSupervisor(rec, 20*time.Millisecond)
	s.GracePeriod = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	start := time.Now()
	res, err := s.Run(ctx, sh("sleep 30 & sleep 30; wait"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 128+int(syscall.SIGTERM), res.ExitCode)
}

func TestRunCancelEscalatesToKill(t *testing.T) {
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	s.GracePeriod = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := s.Run(ctx, sh("trap '' TERM; sleep 30"))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 128+int(syscall.SIGKILL), res.ExitCode)
}

func TestRunCancelAfterStreamsClosed(t *testing.T) {
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	s.GracePeriod = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	res, err := s.Run(ctx, sh("exec >&- 2>&-; sleep 5"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 128+int(syscall.SIGTERM), res.ExitCode)
}

func TestRunCancelAfterStreamsClosedEscalates(t *testing.T) {
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	s.GracePeriod = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	res, err := s.Run(ctx, sh("trap '' TERM; exec >&- 2>&-; sleep 5"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 128+int(syscall.SIGKILL), res.ExitCode)
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	started := false
	s.OnStart = func(*process.Process) { started = true }

	res, err := s.Run(ctx, sh("echo never"))
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.False(t, started)
}

func TestRunCapturesOutputToFiles(t *testing.T) {
	dir := t.TempDir()
	s, out, _ := newSupervisor(&notifiertest.Recorder{}, 0)
	s.Capture = logger.FileConfig{Dir: dir}

	_, err := s.Run(context.Background(), process.Spec{
		Name:    "job",
		Command: []string{"/bin/sh", "-c", "echo captured; echo bad 1>&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "captured\n", out.String())

	b, err := os.ReadFile(filepath.Join(dir, "job.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "captured\n", string(b))
	b, err = os.ReadFile(filepath.Join(dir, "job.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "bad\n", string(b))
}

func TestLaunchErrorMessage(t *testing.T) {
	e := &LaunchError{Command: []string{"foo", "bar"}, Err: errors.New("nope")}
	assert.Equal(t, `launch "foo bar": nope`, e.Error())
	assert.Equal(t, "nope", errors.Unwrap(e).Error())
}
