package session

import (
	"sync"
	"time"

	"github.com/loykin/telenotify/internal/duration"
)

// Snapshot is a point-in-time view of a session, served by the status server.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Command   []string  `json:"command"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Elapsed   string    `json:"elapsed"`
	Seconds   int64     `json:"elapsed_seconds"`
	Pings     int       `json:"pings"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// Tracker holds the live Snapshot of the current session. It is safe for
// concurrent use; the zero value is ready.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	finished time.Time
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle.String()}}
}

// Snapshot returns a copy with the elapsed time computed up to now, or up
// to the finish time once the session has ended.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	s.Command = append([]string(nil), t.snap.Command...)
	if s.State == "" {
		s.State = StateIdle.String()
	}
	if !s.StartedAt.IsZero() {
		end := t.finished
		if end.IsZero() {
			end = t.clock()
		}
		d := end.Sub(s.StartedAt)
		s.Seconds = int64(d / time.Second)
		s.Elapsed = duration.FormatDuration(d)
	} else {
		s.Elapsed = duration.Zero
	}
	return s
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	fn(&t.snap)
	t.mu.Unlock()
}

func (t *Tracker) setState(s State) {
	t.update(func(snap *Snapshot) { snap.State = s.String() })
}

func (t *Tracker) begin(id, name string, command []string) {
	t.update(func(s *Snapshot) {
		*s = Snapshot{SessionID: id, Name: name, Command: append([]string(nil), command...), State: s.State}
	})
	if t != nil {
		t.mu.Lock()
		t.finished = time.Time{}
		t.mu.Unlock()
	}
}

func (t *Tracker) running(pid int, startedAt time.Time) {
	t.update(func(s *Snapshot) {
		s.PID = pid
		s.StartedAt = startedAt
	})
}

func (t *Tracker) setPings(n int) {
	t.update(func(s *Snapshot) { s.Pings = n })
}

func (t *Tracker) finish(exitCode int, at time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	code := exitCode
	t.snap.ExitCode = &code
	if !t.snap.StartedAt.IsZero() {
		t.finished = at
	}
	t.mu.Unlock()
}
